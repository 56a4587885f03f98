package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/internal/jobs/jobstest"
)

func TestGroup_CloseStopsAllPollers(t *testing.T) {
	g := jobs.NewGroup(context.Background())
	clock := jobstest.NewClock(time.Now())
	rec := &recorder{}

	pending := func(context.Context, string) (jobs.Report, error) {
		return jobs.Report{Status: jobs.StatusProcessing}, nil
	}
	h1, err := g.Start(jobs.Spec{Kind: jobs.KindTextToSpeech, Submit: submitID("a"), Status: pending, Clock: clock, Observer: rec})
	require.NoError(t, err)
	h2, err := g.Start(jobs.Spec{Kind: jobs.KindDocumentIngest, Submit: submitID("b"), Status: pending, Clock: clock, Observer: rec})
	require.NoError(t, err)

	handles := g.Handles()
	require.Len(t, handles, 2)
	assert.Equal(t, "a", handles[0].JobID())
	assert.Equal(t, "b", handles[1].JobID())

	got, ok := g.Get("b")
	require.True(t, ok)
	assert.Same(t, h2, got)

	g.Close()

	for _, h := range []*jobs.Handle{h1, h2} {
		select {
		case <-h.Done():
		default:
			t.Fatalf("job %s still polling after Close", h.JobID())
		}
	}
	assert.Equal(t, 2, rec.count(jobs.UpdateCancelled))
	assert.Error(t, g.Context().Err())

	_, err = g.Start(jobs.Spec{Kind: jobs.KindTextToSpeech, Submit: submitID("c"), Status: pending, Clock: clock})
	assert.ErrorIs(t, err, jobs.ErrGroupClosed)

	g.Close()
}

func TestGroup_ForgetsStoppedPollers(t *testing.T) {
	g := jobs.NewGroup(context.Background())
	t.Cleanup(g.Close)
	quickClock := jobstest.NewClock(time.Now())
	clock := jobstest.NewClock(time.Now())

	done := func(context.Context, string) (jobs.Report, error) {
		return jobs.Report{Status: jobs.StatusCompleted, ResultRef: "f1"}, nil
	}
	pending := func(context.Context, string) (jobs.Report, error) {
		return jobs.Report{Status: jobs.StatusProcessing}, nil
	}
	quick, err := g.Start(jobs.Spec{Kind: jobs.KindTextToSpeech, Submit: submitID("a"), Status: done, Clock: quickClock})
	require.NoError(t, err)
	slow, err := g.Start(jobs.Spec{Kind: jobs.KindTextToSpeech, Submit: submitID("b"), Status: pending, Clock: clock})
	require.NoError(t, err)
	cancelled, err := g.Start(jobs.Spec{Kind: jobs.KindTextToSpeech, Submit: submitID("c"), Status: pending, Clock: clock})
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		_, ok := g.Get(id)
		require.True(t, ok, id)
	}

	ticker := quickClock.Ticker(0, waitTimeout)
	require.NotNil(t, ticker)
	require.True(t, ticker.Fire(waitTimeout))
	cancelled.Cancel()
	_, err = quick.Wait(context.Background())
	require.NoError(t, err)
	<-cancelled.Done()

	require.Eventually(t, func() bool {
		_, okA := g.Get("a")
		_, okC := g.Get("c")
		return !okA && !okC
	}, waitTimeout, time.Millisecond)

	handles := g.Handles()
	require.Len(t, handles, 1)
	assert.Same(t, slow, handles[0])
	got, ok := g.Get("b")
	require.True(t, ok)
	assert.Same(t, slow, got)
}
