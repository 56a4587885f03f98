package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/internal/jobs/jobstest"
)

const waitTimeout = 2 * time.Second

type recorder struct {
	mu      sync.Mutex
	updates []jobs.Update
}

func (r *recorder) Observe(u jobs.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) count(kind jobs.UpdateType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Type == kind {
			n++
		}
	}
	return n
}

func (r *recorder) types() []jobs.UpdateType {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]jobs.UpdateType, 0, len(r.updates))
	for _, u := range r.updates {
		ret = append(ret, u.Type)
	}
	return ret
}

// scripted answers status queries from a fixed sequence, repeating the last entry.
type scripted struct {
	calls   atomic.Int32
	reports []jobs.Report
	errs    []error
}

func (s *scripted) status(_ context.Context, _ string) (jobs.Report, error) {
	i := int(s.calls.Add(1)) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return jobs.Report{}, s.errs[i]
	}
	if i >= len(s.reports) {
		i = len(s.reports) - 1
	}
	return s.reports[i], nil
}

func submitID(id string) jobs.SubmitFunc {
	return func(context.Context) (string, error) { return id, nil }
}

func startWithClock(t *testing.T, ctx context.Context, spec jobs.Spec) (*jobs.Handle, *jobstest.Ticker) {
	t.Helper()
	clock := jobstest.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	spec.Clock = clock
	if spec.Interval == 0 {
		spec.Interval = 2 * time.Second
	}
	h, err := jobs.Start(ctx, spec)
	require.NoError(t, err)
	ticker := clock.Ticker(0, waitTimeout)
	require.NotNil(t, ticker)
	return h, ticker
}

func TestStart_PollsUntilCompleted(t *testing.T) {
	script := &scripted{reports: []jobs.Report{
		{Status: jobs.StatusProcessing},
		{Status: jobs.StatusProcessing},
		{Status: jobs.StatusCompleted, ResultRef: "f1"},
	}}
	rec := &recorder{}

	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:     jobs.KindTextToSpeech,
		Submit:   submitID("t1"),
		Status:   script.status,
		Observer: rec,
	})

	for i := 0; i < 3; i++ {
		require.True(t, ticker.Fire(waitTimeout), "tick %d", i)
	}

	job, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", job.ID)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, "f1", job.ResultRef)
	assert.Equal(t, int32(3), script.calls.Load())

	assert.False(t, ticker.Fire(50*time.Millisecond), "no ticks are consumed after a terminal state")
	assert.Equal(t, int32(3), script.calls.Load())

	assert.Equal(t, []jobs.UpdateType{
		jobs.UpdateSubmitted,
		jobs.UpdateStatus,
		jobs.UpdateCompleted,
	}, rec.types())
	assert.Equal(t, 0, rec.count(jobs.UpdateFailed))
}

func TestStart_FailedJobReportsOnce(t *testing.T) {
	script := &scripted{reports: []jobs.Report{
		{Status: jobs.StatusPending},
		{Status: jobs.StatusProcessing},
		{Status: jobs.StatusFailed, Error: "engine crashed"},
	}}
	rec := &recorder{}

	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:     jobs.KindChapterToSpeech,
		Submit:   submitID("t2"),
		Status:   script.status,
		Observer: rec,
	})
	for i := 0; i < 3; i++ {
		require.True(t, ticker.Fire(waitTimeout))
	}

	job, err := h.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrJobFailed)
	assert.Contains(t, err.Error(), "engine crashed")
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Empty(t, job.ResultRef)
	assert.Equal(t, "engine crashed", job.Error)

	assert.Equal(t, 1, rec.count(jobs.UpdateFailed))
	assert.Equal(t, 0, rec.count(jobs.UpdateCompleted))
}

func TestStart_SubmitFailureDoesNotPoll(t *testing.T) {
	var polled atomic.Bool
	rec := &recorder{}

	h, err := jobs.Start(context.Background(), jobs.Spec{
		Kind: jobs.KindDocumentIngest,
		Submit: func(context.Context) (string, error) {
			return "", errors.New("file too large")
		},
		Status: func(context.Context, string) (jobs.Report, error) {
			polled.Store(true)
			return jobs.Report{}, nil
		},
		Observer: rec,
		Clock:    jobstest.NewClock(time.Now()),
	})

	require.Error(t, err)
	assert.Nil(t, h)
	assert.Contains(t, err.Error(), "file too large")
	assert.False(t, polled.Load())
	assert.Empty(t, rec.types())
}

func TestStart_EmptyJobIDIsRejected(t *testing.T) {
	_, err := jobs.Start(context.Background(), jobs.Spec{
		Kind:   jobs.KindTextToSpeech,
		Submit: submitID(" "),
		Status: func(context.Context, string) (jobs.Report, error) { return jobs.Report{}, nil },
	})
	require.Error(t, err)
}

func TestStart_RequiresStatusFunc(t *testing.T) {
	_, err := jobs.Start(context.Background(), jobs.Spec{Submit: submitID("x")})
	require.Error(t, err)
}

func TestStart_PollErrorIsTransient(t *testing.T) {
	script := &scripted{
		reports: []jobs.Report{
			{},
			{Status: jobs.StatusCompleted, ResultRef: "audio-7"},
		},
		errs: []error{errors.New("connection reset")},
	}
	rec := &recorder{}

	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:     jobs.KindTextToSpeech,
		Submit:   submitID("t3"),
		Status:   script.status,
		Observer: rec,
	})
	require.True(t, ticker.Fire(waitTimeout))
	require.True(t, ticker.Fire(waitTimeout))

	job, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "audio-7", job.ResultRef)
	assert.Equal(t, 1, rec.count(jobs.UpdatePollError))
	assert.Equal(t, 1, rec.count(jobs.UpdateCompleted))
}

func TestStart_FatalStatusErrorStopsPolling(t *testing.T) {
	errRejected := errors.New("session rejected")
	script := &scripted{
		reports: []jobs.Report{{Status: jobs.StatusProcessing}, {}},
		errs:    []error{nil, errRejected},
	}
	rec := &recorder{}

	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:     jobs.KindTextToSpeech,
		Submit:   submitID("t4"),
		Status:   script.status,
		Observer: rec,
		Fatal:    func(err error) bool { return errors.Is(err, errRejected) },
		MaxWait:  time.Hour,
	})
	require.True(t, ticker.Fire(waitTimeout))
	require.True(t, ticker.Fire(waitTimeout))

	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		t.Fatal("poller kept running after a fatal status error")
	}
	job, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, errRejected)
	assert.NotErrorIs(t, err, jobs.ErrJobFailed)
	assert.Equal(t, jobs.StatusProcessing, job.Status)
	assert.False(t, job.Status.IsTerminal())

	assert.False(t, ticker.Fire(50*time.Millisecond))
	assert.Equal(t, int32(2), script.calls.Load())
	assert.Equal(t, 1, rec.count(jobs.UpdateStopped))
	assert.Zero(t, rec.count(jobs.UpdatePollError))
	assert.Zero(t, rec.count(jobs.UpdateFailed))
}

func TestStart_GivesUpAfterMaxWait(t *testing.T) {
	script := &scripted{reports: []jobs.Report{{Status: jobs.StatusProcessing}}}
	rec := &recorder{}
	clock := jobstest.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	h, err := jobs.Start(context.Background(), jobs.Spec{
		Kind:     jobs.KindDocumentIngest,
		Submit:   submitID("d1"),
		Status:   script.status,
		Interval: time.Second,
		MaxWait:  5 * time.Second,
		Clock:    clock,
		Observer: rec,
	})
	require.NoError(t, err)
	ticker := clock.Ticker(0, waitTimeout)
	require.NotNil(t, ticker)

	require.True(t, ticker.Fire(waitTimeout))
	clock.Advance(10 * time.Second)
	require.True(t, ticker.Fire(waitTimeout))

	job, err := h.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrPollTimeout)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, int32(1), script.calls.Load())
	assert.Equal(t, 1, rec.count(jobs.UpdateFailed))
}

func TestHandle_CancelStopsPolling(t *testing.T) {
	script := &scripted{reports: []jobs.Report{{Status: jobs.StatusProcessing}}}
	rec := &recorder{}

	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:     jobs.KindTextToSpeech,
		Submit:   submitID("t4"),
		Status:   script.status,
		Observer: rec,
	})
	require.True(t, ticker.Fire(waitTimeout))
	h.Cancel()

	job, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, jobs.ErrJobCancelled)
	assert.Equal(t, jobs.StatusProcessing, job.Status)

	select {
	case <-ticker.Stopped():
	case <-time.After(waitTimeout):
		t.Fatal("ticker was not stopped")
	}
	assert.False(t, ticker.Fire(50*time.Millisecond))
	assert.Equal(t, int32(1), script.calls.Load())
	assert.Equal(t, 1, rec.count(jobs.UpdateCancelled))
	assert.Equal(t, 0, rec.count(jobs.UpdateFailed))
	assert.Equal(t, 0, rec.count(jobs.UpdateCompleted))
}

func TestHandle_ContextCancelStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	script := &scripted{reports: []jobs.Report{{Status: jobs.StatusPending}}}

	h, _ := startWithClock(t, ctx, jobs.Spec{
		Kind:   jobs.KindChunkToSpeech,
		Submit: submitID("t5"),
		Status: script.status,
	})
	cancel()

	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		t.Fatal("poller did not stop")
	}
	_, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, jobs.ErrJobCancelled)
	assert.Equal(t, int32(0), script.calls.Load())
}

func TestStart_IndependentJobs(t *testing.T) {
	first := &scripted{reports: []jobs.Report{{Status: jobs.StatusProcessing}}}
	second := &scripted{reports: []jobs.Report{
		{Status: jobs.StatusProcessing},
		{Status: jobs.StatusCompleted, ResultRef: "f2"},
	}}

	h1, t1 := startWithClock(t, context.Background(), jobs.Spec{
		Kind: jobs.KindTextToSpeech, Submit: submitID("a"), Status: first.status,
	})
	h2, t2 := startWithClock(t, context.Background(), jobs.Spec{
		Kind: jobs.KindTextToSpeech, Submit: submitID("b"), Status: second.status,
	})

	require.True(t, t1.Fire(waitTimeout))
	h1.Cancel()
	<-h1.Done()

	require.True(t, t2.Fire(waitTimeout))
	require.True(t, t2.Fire(waitTimeout))
	job, err := h2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f2", job.ResultRef)
	assert.Equal(t, int32(1), first.calls.Load())
}

func TestStart_ResumesExistingJob(t *testing.T) {
	script := &scripted{reports: []jobs.Report{{Status: jobs.StatusCompleted, ResultRef: "doc-9"}}}

	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:   jobs.KindDocumentIngest,
		JobID:  "ingest-9",
		Status: script.status,
	})
	require.True(t, ticker.Fire(waitTimeout))

	job, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ingest-9", job.ID)
	assert.Equal(t, "doc-9", job.ResultRef)
}

func TestStart_CustomTerminalPredicate(t *testing.T) {
	script := &scripted{reports: []jobs.Report{
		{Status: jobs.StatusProcessing},
		{Status: jobs.StatusCompleted, ResultRef: "r"},
	}}
	h, ticker := startWithClock(t, context.Background(), jobs.Spec{
		Kind:   jobs.KindTextToSpeech,
		Submit: submitID("t6"),
		Status: script.status,
		Terminal: func(s jobs.Status) bool {
			return s == jobs.StatusCompleted
		},
	})
	require.True(t, ticker.Fire(waitTimeout))
	require.True(t, ticker.Fire(waitTimeout))

	_, err := h.Wait(context.Background())
	require.NoError(t, err)
}
