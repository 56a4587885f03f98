package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryStore) PruneTerminal(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make([]string, 0)
	for id, j := range m.jobs {
		if j.IsDone() && j.UpdatedAt.Before(before) {
			delete(m.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (m *memoryStore) get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

func TestTracker_RecordsUpdatesAndPersists(t *testing.T) {
	store := newMemoryStore()
	tr := NewTracker(store)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tr.Observe(Update{Type: UpdateSubmitted, Job: Job{ID: "j1", Kind: KindTextToSpeech, Status: StatusPending, CreatedAt: created, UpdatedAt: created}})
	tr.Observe(Update{Type: UpdatePollError, Job: Job{ID: "j1", Status: StatusFailed}})
	tr.Observe(Update{Type: UpdateCompleted, Job: Job{ID: "j1", Kind: KindTextToSpeech, Status: StatusCompleted, ResultRef: "f1", UpdatedAt: created.Add(time.Minute)}})

	got, ok := tr.Get("j1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "f1", got.ResultRef)
	assert.Equal(t, created, got.CreatedAt)

	stored, ok := store.get("j1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestTracker_HydratesUnfinishedJobs(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["ingest-1"] = &Job{ID: "ingest-1", Kind: KindDocumentIngest, Status: StatusProcessing, CreatedAt: now}
	store.jobs["tts-1"] = &Job{ID: "tts-1", Kind: KindTextToSpeech, Status: StatusCompleted, CreatedAt: now.Add(-time.Hour)}

	tr := NewTracker(store)

	all := tr.List()
	require.Len(t, all, 2)
	assert.Equal(t, "ingest-1", all[0].ID)

	unfinished := tr.Unfinished()
	require.Len(t, unfinished, 1)
	assert.Equal(t, "ingest-1", unfinished[0].ID)
}

func TestTracker_PruneRemovesOldTerminalJobs(t *testing.T) {
	store := newMemoryStore()
	tr := NewTracker(store)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	tr.Observe(Update{Type: UpdateCompleted, Job: Job{ID: "old-done", Status: StatusCompleted, UpdatedAt: old}})
	tr.Observe(Update{Type: UpdateFailed, Job: Job{ID: "old-failed", Status: StatusFailed, UpdatedAt: old}})
	tr.Observe(Update{Type: UpdateStatus, Job: Job{ID: "old-running", Status: StatusProcessing, UpdatedAt: old}})
	tr.Observe(Update{Type: UpdateCompleted, Job: Job{ID: "new-done", Status: StatusCompleted, UpdatedAt: recent}})

	removed, err := tr.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old-done", "old-failed"}, removed)

	_, ok := tr.Get("old-running")
	assert.True(t, ok)
	_, ok = tr.Get("new-done")
	assert.True(t, ok)
	_, ok = store.get("old-done")
	assert.False(t, ok)
}

func TestTracker_CapsTerminalJobs(t *testing.T) {
	tr := NewTracker(nil)
	tr.maxJobs = 2
	base := time.Now()

	tr.Observe(Update{Type: UpdateStatus, Job: Job{ID: "running", Status: StatusProcessing, UpdatedAt: base}})
	tr.Observe(Update{Type: UpdateCompleted, Job: Job{ID: "first", Status: StatusCompleted, UpdatedAt: base.Add(time.Second)}})
	tr.Observe(Update{Type: UpdateCompleted, Job: Job{ID: "second", Status: StatusCompleted, UpdatedAt: base.Add(2 * time.Second)}})

	_, ok := tr.Get("first")
	assert.False(t, ok)
	_, ok = tr.Get("running")
	assert.True(t, ok)
	_, ok = tr.Get("second")
	assert.True(t, ok)
}

func TestParseStatus(t *testing.T) {
	got, ok := ParseStatus(" Completed ")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got)

	_, ok = ParseStatus("queued")
	assert.False(t, ok)
}
