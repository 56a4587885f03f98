package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/stories-now/pkg/log"
)

const defaultMaxJobs = 1000

// Tracker records every job it observes and mirrors it into an optional Store.
// Jobs left unfinished by a previous process are loaded at construction so they can be resumed.
type Tracker struct {
	maxJobs int
	store   Store

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewTracker(store Store) *Tracker {
	t := &Tracker{
		maxJobs: defaultMaxJobs,
		store:   store,
		jobs:    make(map[string]*Job),
	}
	t.hydrateFromStore(context.Background())
	return t
}

// Observe implements Observer.
func (t *Tracker) Observe(u Update) {
	if u.Type == UpdatePollError || u.Job.ID == "" {
		return
	}

	t.mu.Lock()
	job := cloneJob(&u.Job)
	if existing, ok := t.jobs[job.ID]; ok && !existing.CreatedAt.IsZero() {
		job.CreatedAt = existing.CreatedAt
	}
	t.jobs[job.ID] = job
	var pruned []string
	if job.IsDone() {
		pruned = t.pruneTerminalJobsLocked()
	}
	snapshot := cloneJob(job)
	t.mu.Unlock()

	t.persistJob(snapshot)
	t.deleteJobsFromStore(pruned)
}

func (t *Tracker) Get(id string) (*Job, bool) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns all known jobs, newest first.
func (t *Tracker) List() []*Job {
	t.mu.RLock()
	ret := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		ret = append(ret, cloneJob(job))
	}
	t.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Unfinished returns jobs that have not reached a terminal state.
func (t *Tracker) Unfinished() []*Job {
	all := t.List()
	ret := make([]*Job, 0, len(all))
	for _, job := range all {
		if !job.IsDone() {
			ret = append(ret, job)
		}
	}
	return ret
}

// Prune drops terminal jobs last updated before the cutoff.
func (t *Tracker) Prune(ctx context.Context, before time.Time) ([]string, error) {
	t.mu.Lock()
	removed := make([]string, 0)
	for id, job := range t.jobs {
		if job.IsDone() && job.UpdatedAt.Before(before) {
			delete(t.jobs, id)
			removed = append(removed, id)
		}
	}
	t.mu.Unlock()

	if t.store == nil {
		sort.Strings(removed)
		return removed, nil
	}

	fromStore, err := t.store.PruneTerminal(ctx, before)
	if err != nil {
		return removed, err
	}
	seen := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		seen[id] = struct{}{}
	}
	for _, id := range fromStore {
		if _, ok := seen[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (t *Tracker) pruneTerminalJobsLocked() []string {
	if t.maxJobs <= 0 || len(t.jobs) <= t.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(t.jobs))
	for id, job := range t.jobs {
		if job == nil || !job.IsDone() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(t.jobs)-t.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		delete(t.jobs, terminal[i].id)
		pruned = append(pruned, terminal[i].id)
	}
	return pruned
}

func (t *Tracker) deleteJobsFromStore(ids []string) {
	if t.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := t.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

func (t *Tracker) hydrateFromStore(ctx context.Context) {
	if t.store == nil {
		return
	}
	loaded, err := t.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		t.jobs[raw.ID] = cloneJob(raw)
	}
}

func (t *Tracker) persistJob(job *Job) {
	if t.store == nil || job == nil {
		return
	}
	if err := t.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}
