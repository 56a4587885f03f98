package jobs

import (
	"context"
	"time"
)

// Store persists observed job states so unfinished jobs can be resumed after a restart.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	// PruneTerminal removes terminal jobs last updated before the cutoff and returns their ids.
	PruneTerminal(ctx context.Context, before time.Time) ([]string, error)
}
