package jobs

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrJobFailed is returned by Handle.Wait when the backend reports failure.
	ErrJobFailed = errors.New("job failed")
	// ErrJobCancelled is returned by Handle.Wait when polling was cancelled before a terminal state.
	ErrJobCancelled = errors.New("job polling cancelled")
	// ErrPollTimeout marks a job abandoned after Spec.MaxWait without a terminal state.
	ErrPollTimeout = errors.New("gave up waiting for job")
	// ErrGroupClosed is returned when starting a job on a closed Group.
	ErrGroupClosed = errors.New("job group closed")
)

type Kind string

const (
	KindDocumentIngest  Kind = "document-ingest"
	KindTextToSpeech    Kind = "text-to-speech"
	KindChapterToSpeech Kind = "chapter-to-speech"
	KindChunkToSpeech   Kind = "chunk-to-speech"
)

// Status is backend-owned; the client only observes it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// ParseStatus maps a wire value onto a known Status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusProcessing:
		return StatusProcessing, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// Job is the client-side view of one asynchronous unit of backend work.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Label     string    `json:"label,omitempty"`
	Status    Status    `json:"status"`
	ResultRef string    `json:"result_ref,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDone reports whether the job reached a terminal state.
func (j *Job) IsDone() bool {
	return j.Status.IsTerminal()
}

// Report is one answer from a status endpoint.
type Report struct {
	Status    Status
	ResultRef string
	Error     string
}

type UpdateType string

const (
	UpdateSubmitted UpdateType = "submitted"
	UpdateStatus    UpdateType = "status"
	UpdateCompleted UpdateType = "completed"
	UpdateFailed    UpdateType = "failed"
	UpdateCancelled UpdateType = "cancelled"
	UpdatePollError UpdateType = "poll-error"
	// UpdateStopped means a status error ended polling; the job itself is unfinished.
	UpdateStopped UpdateType = "stopped"
)

// Update is delivered to observers as a job progresses.
// Completed and Failed are each delivered at most once per job, and never both.
type Update struct {
	Type UpdateType
	Job  Job
	Err  error
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
