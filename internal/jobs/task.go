package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/stories-now/pkg/log"
)

// DefaultInterval is used when a Spec leaves Interval unset.
const DefaultInterval = 2 * time.Second

// SubmitFunc creates exactly one backend job and returns its identifier.
type SubmitFunc func(ctx context.Context) (string, error)

// StatusFunc queries the status endpoint once.
type StatusFunc func(ctx context.Context, jobID string) (Report, error)

// TerminalFunc decides when polling stops.
type TerminalFunc func(Status) bool

// Spec configures one submit-then-poll task.
type Spec struct {
	Kind  Kind
	Label string

	Submit SubmitFunc
	Status StatusFunc

	Interval time.Duration
	Terminal TerminalFunc
	// MaxWait bounds the total polling time; zero polls until a terminal state.
	MaxWait time.Duration

	Clock    Clock
	Observer Observer

	// Fatal marks status errors that end polling instead of being retried,
	// e.g. a rejected session. The job is left unfinished so it can be resumed.
	Fatal func(error) bool

	// JobID resumes polling an already submitted job when Submit is nil.
	JobID string
}

func (s Spec) validate() error {
	if s.Status == nil {
		return fmt.Errorf("status func is required")
	}
	if s.Submit == nil && strings.TrimSpace(s.JobID) == "" {
		return fmt.Errorf("either submit func or job id is required")
	}
	if s.Interval < 0 || s.MaxWait < 0 {
		return fmt.Errorf("interval and max wait must not be negative")
	}
	return nil
}

func (s Spec) withDefaults() Spec {
	if s.Interval == 0 {
		s.Interval = DefaultInterval
	}
	if s.Terminal == nil {
		s.Terminal = Status.IsTerminal
	}
	if s.Clock == nil {
		s.Clock = RealClock
	}
	return s
}

// Handle tracks one running poller.
type Handle struct {
	spec   Spec
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.RWMutex
	job Job
	err error
}

// Start submits the job and begins polling it in the background.
// A submit failure is returned directly and no polling starts.
// Cancelling ctx stops the poller, as does Handle.Cancel.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()

	jobID := spec.JobID
	if spec.Submit != nil {
		id, err := spec.Submit(ctx)
		if err != nil {
			return nil, fmt.Errorf("submit %s job: %w", spec.Kind, err)
		}
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("submit %s job: backend returned an empty id", spec.Kind)
		}
		jobID = id
	}

	now := spec.Clock.Now()
	pollCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		spec:   spec,
		cancel: cancel,
		done:   make(chan struct{}),
		job: Job{
			ID:        jobID,
			Kind:      spec.Kind,
			Label:     spec.Label,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	log.Debug("Polling %s job %s every %s", spec.Kind, jobID, spec.Interval)
	h.emit(UpdateSubmitted, nil)

	go h.run(pollCtx)
	return h, nil
}

func (h *Handle) JobID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job.ID
}

// Job returns a snapshot of the observed job state.
func (h *Handle) Job() Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job
}

// Cancel stops polling. It does not touch the backend job.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the poller has stopped for any reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the poller stops or ctx ends.
// It returns nil only when the job completed.
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return h.Job(), ctx.Err()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job, h.err
}

func (h *Handle) run(ctx context.Context) {
	ticker := h.spec.Clock.NewTicker(h.spec.Interval)
	defer close(h.done)
	defer h.cancel()
	defer ticker.Stop()

	started := h.spec.Clock.Now()
	jobID := h.JobID()

	for {
		select {
		case <-ctx.Done():
			h.stopCancelled()
			return
		case <-ticker.C():
		}
		if ctx.Err() != nil {
			h.stopCancelled()
			return
		}

		if h.spec.MaxWait > 0 && h.spec.Clock.Now().Sub(started) >= h.spec.MaxWait {
			log.Warn("Giving up on %s job %s after %s", h.spec.Kind, jobID, h.spec.MaxWait)
			h.finish(StatusFailed, "", ErrPollTimeout.Error(), UpdateFailed, fmt.Errorf("%w after %s", ErrPollTimeout, h.spec.MaxWait))
			return
		}

		report, err := h.spec.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				h.stopCancelled()
				return
			}
			if h.spec.Fatal != nil && h.spec.Fatal(err) {
				h.stopFatal(err)
				return
			}
			// A flaky read is not a job failure; try again next tick.
			log.Warn("Status check for %s job %s failed: %v", h.spec.Kind, jobID, err)
			h.emit(UpdatePollError, err)
			continue
		}

		if h.observe(report) {
			return
		}
	}
}

// observe applies one report and reports whether polling should stop.
func (h *Handle) observe(report Report) bool {
	if _, ok := ParseStatus(string(report.Status)); !ok {
		log.Warn("Ignoring unknown status %q for %s job %s", report.Status, h.spec.Kind, h.JobID())
		h.emit(UpdatePollError, fmt.Errorf("unknown job status %q", report.Status))
		return false
	}
	if !h.spec.Terminal(report.Status) {
		h.mu.Lock()
		// Status only moves forward; a stale pending after processing is ignored.
		changed := report.Status.rank() > h.job.Status.rank()
		if changed {
			h.job.Status = report.Status
			h.job.UpdatedAt = h.spec.Clock.Now()
		}
		h.mu.Unlock()
		if changed {
			h.emit(UpdateStatus, nil)
		}
		return false
	}

	if report.Status == StatusCompleted {
		h.finish(StatusCompleted, report.ResultRef, "", UpdateCompleted, nil)
		return true
	}

	msg := report.Error
	if msg == "" {
		msg = "backend reported failure"
	}
	h.finish(StatusFailed, "", msg, UpdateFailed, fmt.Errorf("%w: %s", ErrJobFailed, msg))
	return true
}

func (h *Handle) finish(status Status, resultRef, msg string, kind UpdateType, err error) {
	h.mu.Lock()
	h.job.Status = status
	h.job.ResultRef = resultRef
	h.job.Error = msg
	h.job.UpdatedAt = h.spec.Clock.Now()
	if err != nil && !errors.Is(err, ErrJobFailed) && !errors.Is(err, ErrPollTimeout) {
		err = fmt.Errorf("%w: %v", ErrJobFailed, err)
	}
	h.err = err
	h.mu.Unlock()

	if err != nil {
		log.Info("%s job %s failed: %s", h.spec.Kind, h.JobID(), msg)
	} else {
		log.Info("%s job %s completed (%s)", h.spec.Kind, h.JobID(), resultRef)
	}
	h.emit(kind, err)
}

// stopCancelled leaves the observed status untouched; the backend job keeps running.
func (h *Handle) stopCancelled() {
	h.mu.Lock()
	h.err = ErrJobCancelled
	h.mu.Unlock()
	log.Debug("Stopped polling %s job %s", h.spec.Kind, h.JobID())
	h.emit(UpdateCancelled, ErrJobCancelled)
}

// stopFatal ends polling on an error that retrying cannot fix. Wait returns it wrapped.
func (h *Handle) stopFatal(cause error) {
	err := fmt.Errorf("stopped polling %s job %s: %w", h.spec.Kind, h.JobID(), cause)
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	log.Warn("%v", err)
	h.emit(UpdateStopped, err)
}

func (h *Handle) emit(kind UpdateType, err error) {
	if h.spec.Observer == nil {
		return
	}
	h.spec.Observer.Observe(Update{Type: kind, Job: h.Job(), Err: err})
}
