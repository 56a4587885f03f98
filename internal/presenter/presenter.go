package presenter

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MimeLyc/stories-now/internal/jobs"
)

// A Caser keeps state, so each call gets its own.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// Label renders a job status the way the status badge shows it.
func Label(status jobs.Status) string {
	if status == "" {
		return "Unknown"
	}
	return title(string(status))
}

// KindLabel renders a job kind for humans, e.g. "Text To Speech".
func KindLabel(kind jobs.Kind) string {
	return title(strings.ReplaceAll(string(kind), "-", " "))
}

// Presenter turns job updates into user-facing events.
// An artifact or failure is shown at most once per job.
type Presenter struct {
	bus  *EventBus
	sink func(Event)

	mu          sync.Mutex
	finished    map[string]struct{}
	order       []string
	maxFinished int
}

// defaultMaxFinished matches the tracker's history cap.
const defaultMaxFinished = 1000

type Option func(*Presenter)

// WithSink also hands every published event to fn, e.g. to print it.
func WithSink(fn func(Event)) Option {
	return func(p *Presenter) { p.sink = fn }
}

func New(bus *EventBus, opts ...Option) *Presenter {
	if bus == nil {
		bus = NewEventBus(0)
	}
	p := &Presenter{bus: bus, finished: make(map[string]struct{}), maxFinished: defaultMaxFinished}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Presenter) Bus() *EventBus {
	return p.bus
}

// Observe implements jobs.Observer.
func (p *Presenter) Observe(u jobs.Update) {
	ev := Event{
		JobID:  u.Job.ID,
		Kind:   u.Job.Kind,
		Label:  u.Job.Label,
		Status: u.Job.Status,
	}

	switch u.Type {
	case jobs.UpdateSubmitted, jobs.UpdateStatus:
		ev.Type = EventTypeStatus
		ev.Message = Label(u.Job.Status)
	case jobs.UpdateCompleted:
		if !p.markFinished(u.Job.ID) {
			return
		}
		ev.Type = EventTypeArtifact
		ev.ResultRef = u.Job.ResultRef
		ev.Message = Label(u.Job.Status)
	case jobs.UpdateFailed:
		if !p.markFinished(u.Job.ID) {
			return
		}
		ev.Type = EventTypeFailure
		ev.Message = u.Job.Error
		if ev.Message == "" && u.Err != nil {
			ev.Message = u.Err.Error()
		}
	case jobs.UpdateCancelled:
		ev.Type = EventTypeCancelled
		ev.Message = "Stopped watching"
	case jobs.UpdateStopped:
		ev.Type = EventTypeCancelled
		ev.Message = "Stopped watching"
		if u.Err != nil {
			ev.Message += ": " + u.Err.Error()
		}
	case jobs.UpdatePollError:
		ev.Type = EventTypeWarning
		if u.Err != nil {
			ev.Message = u.Err.Error()
		}
	default:
		return
	}

	published := p.bus.Publish(ev)
	if p.sink != nil {
		p.sink(published)
	}
}

func (p *Presenter) markFinished(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, done := p.finished[jobID]; done {
		return false
	}
	p.finished[jobID] = struct{}{}
	p.order = append(p.order, jobID)
	if p.maxFinished > 0 && len(p.order) > p.maxFinished {
		delete(p.finished, p.order[0])
		p.order = p.order[1:]
	}
	return true
}
