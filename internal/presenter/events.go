package presenter

import (
	"sync"
	"time"

	"github.com/MimeLyc/stories-now/internal/jobs"
)

// EventType classifies what the presenter shows the user.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypeArtifact  EventType = "artifact"
	EventTypeFailure   EventType = "failure"
	EventTypeCancelled EventType = "cancelled"
	EventTypeWarning   EventType = "warning"
)

// Event is a sequenced payload consumed by UI readers.
type Event struct {
	Seq       int64       `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"jobId"`
	Kind      jobs.Kind   `json:"kind"`
	Label     string      `json:"label,omitempty"`
	Type      EventType   `json:"type"`
	Status    jobs.Status `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	ResultRef string      `json:"resultRef,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0)
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq is the sequence of the newest event, 0 if none.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
