package jobs

import (
	"context"
	"sync"
)

// Group owns every poller started for one session so they can be torn down together.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	handles map[string]*Handle
	order   []string
}

func NewGroup(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

// Context is cancelled when the group closes.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Start runs spec under the group's context.
func (g *Group) Start(spec Spec) (*Handle, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGroupClosed
	}
	g.mu.Unlock()

	h, err := Start(g.ctx, spec)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		h.Cancel()
		return nil, ErrGroupClosed
	}
	id := h.JobID()
	if _, ok := g.handles[id]; !ok {
		g.order = append(g.order, id)
	}
	g.handles[id] = h
	go g.forget(id, h)
	return h, nil
}

// forget drops h once it stops so finished pollers do not pile up.
func (g *Group) forget(id string, h *Handle) {
	<-h.Done()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handles[id] != h {
		return
	}
	delete(g.handles, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Get returns the handle still polling jobID, if any.
func (g *Group) Get(jobID string) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[jobID]
	return h, ok
}

// Handles lists the running handles in start order.
func (g *Group) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Handle, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.handles[id])
	}
	return out
}

// Close cancels all pollers and waits for them to stop.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	handles := make([]*Handle, 0, len(g.handles))
	for _, h := range g.handles {
		handles = append(handles, h)
	}
	g.mu.Unlock()

	g.cancel()
	for _, h := range handles {
		<-h.Done()
	}
}
