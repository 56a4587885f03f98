// Package jobstest provides a hand-driven clock for poller tests.
package jobstest

import (
	"sync"
	"time"

	"github.com/MimeLyc/stories-now/internal/jobs"
)

// Clock only ticks when a test fires one of its tickers.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward without firing any ticker.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) NewTicker(d time.Duration) jobs.Ticker {
	t := &Ticker{
		clock:    c,
		interval: d,
		c:        make(chan time.Time),
		stopped:  make(chan struct{}),
	}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Ticker waits up to timeout for the i-th ticker to be created.
func (c *Clock) Ticker(i int, timeout time.Duration) *Ticker {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		if i < len(c.tickers) {
			t := c.tickers[i]
			c.mu.Unlock()
			return t
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

type Ticker struct {
	clock    *Clock
	interval time.Duration
	c        chan time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

func (t *Ticker) C() <-chan time.Time { return t.c }

func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Stopped is closed once the owner stops the ticker.
func (t *Ticker) Stopped() <-chan struct{} { return t.stopped }

// Fire advances the clock by one interval and delivers a tick.
// It returns false when the ticker was stopped or nobody received the tick in time.
// A successful Fire means the receiver finished all work from the previous tick.
func (t *Ticker) Fire(timeout time.Duration) bool {
	select {
	case <-t.stopped:
		return false
	default:
	}
	t.clock.Advance(t.interval)
	select {
	case t.c <- t.clock.Now():
		return true
	case <-t.stopped:
		return false
	case <-time.After(timeout):
		return false
	}
}
