package jobs

// Observer receives job updates on the polling goroutine of the job.
// Implementations shared between jobs must be safe for concurrent use.
type Observer interface {
	Observe(u Update)
}

type ObserverFunc func(u Update)

func (f ObserverFunc) Observe(u Update) { f(u) }

// MultiObserver fans one update out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(u Update) {
	for _, o := range m {
		if o != nil {
			o.Observe(u)
		}
	}
}
