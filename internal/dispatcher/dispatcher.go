// Package dispatcher runs a fixed pool of runners to completion.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is one unit of the pool. worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithActivity calls start before each runner begins and stop after it
// returns. The crawl pool uses it to drive the active-workers gauge.
func WithActivity(start, stop func()) Option {
	return func(d *Dispatcher) {
		d.start = start
		d.stop = stop
	}
}

// Dispatcher fans work out to a pool of runners.
type Dispatcher struct {
	workers []Runner
	start   func()
	stop    func()
}

// New creates a Dispatcher over workers.
func New(workers []Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{workers: workers}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Size returns the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts every worker and blocks until all of them return, either
// because their work drained or because ctx finished.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			if d.start != nil {
				d.start()
			}
			if d.stop != nil {
				defer d.stop()
			}
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}
