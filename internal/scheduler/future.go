package scheduler

import (
	"context"
	"sync"

	"simorchestrator/internal/run"
)

// Outcome is the final result of one execution cycle.
type Outcome struct {
	State  run.State // FINISHED, ERROR, CANCELLED or IDLE
	Reason error     // Failure or interruption cause, nil on a clean finish
}

// Future resolves when an execution cycle ends.
type Future struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(o Outcome) {
	f.once.Do(func() {
		f.outcome = o
		close(f.done)
	})
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Outcome returns the outcome and whether it is available yet.
func (f *Future) Outcome() (Outcome, bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the cycle ends or ctx is done.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
