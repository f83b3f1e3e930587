package scheduler

import (
	"context"
	"sync"
	"time"

	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/engine"
	"simorchestrator/internal/run"
)

// slot binds an active run to its engine instance for one execution cycle.
type slot struct {
	id     string
	ctx    context.Context // cancelled when the slot is released
	cancel context.CancelFunc
	future *Future

	// ctl serializes control verbs.
	ctl sync.Mutex

	// mu guards the fields below.
	mu         sync.Mutex
	run        *run.Run
	handle     engine.Handle
	intent     run.Event // event claimed by stop, reset or the supervisor
	reason     error
	finalized  bool
	dispatched bool          // a worker has picked up the advance job
	running    time.Duration // running time accumulated before the last pause
	resumedAt  time.Time     // zero while paused or queued
	lastTime   float64
	stale      int
	portSaved  bool
}

func newSlot(r *run.Run) *slot {
	ctx, cancel := context.WithCancel(context.Background())
	return &slot{
		id:     r.ID,
		ctx:    ctx,
		cancel: cancel,
		future: newFuture(),
		run:    r,
	}
}

// check verifies that ev is permitted and the slot is still live.
func (sl *slot) check(ev run.Event) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.finalized || sl.intent != "" {
		return apperrors.NotActive("run", sl.id)
	}
	if _, err := run.Next(sl.run.State, ev); err != nil {
		return illegal(sl.id, err)
	}
	return nil
}

// claim records the event that will end the cycle. Only the first claim wins.
func (sl *slot) claim(ev run.Event, reason error) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.finalized || sl.intent != "" {
		return false
	}
	sl.intent = ev
	sl.reason = reason
	return true
}

func (sl *slot) unclaim() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.intent = ""
	sl.reason = nil
}

// elapsed returns accumulated running time. The caller must hold mu.
func (sl *slot) elapsed(now time.Time) time.Duration {
	d := sl.running
	if !sl.resumedAt.IsZero() {
		d += now.Sub(sl.resumedAt)
	}
	return d
}

func (sl *slot) snapshot() *run.Run {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.run.Clone()
}
