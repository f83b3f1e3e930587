package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"simorchestrator/internal/engine"
	"simorchestrator/internal/run"
)

type fakeEngine struct {
	setups   atomic.Int64
	setupErr error

	mu        sync.Mutex
	handles   map[string]*fakeHandle
	configure func(*fakeHandle)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{handles: make(map[string]*fakeHandle)}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Setup(_ context.Context, p engine.Parameters) (engine.Handle, error) {
	e.setups.Add(1)
	if e.setupErr != nil {
		return nil, e.setupErr
	}
	h := &fakeHandle{params: p, done: make(chan error, 1)}
	if e.configure != nil {
		e.configure(h)
	}
	e.mu.Lock()
	e.handles[p.RunID] = h
	e.mu.Unlock()
	return h, nil
}

func (e *fakeEngine) handle(runID string) *fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[runID]
}

// fakeHandle advances until finish, stop or reset is signalled.
type fakeHandle struct {
	params engine.Parameters
	done   chan error

	mu       sync.Mutex
	state    engine.State
	simTime  float64
	port     int
	pauseErr error
	stopErr  error
	closes   atomic.Int64
	advances atomic.Int64
}

func (h *fakeHandle) Advance(ctx context.Context) error {
	h.advances.Add(1)
	h.mu.Lock()
	h.state = engine.StateRunning
	h.mu.Unlock()

	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		h.set(engine.StateIdle)
		return ctx.Err()
	}
}

func (h *fakeHandle) signal(err error) {
	select {
	case h.done <- err:
	default:
	}
}

func (h *fakeHandle) finish() {
	h.set(engine.StateFinished)
	h.signal(nil)
}

func (h *fakeHandle) crash(err error) {
	h.set(engine.StateError)
	h.signal(err)
}

func (h *fakeHandle) Pause(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pauseErr != nil {
		return h.pauseErr
	}
	if h.state != engine.StateRunning {
		return engine.ErrInvalidTransition
	}
	h.state = engine.StatePaused
	return nil
}

func (h *fakeHandle) Resume(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != engine.StatePaused {
		return engine.ErrInvalidTransition
	}
	h.state = engine.StateRunning
	return nil
}

func (h *fakeHandle) Reset(context.Context) error {
	h.set(engine.StateIdle)
	h.signal(nil)
	return nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.mu.Lock()
	err := h.stopErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	h.set(engine.StateIdle)
	h.signal(nil)
	return nil
}

func (h *fakeHandle) State() engine.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakeHandle) Time() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.simTime
}

func (h *fakeHandle) Port() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port, h.port > 0
}

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	h.signal(errors.New("closed"))
	return nil
}

func (h *fakeHandle) set(s engine.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// recordingStore keeps every update it receives.
type recordingStore struct {
	mu      sync.Mutex
	updates []*run.Run
}

func (s *recordingStore) Update(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, r.Clone())
	return nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *recordingStore) states(runID string) []run.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []run.State
	for _, u := range s.updates {
		if u.ID == runID {
			out = append(out, u.State)
		}
	}
	return out
}

func (s *recordingStore) last(runID string) *run.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.updates) - 1; i >= 0; i-- {
		if s.updates[i].ID == runID {
			return s.updates[i].Clone()
		}
	}
	return nil
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) RunTransitioned(_ context.Context, r run.Run, from run.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, string(from)+">"+string(r.State))
}

func (l *recordingListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
