// Package scheduler executes admitted simulation runs. It owns the worker
// slots, the bounded pool that drives engine instances and the supervisor
// that enforces timeouts and liveness.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"simorchestrator/internal/admission"
	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/engine"
	"simorchestrator/internal/run"

	"golang.org/x/sync/errgroup"
)

// Store is the persistence the scheduler needs.
type Store interface {
	Update(ctx context.Context, r *run.Run) error
}

// Listener is told about every persisted state change. Implementations must not block.
type Listener interface {
	RunTransitioned(ctx context.Context, r run.Run, from run.State)
}

// MetricsRecorder is an optional interface for recording scheduler metrics.
type MetricsRecorder interface {
	RecordRunStarted(ctx context.Context, model string)
	RecordRunCompleted(ctx context.Context, model string, state run.State, durationSeconds float64)
	RecordActiveRuns(ctx context.Context, delta int64)
	RecordAdmissionRejected(ctx context.Context)
	RecordPoolRejected(ctx context.Context)
	RecordControl(ctx context.Context, action string, accepted bool)
	RecordPoolQueueSize(ctx context.Context, size int64)
}

// Stats describes scheduler occupancy.
type Stats struct {
	Active      int
	Capacity    int
	Workers     int
	QueueSize   int
	BusyWorkers int
	Queued      int
	Saturated   bool
	Rejected    uint64
}

var errShutdown = errors.New("orchestrator shutdown")

// Scheduler runs admitted simulation runs on engine instances.
type Scheduler struct {
	cfg       Config
	engine    engine.Engine
	store     Store
	admission *admission.Controller
	registry  *registry
	pool      *pool
	metrics   MetricsRecorder
	listeners []Listener
	logger    *slog.Logger
	now       func() time.Time

	closeMu sync.RWMutex
	closed  bool
	submits sync.WaitGroup
}

// New creates a scheduler. metrics may be nil.
func New(cfg Config, eng engine.Engine, store Store, metrics MetricsRecorder, listeners ...Listener) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:       cfg,
		engine:    eng,
		store:     store,
		admission: admission.New(cfg.MaxConcurrentRuns),
		registry:  newRegistry(),
		pool:      newPool(cfg.Workers, cfg.QueueSize, metrics),
		metrics:   metrics,
		listeners: listeners,
		logger:    slog.With("component", "scheduler", "engine", eng.Name()),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.logger.Info("Scheduler started",
		"maxConcurrentRuns", cfg.MaxConcurrentRuns,
		"workers", cfg.Workers,
		"queue", cfg.QueueSize,
		"runTimeout", cfg.RunTimeout,
	)
	return s
}

// CanAdmit reports whether a new run would currently fit under the ceiling.
// It is advisory; Submit makes the authoritative decision.
func (s *Scheduler) CanAdmit() bool {
	return s.admission.Available()
}

// Capacity returns the active run ceiling.
func (s *Scheduler) Capacity() int {
	return s.admission.Capacity()
}

// Submit admits r and starts a new execution cycle for it. r must already be
// persisted. On success r is RUNNING in the store and the returned future
// resolves when the cycle ends. The caller's copy of r is not modified.
func (s *Scheduler) Submit(ctx context.Context, r *run.Run) (*Future, error) {
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return nil, &apperrors.Error{Sentinel: apperrors.ErrPoolSaturated, Message: "scheduler is shutting down", Cause: errShutdown}
	}
	s.submits.Add(1)
	s.closeMu.RUnlock()
	defer s.submits.Done()

	if _, err := run.Next(r.State, run.EventStart); err != nil {
		return nil, illegal(r.ID, err)
	}

	if !s.admission.TryAdmit() {
		if s.metrics != nil {
			s.metrics.RecordAdmissionRejected(ctx)
		}
		s.logger.Info("Run rejected, concurrency limit reached", "runId", r.ID, "capacity", s.admission.Capacity())
		return nil, apperrors.CapacityExceeded(s.admission.Capacity())
	}
	if !s.pool.tryAcquire() {
		s.admission.Release()
		if s.metrics != nil {
			s.metrics.RecordPoolRejected(ctx)
		}
		s.logger.Warn("Run rejected, worker pool saturated", "runId", r.ID)
		return nil, apperrors.PoolSaturated(s.cfg.Workers, s.cfg.QueueSize)
	}
	if err := s.registry.reserve(r.ID); err != nil {
		s.pool.releaseTicket()
		s.admission.Release()
		return nil, err
	}

	sl := newSlot(r.Clone())
	logger := s.logger.With("runId", r.ID, "model", r.ModelName)

	setupCtx, cancel := context.WithTimeout(ctx, s.cfg.SetupTimeout)
	handle, err := s.engine.Setup(setupCtx, engine.Parameters{
		RunID:     r.ID,
		ModelName: r.ModelName,
		Engine:    r.EngineParameters,
		Agent:     run.InjectRunID(r.AgentParameters, r.ID),
	})
	cancel()
	if err != nil {
		logger.Warn("Engine setup failed", "error", err)
		sl.cancel()
		s.registry.release(r.ID, nil)
		s.pool.releaseTicket()
		s.admission.Release()

		setupErr := apperrors.EngineSetupFailed(r.ID, err)
		from, _ := run.Transition(sl.run, run.EventSetupFailed, s.now())
		sl.run.AppendDescription(setupErr.Error())
		s.complete(sl, sl.run.Clone(), from, setupErr)
		return sl.future, setupErr
	}

	now := s.now()
	sl.handle = handle
	from, _ := run.Transition(sl.run, run.EventStart, now)
	snapshot := sl.run.Clone()

	s.registry.commit(r.ID, sl)
	s.persist(snapshot)
	if s.metrics != nil {
		s.metrics.RecordRunStarted(ctx, r.ModelName)
		s.metrics.RecordActiveRuns(ctx, 1)
	}
	s.notify(*snapshot, from)

	s.pool.enqueue(func() { s.execute(sl) })
	go s.supervise(sl)

	logger.Info("Run started", "from", from)
	return sl.future, nil
}

// execute drives the engine until it returns and finalizes the slot. The
// running clock starts here, not when the run was accepted, so time spent in
// the queue does not count toward the run timeout.
func (s *Scheduler) execute(sl *slot) {
	sl.mu.Lock()
	if sl.finalized {
		sl.mu.Unlock()
		return
	}
	sl.dispatched = true
	if sl.run.State == run.StateRunning {
		sl.resumedAt = s.now()
	}
	sl.mu.Unlock()

	var advanceErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				advanceErr = fmt.Errorf("engine panicked: %v", r)
			}
		}()
		advanceErr = sl.handle.Advance(sl.ctx)
	}()

	sl.mu.Lock()
	ev, reason := sl.intent, sl.reason
	sl.mu.Unlock()

	if ev == "" {
		state := sl.handle.State()
		switch {
		case advanceErr != nil:
			ev, reason = run.EventFail, fmt.Errorf("engine failed: %w", advanceErr)
		case state == engine.StateFinished:
			ev = run.EventFinish
		default:
			ev, reason = run.EventFail, fmt.Errorf("engine returned in state %s", state)
		}
	}
	s.finalize(sl, ev, reason)
}

// finalize ends the slot's cycle exactly once. It returns false if another
// caller already did.
func (s *Scheduler) finalize(sl *slot, ev run.Event, reason error) bool {
	sl.mu.Lock()
	if sl.finalized {
		sl.mu.Unlock()
		return false
	}
	sl.finalized = true
	s.registry.release(sl.id, sl)

	now := s.now()
	from, err := run.Transition(sl.run, ev, now)
	if err != nil {
		s.logger.Warn("Falling back to fail transition", "runId", sl.id, "event", ev, "error", err)
		if reason == nil {
			reason = err
		}
		from, _ = run.Transition(sl.run, run.EventFail, now)
	}
	if reason != nil {
		sl.run.AppendDescription(reason.Error())
	}
	elapsed := sl.elapsed(now)
	snapshot := sl.run.Clone()
	handle := sl.handle
	sl.mu.Unlock()

	sl.cancel()
	if err := handle.Close(); err != nil {
		s.logger.Warn("Failed to close engine instance", "runId", sl.id, "error", err)
	}
	s.admission.Release()

	if s.metrics != nil {
		s.metrics.RecordActiveRuns(context.Background(), -1)
	}
	s.complete(sl, snapshot, from, reason)

	s.logger.Info("Run ended",
		"runId", sl.id,
		"state", snapshot.State,
		"runningTime", elapsed.Round(time.Millisecond),
		"reason", reason,
	)
	return true
}

// complete persists the final snapshot, records metrics, notifies listeners
// and resolves the future.
func (s *Scheduler) complete(sl *slot, snapshot *run.Run, from run.State, reason error) {
	s.persist(snapshot)
	if s.metrics != nil && snapshot.State.IsTerminal() {
		var duration float64
		if snapshot.StartedAt != nil && snapshot.EndedAt != nil {
			duration = snapshot.EndedAt.Sub(*snapshot.StartedAt).Seconds()
		}
		s.metrics.RecordRunCompleted(context.Background(), snapshot.ModelName, snapshot.State, duration)
	}
	s.notify(*snapshot, from)
	sl.future.resolve(Outcome{State: snapshot.State, Reason: reason})
}

func (s *Scheduler) persist(snapshot *run.Run) {
	if err := s.store.Update(context.Background(), snapshot); err != nil {
		s.logger.Error("Failed to persist run state", "runId", snapshot.ID, "state", snapshot.State, "error", err)
	}
}

func (s *Scheduler) notify(r run.Run, from run.State) {
	for _, l := range s.listeners {
		l.RunTransitioned(context.Background(), r, from)
	}
}

// RequestPause pauses an active run.
func (s *Scheduler) RequestPause(ctx context.Context, runID string) (bool, error) {
	return s.control(ctx, runID, "pause", run.EventPause, func(ctx context.Context, h engine.Handle) error {
		return h.Pause(ctx)
	})
}

// RequestResume resumes a paused run.
func (s *Scheduler) RequestResume(ctx context.Context, runID string) (bool, error) {
	return s.control(ctx, runID, "resume", run.EventResume, func(ctx context.Context, h engine.Handle) error {
		return h.Resume(ctx)
	})
}

// control applies a verb that keeps the slot alive.
func (s *Scheduler) control(ctx context.Context, runID, action string, ev run.Event, verb func(context.Context, engine.Handle) error) (bool, error) {
	sl, err := s.lookup(runID)
	if err != nil {
		return false, err
	}
	sl.ctl.Lock()
	defer sl.ctl.Unlock()

	if err := sl.check(ev); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ControlTimeout)
	defer cancel()
	if err := verb(ctx, sl.handle); err != nil {
		s.recordControl(action, false)
		s.logger.Warn("Engine rejected control verb", "runId", runID, "action", action, "error", err)
		return false, apperrors.EngineTransitionRejected(action, runID, err)
	}

	sl.mu.Lock()
	if sl.finalized {
		sl.mu.Unlock()
		return false, apperrors.NotActive("run", runID)
	}
	now := s.now()
	switch ev {
	case run.EventPause:
		sl.running = sl.elapsed(now)
		sl.resumedAt = time.Time{}
	case run.EventResume:
		if sl.dispatched {
			sl.resumedAt = now
		}
		sl.stale = 0
	}
	from, err := run.Transition(sl.run, ev, now)
	snapshot := sl.run.Clone()
	sl.mu.Unlock()
	if err != nil {
		return false, illegal(runID, err)
	}

	s.persist(snapshot)
	s.notify(*snapshot, from)
	s.recordControl(action, true)
	s.logger.Info("Run "+action+"d", "runId", runID)
	return true, nil
}

// RequestStop cancels an active run. The slot is always reclaimed; an engine
// stop failure is recorded in the run description.
func (s *Scheduler) RequestStop(ctx context.Context, runID string) (bool, error) {
	sl, err := s.lookup(runID)
	if err != nil {
		return false, err
	}
	return s.stop(ctx, sl, nil)
}

func (s *Scheduler) stop(ctx context.Context, sl *slot, note error) (bool, error) {
	sl.ctl.Lock()
	defer sl.ctl.Unlock()

	if err := sl.check(run.EventStop); err != nil {
		return false, err
	}
	if !sl.claim(run.EventStop, note) {
		return false, apperrors.NotActive("run", sl.id)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ControlTimeout)
	defer cancel()
	reason := note
	if err := sl.handle.Stop(ctx); err != nil {
		s.logger.Warn("Engine stop failed, reclaiming slot", "runId", sl.id, "error", err)
		reason = fmt.Errorf("engine stop failed: %w", err)
		if note != nil {
			reason = fmt.Errorf("%w; %w", note, reason)
		}
	}

	s.finalize(sl, run.EventStop, reason)
	s.recordControl("stop", true)
	return true, nil
}

// RequestReset returns an active run to IDLE and frees its slot.
func (s *Scheduler) RequestReset(ctx context.Context, runID string) (bool, error) {
	sl, err := s.lookup(runID)
	if err != nil {
		return false, err
	}
	sl.ctl.Lock()
	defer sl.ctl.Unlock()

	if err := sl.check(run.EventReset); err != nil {
		return false, err
	}
	if !sl.claim(run.EventReset, nil) {
		return false, apperrors.NotActive("run", runID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ControlTimeout)
	defer cancel()
	if err := sl.handle.Reset(ctx); err != nil {
		sl.unclaim()
		s.recordControl("reset", false)
		s.logger.Warn("Engine rejected control verb", "runId", runID, "action", "reset", "error", err)
		return false, apperrors.EngineTransitionRejected("reset", runID, err)
	}

	s.finalize(sl, run.EventReset, nil)
	s.recordControl("reset", true)
	return true, nil
}

// lookup returns the live slot for runID or ErrNotActive.
func (s *Scheduler) lookup(runID string) (*slot, error) {
	sl, ok := s.registry.get(runID)
	if !ok || sl == nil {
		return nil, apperrors.NotActive("run", runID)
	}
	return sl, nil
}

func (s *Scheduler) recordControl(action string, accepted bool) {
	if s.metrics != nil {
		s.metrics.RecordControl(context.Background(), action, accepted)
	}
}

// Active returns a snapshot of the run bound to a live slot.
func (s *Scheduler) Active(runID string) (*run.Run, bool) {
	sl, ok := s.registry.get(runID)
	if !ok || sl == nil {
		return nil, false
	}
	return sl.snapshot(), true
}

// Snapshots returns every run with a live slot.
func (s *Scheduler) Snapshots() []*run.Run {
	slots := s.registry.list()
	out := make([]*run.Run, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.snapshot())
	}
	return out
}

// Stats returns current occupancy.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Active:      s.admission.InUse(),
		Capacity:    s.admission.Capacity(),
		Workers:     s.cfg.Workers,
		QueueSize:   s.cfg.QueueSize,
		BusyWorkers: int(s.pool.busy.Load()),
		Queued:      len(s.pool.jobs),
		Saturated:   s.pool.saturated(),
		Rejected:    s.admission.Rejected(),
	}
}

// Shutdown stops accepting runs, stops every active run and waits for the
// workers. Runs that cannot be stopped before ctx ends are failed.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	submitted := make(chan struct{})
	go func() {
		s.submits.Wait()
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for in-flight submissions")
	}

	slots := s.registry.list()
	s.logger.Info("Scheduler shutting down", "active", len(slots))

	var g errgroup.Group
	for _, sl := range slots {
		g.Go(func() error {
			if _, err := s.stop(ctx, sl, errShutdown); err != nil && !errors.Is(err, apperrors.ErrNotActive) {
				return fmt.Errorf("stop run %s: %w", sl.id, err)
			}
			return nil
		})
	}
	stopErr := g.Wait()

	for _, sl := range s.registry.list() {
		s.finalize(sl, run.EventFail, errShutdown)
	}

	return errors.Join(stopErr, s.pool.close(ctx))
}

func illegal(runID string, err error) error {
	return &apperrors.Error{
		Sentinel: apperrors.ErrConflict,
		Message:  fmt.Sprintf("run %s: %v", runID, err),
		Resource: "run",
		Cause:    err,
	}
}
