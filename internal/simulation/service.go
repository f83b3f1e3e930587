// Package simulation is the orchestrator facade. It turns external requests
// into run records and scheduler submissions, and routes control verbs to the
// live worker slots.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/health"
	"simorchestrator/internal/run"
	"simorchestrator/internal/scheduler"
)

// Executor runs admitted simulation runs.
type Executor interface {
	CanAdmit() bool
	Capacity() int
	Submit(ctx context.Context, r *run.Run) (*scheduler.Future, error)
	RequestStop(ctx context.Context, runID string) (bool, error)
	RequestPause(ctx context.Context, runID string) (bool, error)
	RequestResume(ctx context.Context, runID string) (bool, error)
	RequestReset(ctx context.Context, runID string) (bool, error)
	Active(runID string) (*run.Run, bool)
}

// Reporter produces the aggregate health report.
type Reporter interface {
	Report(ctx context.Context) health.Report
}

// MetricsRecorder is an optional interface for recording facade metrics.
type MetricsRecorder interface {
	RecordRecoveredRuns(ctx context.Context, n int)
}

var (
	errRestarted = errors.New("orchestrator restarted while run was active")
	errOrphaned  = errors.New("run held no execution slot")
)

// Service is the single entry point for run lifecycle operations.
type Service struct {
	cfg      Config
	executor Executor
	store    run.Store
	health   Reporter
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the facade. metrics may be nil.
func NewService(cfg Config, executor Executor, store run.Store, reporter Reporter, metrics MetricsRecorder) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		executor: executor,
		store:    store,
		health:   reporter,
		metrics:  metrics,
		logger:   slog.With("component", "simulation"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start validates req, creates a PENDING run and submits it. It returns once
// the run is admitted and scheduled, not once it finishes.
func (s *Service) Start(ctx context.Context, req StartRequest) (*run.Run, error) {
	applyDefaults(&req, s.cfg.DefaultModelName)
	if err := validate(&req); err != nil {
		return nil, err
	}

	if !s.executor.CanAdmit() {
		return nil, apperrors.CapacityExceeded(s.executor.Capacity())
	}

	r := &run.Run{
		ModelName:        req.ModelName,
		State:            run.StatePending,
		EngineParameters: req.EngineParameters,
		AgentParameters:  req.AgentParameters,
		Description:      req.Description,
	}
	id, err := s.store.Create(ctx, r)
	if err != nil {
		return nil, err
	}
	r.ID = id
	logger := s.logger.With("runId", id, "model", r.ModelName)

	if _, err := s.executor.Submit(ctx, r); err != nil {
		if errors.Is(err, apperrors.ErrCapacityExceeded) || errors.Is(err, apperrors.ErrPoolSaturated) {
			s.reject(ctx, r, err)
		}
		logger.Warn("Run failed to start", "error", err)
		return nil, err
	}

	logger.Info("Run accepted")
	return s.current(ctx, r), nil
}

// reject marks a PENDING run that lost the admission race as ERROR.
func (s *Service) reject(ctx context.Context, r *run.Run, cause error) {
	if _, err := run.Transition(r, run.EventReject, s.now()); err != nil {
		s.logger.Warn("Cannot reject run", "runId", r.ID, "error", err)
		return
	}
	r.AppendDescription(cause.Error())
	if err := s.store.Update(ctx, r); err != nil {
		s.logger.Error("Failed to persist rejected run", "runId", r.ID, "error", err)
	}
}

// Restart starts a new execution cycle for an existing run. A RUNNING or
// PAUSED run is reset first.
func (s *Service) Restart(ctx context.Context, id string) (*run.Run, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.State.IsActive() {
		if _, err := s.executor.RequestReset(ctx, id); err != nil && !errors.Is(err, apperrors.ErrNotActive) {
			return nil, err
		}
		if r, err = s.store.Get(ctx, id); err != nil {
			return nil, err
		}
		if err := s.failOrphan(ctx, r); err != nil {
			return nil, err
		}
	}

	if !run.CanStart(r.State) {
		return nil, apperrors.Conflict("run", id, fmt.Sprintf("cannot restart a run in state %s", r.State))
	}
	if !s.executor.CanAdmit() {
		return nil, apperrors.CapacityExceeded(s.executor.Capacity())
	}

	if _, err := s.executor.Submit(ctx, r); err != nil {
		s.logger.Warn("Run failed to restart", "runId", id, "error", err)
		return nil, err
	}

	s.logger.Info("Run restarted", "runId", id)
	return s.current(ctx, r), nil
}

// failOrphan marks r ERROR when the store records it as active but no slot
// holds it, which happens when the final state of a cycle was never persisted.
func (s *Service) failOrphan(ctx context.Context, r *run.Run) error {
	if !r.State.IsActive() {
		return nil
	}
	if _, live := s.executor.Active(r.ID); live {
		return nil
	}
	if _, err := run.Transition(r, run.EventFail, s.now()); err != nil {
		return apperrors.Conflict("run", r.ID, err.Error())
	}
	r.AppendDescription(errOrphaned.Error())
	if err := s.store.Update(ctx, r); err != nil {
		return err
	}
	s.logger.Warn("Failed orphaned run before restart", "runId", r.ID)
	return nil
}

// Stop cancels an active run.
func (s *Service) Stop(ctx context.Context, id string) (*Result, error) {
	return s.control(ctx, id, ActionStop, s.executor.RequestStop)
}

// Pause pauses a running run.
func (s *Service) Pause(ctx context.Context, id string) (*Result, error) {
	return s.control(ctx, id, ActionPause, s.executor.RequestPause)
}

// Resume resumes a paused run.
func (s *Service) Resume(ctx context.Context, id string) (*Result, error) {
	return s.control(ctx, id, ActionResume, s.executor.RequestResume)
}

// Reset returns an active run to IDLE.
func (s *Service) Reset(ctx context.Context, id string) (*Result, error) {
	return s.control(ctx, id, ActionReset, s.executor.RequestReset)
}

func (s *Service) control(ctx context.Context, id, action string, verb func(context.Context, string) (bool, error)) (*Result, error) {
	accepted, err := verb(ctx, id)
	res := &Result{RunID: id, Action: action, Accepted: accepted && err == nil}
	if err != nil {
		s.logger.Info("Control request refused", "runId", id, "action", action, "error", err)
		return res, err
	}
	return res, nil
}

// Status returns the live view of a run when it holds a slot, the stored
// record otherwise.
func (s *Service) Status(ctx context.Context, id string) (*run.Run, error) {
	if r, ok := s.executor.Active(id); ok {
		return r, nil
	}
	return s.store.Get(ctx, id)
}

// Health returns the aggregate health report.
func (s *Service) Health(ctx context.Context) health.Report {
	return s.health.Report(ctx)
}

// List returns stored runs matching f, newest first. Live slots override the
// stored state of the runs they hold.
func (s *Service) List(ctx context.Context, f ListFilter) (*ListResponse, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, apperrors.Validation("state", fmt.Sprintf("unknown state %q", f.State))
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, apperrors.Validation("to", "to must not be before from")
	}
	if f.Limit < 0 {
		return nil, apperrors.Validation("limit", "limit must not be negative")
	}
	limit := f.Limit
	if limit == 0 {
		limit = s.cfg.DefaultListLimit
	}
	limit = min(limit, s.cfg.MaxListLimit)

	runs, err := s.query(ctx, f, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*run.Run, 0, min(len(runs), limit))
	for _, r := range runs {
		if !matches(r, f) {
			continue
		}
		if live, ok := s.executor.Active(r.ID); ok {
			r = live
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return &ListResponse{Runs: out, Count: len(out)}, nil
}

// query picks the most selective store query for f. The remaining criteria
// are applied by matches.
func (s *Service) query(ctx context.Context, f ListFilter, limit int) ([]*run.Run, error) {
	switch {
	case f.State != "":
		return s.store.ListByState(ctx, f.State)
	case f.ModelName != "":
		return s.store.ListByModelName(ctx, f.ModelName)
	case !f.From.IsZero() || !f.To.IsZero():
		from, to := f.From, f.To
		if to.IsZero() {
			to = s.now()
		}
		return s.store.ListByDateRange(ctx, from, to)
	default:
		return s.store.List(ctx, limit)
	}
}

func matches(r *run.Run, f ListFilter) bool {
	if f.State != "" && r.State != f.State {
		return false
	}
	if f.ModelName != "" && r.ModelName != f.ModelName {
		return false
	}
	if !f.From.IsZero() && (r.StartedAt == nil || r.StartedAt.Before(f.From)) {
		return false
	}
	if !f.To.IsZero() && (r.StartedAt == nil || r.StartedAt.After(f.To)) {
		return false
	}
	return true
}

// Recover fails runs the store still records as PENDING, RUNNING or PAUSED
// but that hold no slot in this process. It is meant to run once at startup.
func (s *Service) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, state := range []run.State{run.StatePending, run.StateRunning, run.StatePaused} {
		runs, err := s.store.ListByState(ctx, state)
		if err != nil {
			return recovered, err
		}
		for _, r := range runs {
			if _, live := s.executor.Active(r.ID); live {
				continue
			}
			ev := run.EventFail
			if r.State == run.StatePending {
				ev = run.EventReject
			}
			if _, err := run.Transition(r, ev, s.now()); err != nil {
				s.logger.Warn("Cannot recover run", "runId", r.ID, "state", r.State, "error", err)
				continue
			}
			r.AppendDescription(errRestarted.Error())
			if err := s.store.Update(ctx, r); err != nil {
				return recovered, err
			}
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Warn("Recovered orphaned runs", "count", recovered)
		if s.metrics != nil {
			s.metrics.RecordRecoveredRuns(ctx, recovered)
		}
	}
	return recovered, nil
}

// current returns the freshest view of r after a submit.
func (s *Service) current(ctx context.Context, r *run.Run) *run.Run {
	if live, ok := s.executor.Active(r.ID); ok {
		return live
	}
	if stored, err := s.store.Get(ctx, r.ID); err == nil {
		return stored
	}
	return r
}
