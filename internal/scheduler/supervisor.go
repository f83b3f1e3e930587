package scheduler

import (
	"context"
	"time"

	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/engine"
	"simorchestrator/internal/run"
)

// supervise watches one slot until it is released.
func (s *Scheduler) supervise(sl *slot) {
	ticker := time.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sl.ctx.Done():
			return
		case <-ticker.C:
			s.inspect(sl)
		}
	}
}

// inspect enforces the run timeout and liveness threshold and publishes the
// engine port once it is known.
func (s *Scheduler) inspect(sl *slot) {
	now := s.now()

	sl.mu.Lock()
	if sl.finalized || sl.intent != "" {
		sl.mu.Unlock()
		return
	}

	var verdict error
	if s.cfg.RunTimeout > 0 && sl.elapsed(now) >= s.cfg.RunTimeout {
		verdict = apperrors.Timeout(sl.id, s.cfg.RunTimeout)
	} else if s.cfg.LivenessThreshold > 0 && sl.run.State == run.StateRunning && sl.handle.State() == engine.StateRunning {
		t := sl.handle.Time()
		if t > sl.lastTime {
			sl.lastTime = t
			sl.stale = 0
		} else {
			sl.stale++
		}
		if sl.stale >= s.cfg.LivenessThreshold {
			verdict = apperrors.Stuck(sl.id, sl.stale, t)
		}
	}

	var portUpdate *run.Run
	if !sl.portSaved {
		if pp, ok := sl.handle.(engine.PortPublisher); ok {
			if port, ok := pp.Port(); ok {
				sl.run.Port = &port
				sl.run.UpdatedAt = now
				sl.portSaved = true
				portUpdate = sl.run.Clone()
			}
		}
	}

	if verdict != nil {
		sl.intent = run.EventFail
		sl.reason = verdict
	}
	handle := sl.handle
	sl.mu.Unlock()

	if portUpdate != nil {
		s.persist(portUpdate)
		s.logger.Info("Engine port published", "runId", sl.id, "port", *portUpdate.Port)
	}
	if verdict == nil {
		return
	}

	s.logger.Warn("Run failed by supervisor", "runId", sl.id, "reason", verdict)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ControlTimeout)
	defer cancel()
	if err := handle.Stop(ctx); err != nil {
		s.logger.Warn("Engine stop failed, reclaiming slot", "runId", sl.id, "error", err)
	}
	s.finalize(sl, run.EventFail, verdict)
}
