// Package clock provides an in-process engine that advances a simulated clock
// in fixed steps until a target time is reached.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"simorchestrator/internal/config"
	"simorchestrator/internal/engine"
)

// Settings control how an instance advances.
type Settings struct {
	StopTime     float64       // Simulated time at which the run finishes
	Step         float64       // Simulated time added per tick
	StepInterval time.Duration // Wall-clock time between ticks
	FailAt       float64       // If > 0, the engine reports an error at this simulated time
	StallAt      float64       // If > 0, the clock stops advancing at this simulated time
}

// LoadSettingsFromEnv loads default clock settings from environment variables.
func LoadSettingsFromEnv() Settings {
	return Settings{
		StopTime:     config.GetFloatEnv("ENGINE_CLOCK_STOP_TIME", 100),
		Step:         config.GetFloatEnv("ENGINE_CLOCK_STEP", 1),
		StepInterval: config.GetDurationEnv("ENGINE_CLOCK_STEP_INTERVAL", 100*time.Millisecond),
	}
}

// parameters is the JSON shape of Parameters.Engine understood by this engine.
type parameters struct {
	StopTime     *float64 `json:"stopTime"`
	Step         *float64 `json:"step"`
	StepInterval string   `json:"stepInterval"`
	FailAt       float64  `json:"failAt"`
	StallAt      float64  `json:"stallAt"`
}

// Engine creates clock instances.
type Engine struct {
	defaults Settings
}

// New creates a clock engine with the given defaults.
func New(defaults Settings) *Engine {
	if defaults.Step <= 0 {
		defaults.Step = 1
	}
	if defaults.StopTime <= 0 {
		defaults.StopTime = 100
	}
	return &Engine{defaults: defaults}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "clock" }

// Setup implements engine.Engine.
func (e *Engine) Setup(_ context.Context, params engine.Parameters) (engine.Handle, error) {
	s, err := e.resolve(params.Engine)
	if err != nil {
		return nil, err
	}
	return &instance{settings: s}, nil
}

func (e *Engine) resolve(raw json.RawMessage) (Settings, error) {
	s := e.defaults
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}

	var p parameters
	if err := json.Unmarshal(raw, &p); err != nil {
		return s, fmt.Errorf("clock: invalid engine parameters: %w", err)
	}
	if p.StopTime != nil {
		s.StopTime = *p.StopTime
	}
	if p.Step != nil {
		s.Step = *p.Step
	}
	if p.StepInterval != "" {
		d, err := time.ParseDuration(p.StepInterval)
		if err != nil {
			return s, fmt.Errorf("clock: invalid stepInterval %q: %w", p.StepInterval, err)
		}
		s.StepInterval = d
	}
	s.FailAt = p.FailAt
	s.StallAt = p.StallAt

	if s.StopTime <= 0 {
		return s, fmt.Errorf("clock: stopTime must be positive, got %g", s.StopTime)
	}
	if s.Step <= 0 {
		return s, fmt.Errorf("clock: step must be positive, got %g", s.Step)
	}
	if s.StepInterval < 0 {
		return s, fmt.Errorf("clock: stepInterval must not be negative")
	}
	return s, nil
}

type instance struct {
	settings Settings

	mu      sync.Mutex
	state   engine.State
	now     float64
	started bool
	closed  bool
	halt    chan struct{} // closed by Stop/Reset to unblock Advance
}

func (i *instance) Advance(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return engine.ErrClosed
	}
	if i.started || i.state != engine.StateIdle {
		i.mu.Unlock()
		return fmt.Errorf("advance from %s: %w", i.state, engine.ErrInvalidTransition)
	}
	i.started = true
	i.state = engine.StateRunning
	halt := make(chan struct{})
	i.halt = halt
	interval := i.settings.StepInterval
	i.mu.Unlock()

	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.mu.Lock()
			if i.state == engine.StateRunning || i.state == engine.StatePaused {
				i.state = engine.StateIdle
			}
			i.mu.Unlock()
			return ctx.Err()
		case <-halt:
			return nil
		case <-ticker.C:
			done, err := i.tick()
			if done {
				return err
			}
		}
	}
}

// tick advances the clock by one step. It returns true when Advance should return.
func (i *instance) tick() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != engine.StateRunning {
		return false, nil
	}
	s := i.settings
	if s.StallAt > 0 && i.now >= s.StallAt {
		return false, nil
	}

	i.now += s.Step
	if s.FailAt > 0 && i.now >= s.FailAt {
		i.state = engine.StateError
		return true, fmt.Errorf("clock: simulation failed at time %g", i.now)
	}
	if i.now >= s.StopTime {
		i.now = s.StopTime
		i.state = engine.StateFinished
		return true, nil
	}
	return false, nil
}

func (i *instance) Pause(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrClosed
	}
	if i.state != engine.StateRunning {
		return fmt.Errorf("pause from %s: %w", i.state, engine.ErrInvalidTransition)
	}
	i.state = engine.StatePaused
	return nil
}

func (i *instance) Resume(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrClosed
	}
	if i.state != engine.StatePaused {
		return fmt.Errorf("resume from %s: %w", i.state, engine.ErrInvalidTransition)
	}
	i.state = engine.StateRunning
	return nil
}

func (i *instance) Reset(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrClosed
	}
	i.interrupt()
	i.state = engine.StateIdle
	i.now = 0
	i.started = false
	return nil
}

func (i *instance) Stop(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrClosed
	}
	if i.state != engine.StateRunning && i.state != engine.StatePaused {
		return fmt.Errorf("stop from %s: %w", i.state, engine.ErrInvalidTransition)
	}
	i.interrupt()
	i.state = engine.StateIdle
	return nil
}

func (i *instance) State() engine.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *instance) Time() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.now
}

func (i *instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.interrupt()
	return nil
}

// interrupt unblocks a running Advance. Caller must hold mu.
func (i *instance) interrupt() {
	if i.halt != nil {
		close(i.halt)
		i.halt = nil
	}
}

var _ engine.Engine = (*Engine)(nil)
