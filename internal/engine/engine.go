// Package engine defines the adapter contract between the orchestrator and an opaque
// simulation engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

// State is engine-native status, distinct from the orchestrator's run state.
type State int

// Engine states
const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateTransientWait
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTransientWait:
		return "transient_wait"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidTransition is returned when a verb is not permitted in the current engine state.
	ErrInvalidTransition = errors.New("engine: transition not permitted in current state")

	// ErrClosed is returned by verbs invoked after Close.
	ErrClosed = errors.New("engine: instance closed")
)

// Parameters carries opaque configuration for one engine instance.
// Engine and Agent are interpreted only by the concrete engine.
type Parameters struct {
	RunID     string
	ModelName string
	Engine    json.RawMessage
	Agent     json.RawMessage
}

// Engine allocates engine instances. Each run cycle gets its own instance.
type Engine interface {
	// Setup allocates and configures one instance. It is called at most once per run cycle.
	Setup(ctx context.Context, params Parameters) (Handle, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Handle drives a single engine instance.
//
// All verbs may fail. Failures are reported to the caller and never coerced;
// the orchestrator treats them as terminating the run, not the process.
type Handle interface {
	// Advance begins execution and blocks until the engine finishes, fails,
	// is stopped or reset, or ctx is cancelled.
	Advance(ctx context.Context) error

	// Pause suspends progress. Advance keeps blocking while paused.
	Pause(ctx context.Context) error

	// Resume continues a paused instance.
	Resume(ctx context.Context) error

	// Reset returns the instance to a clean condition and unblocks Advance.
	Reset(ctx context.Context) error

	// Stop halts execution and unblocks Advance.
	Stop(ctx context.Context) error

	// State returns the engine-native status.
	State() State

	// Time returns the simulated-time cursor. It never decreases while running
	// and is only used for liveness heuristics.
	Time() float64

	// Close releases the instance. It is safe to call more than once.
	Close() error
}

// PortPublisher is implemented by handles that surface an embedded service.
type PortPublisher interface {
	// Port returns the externally reachable port once available.
	Port() (int, bool)
}

// ReadinessChecker is implemented by engines whose backend can be probed.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}
