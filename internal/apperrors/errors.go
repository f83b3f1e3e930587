// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	ErrNotActive                = errors.New("not active")
	ErrCapacityExceeded         = errors.New("capacity exceeded")
	ErrPoolSaturated            = errors.New("worker pool saturated")
	ErrEngineSetupFailed        = errors.New("engine setup failed")
	ErrEngineTransitionRejected = errors.New("engine transition rejected")
	ErrTimeout                  = errors.New("run timed out")
	ErrStuck                    = errors.New("run stuck")
	ErrStoreUnavailable         = errors.New("store unavailable")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "modelName")
	Resource string // For not found/conflict (e.g., "run")
	Op       string // Operation that failed (e.g., "engine.pause")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// NotActive reports that a control verb targeted a resource with no live worker slot.
func NotActive(resource, id string) error {
	return &Error{
		Sentinel: ErrNotActive,
		Message:  fmt.Sprintf("%s %s is not active", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// CapacityExceeded reports an admission refusal. Callers should retry later.
func CapacityExceeded(capacity int) error {
	return &Error{
		Sentinel: ErrCapacityExceeded,
		Message:  fmt.Sprintf("concurrency limit of %d runs reached", capacity),
		Resource: "run",
	}
}

// PoolSaturated reports that every worker and queue position is taken.
func PoolSaturated(workers, queue int) error {
	return &Error{
		Sentinel: ErrPoolSaturated,
		Message:  fmt.Sprintf("worker pool saturated (%d workers, queue %d)", workers, queue),
	}
}

// EngineSetupFailed wraps an adapter setup failure for a run.
func EngineSetupFailed(runID string, cause error) error {
	return &Error{
		Sentinel: ErrEngineSetupFailed,
		Message:  fmt.Sprintf("engine setup failed for run %s: %v", runID, cause),
		Resource: "run",
		Op:       "engine.setup",
		Cause:    cause,
	}
}

// EngineTransitionRejected wraps an adapter refusal of a lifecycle verb.
func EngineTransitionRejected(action, runID string, cause error) error {
	return &Error{
		Sentinel: ErrEngineTransitionRejected,
		Message:  fmt.Sprintf("engine rejected %s for run %s: %v", action, runID, cause),
		Resource: "run",
		Op:       "engine." + action,
		Cause:    cause,
	}
}

// Timeout reports a run force-cancelled after exceeding its deadline.
func Timeout(runID string, after time.Duration) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("run %s exceeded timeout of %s", runID, after),
		Resource: "run",
	}
}

// Stuck reports a run whose simulated time stopped advancing.
func Stuck(runID string, samples int, at float64) error {
	return &Error{
		Sentinel: ErrStuck,
		Message:  fmt.Sprintf("run %s made no progress for %d samples at time %g", runID, samples, at),
		Resource: "run",
	}
}

// StoreUnavailable wraps a persistence failure.
func StoreUnavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrStoreUnavailable,
		Message:  fmt.Sprintf("run store unavailable during %s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
