package run

import (
	"errors"
	"fmt"
	"time"
)

// Event is a lifecycle occurrence that drives a state transition.
type Event string

// Events
const (
	EventStart       Event = "start"        // admitted and engine setup succeeded
	EventReject      Event = "reject"       // admission refused
	EventSetupFailed Event = "setup_failed" // engine setup failed
	EventPause       Event = "pause"
	EventResume      Event = "resume"
	EventReset       Event = "reset"
	EventStop        Event = "stop"
	EventFail        Event = "fail" // timeout, stuck, crash or adapter error
	EventFinish      Event = "finish"
)

// ErrIllegalTransition classifies every rejected transition.
var ErrIllegalTransition = errors.New("illegal run transition")

// TransitionError describes a rejected (state, event) pair.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal run transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

var transitions = map[State]map[Event]State{
	StatePending: {
		EventStart:       StateRunning,
		EventReject:      StateError,
		EventSetupFailed: StateError,
	},
	StateRunning: {
		EventPause:  StatePaused,
		EventReset:  StateIdle,
		EventStop:   StateCancelled,
		EventFail:   StateError,
		EventFinish: StateFinished,
	},
	StatePaused: {
		EventResume: StateRunning,
		EventReset:  StateIdle,
		EventStop:   StateCancelled,
		EventFail:   StateError,
	},
	StateIdle: {
		EventStart:       StateRunning,
		EventSetupFailed: StateError,
	},
	StateFinished: {
		EventStart:       StateRunning,
		EventSetupFailed: StateError,
	},
	StateError: {
		EventStart:       StateRunning,
		EventSetupFailed: StateError,
	},
	StateCancelled: {},
}

// Next returns the state reached from `from` on ev, or a *TransitionError.
func Next(from State, ev Event) (State, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// CanStart reports whether a run in state s may begin a fresh execution cycle.
func CanStart(s State) bool {
	_, err := Next(s, EventStart)
	return err == nil
}

// Transition applies ev to r and returns the previous state. It is the only
// function that changes Run.State, and it keeps EndedAt set exactly when the
// resulting state is terminal.
func Transition(r *Run, ev Event, now time.Time) (State, error) {
	from := r.State
	to, err := Next(from, ev)
	if err != nil {
		return from, err
	}

	r.State = to
	r.UpdatedAt = now
	if ev == EventStart {
		started := now
		r.StartedAt = &started
	}
	if to.IsTerminal() {
		ended := now
		r.EndedAt = &ended
	} else {
		r.EndedAt = nil
	}
	return from, nil
}
