// Package run defines the simulation run record, its state machine and the store contract.
package run

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// State is the orchestrator-side lifecycle state of a run.
type State string

// Run states
const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StatePaused    State = "PAUSED"
	StateIdle      State = "IDLE"
	StateFinished  State = "FINISHED"
	StateError     State = "ERROR"
	StateCancelled State = "CANCELLED"
)

// States lists every valid state in lifecycle order.
var States = []State{
	StatePending, StateRunning, StatePaused, StateIdle,
	StateFinished, StateError, StateCancelled,
}

// IsTerminal reports whether s is FINISHED, ERROR or CANCELLED.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateError || s == StateCancelled
}

// IsActive reports whether a run in state s occupies an execution slot.
func (s State) IsActive() bool {
	return s == StateRunning || s == StatePaused
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState converts a case-insensitive name into a State.
func ParseState(name string) (State, bool) {
	s := State(strings.ToUpper(strings.TrimSpace(name)))
	return s, s.Valid()
}

// Run is one logical request to execute a simulation.
type Run struct {
	ID               string          `json:"id"`
	ModelName        string          `json:"modelName"`
	State            State           `json:"state"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	EndedAt          *time.Time      `json:"endedAt,omitempty"`
	EngineParameters json.RawMessage `json:"engineParameters,omitempty"`
	AgentParameters  json.RawMessage `json:"agentParameters,omitempty"`
	Port             *int            `json:"port,omitempty"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.StartedAt = cloneTime(r.StartedAt)
	c.EndedAt = cloneTime(r.EndedAt)
	c.EngineParameters = cloneRaw(r.EngineParameters)
	c.AgentParameters = cloneRaw(r.AgentParameters)
	if r.Port != nil {
		p := *r.Port
		c.Port = &p
	}
	return &c
}

// AppendDescription adds a note, typically a failure reason, to the run description.
func (r *Run) AppendDescription(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if r.Description == "" {
		r.Description = note
		return
	}
	r.Description += "; " + note
}

var runIDPlaceholder = regexp.MustCompile(`"runId"\s*:\s*null`)

// InjectRunID replaces a `"runId": null` placeholder in agent parameters with id,
// so engines can tag their output with the run that produced it.
func InjectRunID(params json.RawMessage, id string) json.RawMessage {
	if len(params) == 0 || !runIDPlaceholder.Match(params) {
		return params
	}
	quoted, _ := json.Marshal(id)
	return runIDPlaceholder.ReplaceAll(params, append([]byte(`"runId":`), quoted...))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
