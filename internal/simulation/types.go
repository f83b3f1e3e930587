package simulation

import (
	"encoding/json"
	"time"

	"simorchestrator/internal/run"
)

// Control actions reported in Result.
const (
	ActionStart   = "start"
	ActionRestart = "restart"
	ActionStop    = "stop"
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionReset   = "reset"
)

// StartRequest describes a new run.
type StartRequest struct {
	ModelName        string          `json:"modelName"`
	EngineParameters json.RawMessage `json:"engineParameters,omitempty"`
	AgentParameters  json.RawMessage `json:"agentParameters,omitempty"`
	Description      string          `json:"description,omitempty"`
}

// Result is the outcome of a control verb.
type Result struct {
	RunID    string `json:"runId"`
	Action   string `json:"action"`
	Accepted bool   `json:"accepted"`
}

// ListFilter narrows List. Zero fields do not filter.
type ListFilter struct {
	State     run.State
	ModelName string
	From      time.Time
	To        time.Time
	Limit     int
}

// ListResponse is returned by List.
type ListResponse struct {
	Runs  []*run.Run `json:"runs"`
	Count int        `json:"count"`
}
