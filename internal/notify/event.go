package notify

import (
	"strings"

	"simorchestrator/internal/run"
	"simorchestrator/pkg/cloudevent"

	"github.com/google/uuid"
)

// Event types for run lifecycle notifications.
const (
	EventTypeStarted   = "simrun.run.started"
	EventTypePaused    = "simrun.run.paused"
	EventTypeResumed   = "simrun.run.resumed"
	EventTypeReset     = "simrun.run.reset"
	EventTypeFinished  = "simrun.run.finished"
	EventTypeFailed    = "simrun.run.failed"
	EventTypeCancelled = "simrun.run.cancelled"
)

// eventType names the transition that moved a run from `from` into r.State.
func eventType(r run.Run, from run.State) string {
	switch r.State {
	case run.StateRunning:
		if from == run.StatePaused {
			return EventTypeResumed
		}
		return EventTypeStarted
	case run.StatePaused:
		return EventTypePaused
	case run.StateIdle:
		return EventTypeReset
	case run.StateFinished:
		return EventTypeFinished
	case run.StateError:
		return EventTypeFailed
	case run.StateCancelled:
		return EventTypeCancelled
	default:
		return "simrun.run." + strings.ToLower(string(r.State))
	}
}

// buildEvent creates the CloudEvent describing a transition.
func buildEvent(source string, r run.Run, from run.State) *cloudevent.Event {
	data := map[string]any{
		"runId":     r.ID,
		"modelName": r.ModelName,
		"state":     string(r.State),
		"from":      string(from),
	}
	if r.StartedAt != nil {
		data["startedAt"] = r.StartedAt
	}
	if r.EndedAt != nil {
		data["endedAt"] = r.EndedAt
	}
	if r.Port != nil {
		data["port"] = *r.Port
	}
	if r.Description != "" {
		data["description"] = r.Description
	}
	return cloudevent.New(eventType(r, from), source, r.ID, uuid.NewString(), r.UpdatedAt, data)
}
