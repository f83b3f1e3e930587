// Package cloudevent implements structured-mode CloudEvents 1.0 over HTTP.
package cloudevent

import (
	"errors"
	"time"
)

const (
	// SpecVersion is the CloudEvents version this package produces.
	SpecVersion = "1.0"

	// ContentType is the structured-mode media type.
	ContentType = "application/cloudevents+json"
)

// Event is a CloudEvents 1.0 envelope with a JSON object payload.
type Event struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject,omitempty"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data,omitempty"`
}

// New creates an event that occurred at the given time. A zero time means now.
func New(eventType, source, subject, id string, at time.Time, data map[string]any) *Event {
	if at.IsZero() {
		at = time.Now()
	}
	return &Event{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            at.UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Validate checks the attributes every CloudEvent must carry.
func (e *Event) Validate() error {
	var errs []error
	if e.SpecVersion != SpecVersion {
		errs = append(errs, errors.New("specversion must be "+SpecVersion))
	}
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if e.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if e.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	return errors.Join(errs...)
}
