package cloudevent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testEvent() *Event {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return New("simrun.run.finished", "simrun-service", "run-1", "evt-1", at, map[string]any{"state": "FINISHED"})
}

func TestEncode(t *testing.T) {
	t.Parallel()

	msg, err := Encode(testEvent(), "secret")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !Verify(msg.Body, "secret", msg.Signature) {
		t.Error("signature does not verify against body")
	}
	if Verify(msg.Body, "other", msg.Signature) {
		t.Error("signature verified with wrong key")
	}

	var decoded Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.ID != "evt-1" || decoded.SpecVersion != SpecVersion || decoded.Data["state"] != "FINISHED" {
		t.Errorf("unexpected decoded event %+v", decoded)
	}

	unsigned, err := Encode(testEvent(), "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if unsigned.Signature != "" {
		t.Errorf("expected no signature without key, got %q", unsigned.Signature)
	}
}

func TestEvent_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{"valid", func(*Event) {}, ""},
		{"missing id", func(e *Event) { e.ID = "" }, "id is required"},
		{"missing source", func(e *Event) { e.Source = "" }, "source is required"},
		{"missing type", func(e *Event) { e.Type = "" }, "type is required"},
		{"wrong version", func(e *Event) { e.SpecVersion = "0.3" }, "specversion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := testEvent()
			tt.mutate(ev)
			err := ev.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
			if _, encErr := Encode(ev, ""); encErr == nil {
				t.Error("Encode accepted an invalid event")
			}
		})
	}
}

func TestNew_DefaultsTime(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	ev := New("t", "s", "", "id", time.Time{}, nil)
	if ev.Time.Before(before) || ev.Time.Location() != time.UTC {
		t.Errorf("unexpected event time %v", ev.Time)
	}
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	var (
		gotBody        []byte
		gotContentType string
		gotSignature   string
		gotID          string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotSignature = r.Header.Get(SignatureHeader)
		gotID = r.Header.Get("Ce-Id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	msg, err := Encode(testEvent(), "secret")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := NewSender(5*time.Second).Send(context.Background(), server.URL, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if string(gotBody) != string(msg.Body) {
		t.Errorf("body = %s, want %s", gotBody, msg.Body)
	}
	if gotContentType != ContentType {
		t.Errorf("Content-Type = %q, want %q", gotContentType, ContentType)
	}
	if gotID != "evt-1" {
		t.Errorf("Ce-Id = %q, want evt-1", gotID)
	}
	if !Verify(gotBody, "secret", gotSignature) {
		t.Error("received signature does not verify")
	}
}

func TestSender_SendErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	msg, _ := Encode(testEvent(), "")
	err := NewSender(5*time.Second).Send(context.Background(), server.URL, msg)

	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusTooManyRequests || he.RetryAfter != 7*time.Second {
		t.Errorf("unexpected error %+v", he)
	}
	if he.Error() != "HTTP 429" {
		t.Errorf("Error() = %q", he.Error())
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport error", errors.New("connection refused"), true},
		{"400", &HTTPError{StatusCode: 400}, false},
		{"401", &HTTPError{StatusCode: 401}, false},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"408", &HTTPError{StatusCode: 408}, true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"503 wrapped", errors.Join(errors.New("attempt 3"), &HTTPError{StatusCode: 503}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{"Mon, 01 Jan 2001 00:00:00 GMT", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
