//go:build integration

package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"simorchestrator/internal/engine"
	"simorchestrator/internal/testutil"
)

// Requires a Docker daemon and the alpine image.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), Config{Image: "alpine:latest", StopTimeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestDockerEngine_RunsToCompletion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	h, err := e.Setup(ctx, engine.Parameters{
		RunID:     fmt.Sprintf("it-%d", time.Now().UnixNano()),
		ModelName: "integration",
		Engine:    json.RawMessage(`{"image":"alpine:latest","command":["sh","-c","echo SIMTIME 5"]}`),
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer h.Close()

	if err := h.Advance(ctx); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if h.State() != engine.StateFinished {
		t.Errorf("Expected finished, got %s", h.State())
	}
	if h.Time() != 5 {
		t.Errorf("Expected simulated time 5, got %g", h.Time())
	}
}

func TestDockerEngine_PauseResumeStop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	h, err := e.Setup(ctx, engine.Parameters{
		RunID:  fmt.Sprintf("it-%d", time.Now().UnixNano()),
		Engine: json.RawMessage(`{"command":["sleep","60"]}`),
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer h.Close()

	done := make(chan error, 1)
	go func() { done <- h.Advance(ctx) }()

	testutil.MustWaitFor(t, func() bool { return h.State() == engine.StateRunning })
	if err := h.Pause(ctx); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := h.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Advance returned %v after stop", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Advance did not return after stop")
	}
}
