// Package api provides the HTTP API handlers and routing for the simulation run service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/health"
	"simorchestrator/internal/run"
	"simorchestrator/internal/simulation"
)

// maxRequestBodySize limits request body to 2MB to prevent memory exhaustion
const maxRequestBodySize = 2 << 20

// Handler contains HTTP handlers for the runs API
type Handler struct {
	svc    *simulation.Service
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(svc *simulation.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
	}
}

// controlResponse is returned by the control verbs. Error is set when the
// verb was refused.
type controlResponse struct {
	simulation.Result
	Error string `json:"error,omitempty"`
}

// StartRun handles POST /v1/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req simulation.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	started, err := h.svc.Start(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, started)
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /v1/runs/{runId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	status, err := h.svc.Status(r.Context(), runID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// RestartRun handles POST /v1/runs/{runId}/restart
func (h *Handler) RestartRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	restarted, err := h.svc.Restart(r.Context(), runID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, restarted)
}

// StopRun handles POST /v1/runs/{runId}/stop
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.svc.Stop)
}

// PauseRun handles POST /v1/runs/{runId}/pause
func (h *Handler) PauseRun(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.svc.Pause)
}

// ResumeRun handles POST /v1/runs/{runId}/resume
func (h *Handler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.svc.Resume)
}

// ResetRun handles POST /v1/runs/{runId}/reset
func (h *Handler) ResetRun(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.svc.Reset)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, verb func(ctx context.Context, id string) (*simulation.Result, error)) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	res, err := verb(r.Context(), runID)
	if err != nil {
		status := h.logError(r, err)
		resp := controlResponse{Error: err.Error()}
		if res != nil {
			resp.Result = *res
		}
		h.writeJSON(w, status, resp)
		return
	}

	h.writeJSON(w, http.StatusAccepted, controlResponse{Result: *res})
}

// Health handles GET /v1/health - aggregate orchestrator report.
// Returns 503 when the run store is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Health(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, report)
}

// Livez handles GET /livez and GET /healthz - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the engine or the run store is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func parseListFilter(r *http.Request) (simulation.ListFilter, error) {
	q := r.URL.Query()
	f := simulation.ListFilter{ModelName: q.Get("model")}

	if v := q.Get("state"); v != "" {
		s, ok := run.ParseState(v)
		if !ok {
			return f, apperrors.Validation("state", "unknown state "+strconv.Quote(v))
		}
		f.State = s
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperrors.Validation(p.name, p.name+" must be an RFC 3339 timestamp")
		}
		*p.dst = t.UTC()
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, apperrors.Validation("limit", "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeError(w, h.logError(r, err), err.Error())
}

func (h *Handler) logError(r *http.Request, err error) int {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	return status
}
