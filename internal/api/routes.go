package api

import (
	"net/http"

	"simorchestrator/internal/health"
	"simorchestrator/internal/observability"
	"simorchestrator/internal/simulation"

	"golang.org/x/time/rate"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Service       *simulation.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	StartLimiter  *rate.Limiter // Limits start and restart requests, nil = unlimited
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Service, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /healthz", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Run endpoints - auth required
	auth := AuthMiddleware(cfg.APIKey)
	limit := RateLimitMiddleware(cfg.StartLimiter)
	mux.Handle("POST /v1/runs", auth(limit(http.HandlerFunc(handler.StartRun))))
	mux.Handle("GET /v1/runs", auth(http.HandlerFunc(handler.ListRuns)))
	mux.Handle("GET /v1/runs/{runId}", auth(http.HandlerFunc(handler.GetRun)))
	mux.Handle("POST /v1/runs/{runId}/restart", auth(limit(http.HandlerFunc(handler.RestartRun))))
	mux.Handle("POST /v1/runs/{runId}/stop", auth(http.HandlerFunc(handler.StopRun)))
	mux.Handle("POST /v1/runs/{runId}/pause", auth(http.HandlerFunc(handler.PauseRun)))
	mux.Handle("POST /v1/runs/{runId}/resume", auth(http.HandlerFunc(handler.ResumeRun)))
	mux.Handle("POST /v1/runs/{runId}/reset", auth(http.HandlerFunc(handler.ResetRun)))
	mux.Handle("GET /v1/health", auth(http.HandlerFunc(handler.Health)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
