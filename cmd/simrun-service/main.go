// simrun-service is the HTTP API server for running simulation runs under a concurrency ceiling.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simorchestrator/internal/api"
	"simorchestrator/internal/archive"
	"simorchestrator/internal/config"
	"simorchestrator/internal/engine"
	"simorchestrator/internal/engine/clock"
	"simorchestrator/internal/engine/docker"
	"simorchestrator/internal/health"
	"simorchestrator/internal/notify"
	"simorchestrator/internal/observability"
	runpkg "simorchestrator/internal/run"
	"simorchestrator/internal/scheduler"
	"simorchestrator/internal/simulation"
	"simorchestrator/internal/store"
	"simorchestrator/internal/store/postgres"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadFile(path); err != nil {
			return err
		}
		slog.Info("Loaded configuration file", "path", path)
	}

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	schedCfg := scheduler.LoadConfigFromEnv()
	simCfg := simulation.LoadConfigFromEnv()
	notifyCfg := notify.LoadConfigFromEnv()
	archiveCfg := archive.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Run store
	backend, closeStore, err := openStore(ctx, svcCfg.StoreDriver)
	if err != nil {
		return err
	}
	defer closeStore()
	runStore := store.NewClient(backend, store.LoadClientConfigFromEnv(), metrics)

	// Engine backend
	eng, closeEngine, err := openEngine(ctx, svcCfg.EngineBackend)
	if err != nil {
		return err
	}
	defer closeEngine()

	deps := []health.Dependency{{Name: "store", Checker: runStore}}
	if rc, ok := eng.(engine.ReadinessChecker); ok {
		deps = append(deps, health.Dependency{Name: "engine", Checker: rc})
	}

	// Lifecycle listeners
	notifier := notify.New(notifyCfg, metrics)
	listeners := []scheduler.Listener{notifier}
	if !notifyCfg.Enabled() {
		slog.Info("Lifecycle notifications disabled - no NOTIFY_URL configured")
	}

	var archiver *archive.Archiver
	if archiveCfg.Enabled() {
		bucket, err := archive.NewMinIOBucket(ctx, archiveCfg)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		archiver = archive.New(bucket, archiveCfg, metrics)
		listeners = append(listeners, archiver)
		deps = append(deps, health.Dependency{Name: "archive", Checker: archiver})
		slog.Info("Run archive enabled", "endpoint", archiveCfg.Endpoint, "bucket", archiveCfg.Bucket)
	}

	// Orchestrator core
	sched := scheduler.New(schedCfg, eng, runStore, metrics, listeners...)
	aggregator := health.NewAggregator(sched, runStore)
	svc := simulation.NewService(simCfg, sched, runStore, aggregator, metrics)

	if _, err := svc.Recover(ctx); err != nil {
		slog.Warn("Failed to recover orphaned runs", "error", err)
	}

	healthChecker := health.NewChecker(deps...)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
		StartLimiter:  api.NewStartLimiter(svcCfg.StartRateLimit, svcCfg.StartRateBurst),
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		stopRuns(sched, 5*time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting requests, finish in-flight ones
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop active runs so their final state is persisted and announced
	stopRuns(sched, svcCfg.ShutdownGrace)

	// Phase 4: Drain listeners
	listenerCtx, listenerCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer listenerCancel()
	if err := notifier.Close(listenerCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}
	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	if archiver != nil {
		if err := archiver.Close(listenerCtx); err != nil {
			slog.Warn("Archive shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

func stopRuns(sched *scheduler.Scheduler, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	slog.Info("Stopping active runs", "active", sched.Stats().Active, "grace", grace)
	if err := sched.Shutdown(ctx); err != nil {
		slog.Warn("Scheduler shutdown error", "error", err)
	}
}

func openStore(ctx context.Context, driver string) (runpkg.Store, func(), error) {
	switch driver {
	case config.StoreMemory:
		slog.Warn("Using in-memory run store - records are lost on restart")
		return store.NewMemory(), func() {}, nil
	case config.StorePostgres:
		cfg, err := postgres.LoadConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		slog.Info("Connected to Postgres run store")
		return postgres.NewRunStore(db), closeDB(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", driver, config.StoreMemory, config.StorePostgres)
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}

func openEngine(ctx context.Context, backend string) (engine.Engine, func(), error) {
	switch backend {
	case config.EngineClock:
		return clock.New(clock.LoadSettingsFromEnv()), func() {}, nil
	case config.EngineDocker:
		eng, err := docker.New(ctx, docker.LoadConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to Docker daemon")
		return eng, func() {
			if err := eng.Close(); err != nil {
				slog.Warn("Failed to close Docker client", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ENGINE_BACKEND %q (want %s or %s)", backend, config.EngineClock, config.EngineDocker)
	}
}
