// sim-worker is the default payload of the docker engine. It runs one
// simulation and reports progress as "SIMTIME <t>" lines on stdout.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"simorchestrator/internal/worker"
)

func main() {
	// Logs go to stderr so stdout carries only progress lines
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := worker.LoadConfigFromEnv()

	runner, err := worker.NewRunner(cfg, os.Stdout)
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("Worker stopped")
		return nil
	}
	return err
}
