// Package worker runs a single simulation inside a run container and reports
// the simulated-time cursor on stdout for the docker engine to follow.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"simorchestrator/internal/engine"
	"simorchestrator/internal/engine/clock"
)

// Runner drives one clock instance to completion.
type Runner struct {
	config *Config
	engine *clock.Engine
	out    io.Writer
	logger *slog.Logger
}

// NewRunner creates a runner that writes progress lines to out.
func NewRunner(cfg *Config, out io.Writer) (*Runner, error) {
	if cfg.RunID == "" {
		return nil, errors.New("SIM_RUN_ID is required")
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}
	return &Runner{
		config: cfg,
		engine: clock.New(clock.LoadSettingsFromEnv()),
		out:    out,
		logger: slog.With("runId", cfg.RunID, "model", cfg.ModelName),
	}, nil
}

// Run advances the simulation until it finishes, fails or ctx is cancelled.
// A cancelled run returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	h, err := r.engine.Setup(ctx, engine.Parameters{
		RunID:     r.config.RunID,
		ModelName: r.config.ModelName,
		Engine:    r.config.EngineParameters,
		Agent:     r.config.AgentParameters,
	})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer h.Close()

	r.logger.Info("Simulation started")
	start := time.Now()

	done := make(chan error, 1)
	go func() { done <- h.Advance(ctx) }()

	ticker := time.NewTicker(r.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			r.report(h.Time())
			if err != nil {
				r.logger.Error("Simulation failed", "error", err, "simTime", h.Time())
				return err
			}
			r.logger.Info("Simulation finished",
				"simTime", h.Time(),
				"duration", time.Since(start).Round(time.Millisecond).String(),
			)
			return nil
		case <-ticker.C:
			r.report(h.Time())
		}
	}
}

func (r *Runner) report(t float64) {
	fmt.Fprintf(r.out, "SIMTIME %g\n", t)
}
