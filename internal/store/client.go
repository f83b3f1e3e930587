package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/config"
	"simorchestrator/internal/run"
	"simorchestrator/pkg/backoff"
	"simorchestrator/pkg/circuitbreaker"
)

// MetricsRecorder receives store failure notifications.
type MetricsRecorder interface {
	RecordStoreError(ctx context.Context, op string)
}

// ClientConfig configures retries and the circuit breaker around a store.
type ClientConfig struct {
	Attempts  int                   // Tries per operation (default: 3)
	Backoff   backoff.Config        // Delay between tries
	Breaker   circuitbreaker.Config // Consecutive failures before the store is considered unreachable
	OpTimeout time.Duration         // Per-try timeout (default: 5s)
}

// LoadClientConfigFromEnv loads store client configuration from environment variables.
func LoadClientConfigFromEnv() ClientConfig {
	return ClientConfig{
		Attempts: config.GetIntEnv("STORE_RETRY_ATTEMPTS", 3),
		Backoff: backoff.Config{
			Initial: config.GetDurationEnv("STORE_RETRY_INITIAL", 100*time.Millisecond),
			Max:     config.GetDurationEnv("STORE_RETRY_MAX", 2*time.Second),
			Jitter:  0.2,
		},
		Breaker: circuitbreaker.Config{
			Threshold: config.GetIntEnv("STORE_BREAKER_THRESHOLD", 5),
			Cooldown:  config.GetDurationEnv("STORE_BREAKER_COOLDOWN", 30*time.Second),
		},
		OpTimeout: config.GetDurationEnv("STORE_OP_TIMEOUT", 5*time.Second),
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	return c
}

// Client wraps a run.Store with retries and a circuit breaker. Failures are
// reported as apperrors.ErrStoreUnavailable and missing runs as apperrors.ErrNotFound.
type Client struct {
	store   run.Store
	cfg     ClientConfig
	breaker *circuitbreaker.Breaker
	metrics MetricsRecorder
}

// NewClient creates a client around store. metrics may be nil.
func NewClient(store run.Store, cfg ClientConfig, metrics MetricsRecorder) *Client {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "store")

	breakerCfg := cfg.Breaker
	breakerCfg.OnChange = func(from, to circuitbreaker.State) {
		if to == circuitbreaker.Open {
			logger.Error("Run store unreachable, circuit opened", "from", from.String())
			return
		}
		logger.Info("Run store circuit changed", "from", from.String(), "to", to.String())
	}

	return &Client{
		store:   store,
		cfg:     cfg,
		breaker: circuitbreaker.New(breakerCfg),
		metrics: metrics,
	}
}

// Available reports whether the store is currently considered reachable.
func (c *Client) Available() bool {
	return c.breaker.State() != circuitbreaker.Open
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// Create implements run.Store.
func (c *Client) Create(ctx context.Context, r *run.Run) (string, error) {
	var id string
	err := c.call(ctx, "create", 1, func(ctx context.Context) error {
		var err error
		id, err = c.store.Create(ctx, r)
		return err
	})
	return id, err
}

// Get implements run.Store.
func (c *Client) Get(ctx context.Context, id string) (*run.Run, error) {
	var r *run.Run
	err := c.call(ctx, "get", c.cfg.Attempts, func(ctx context.Context) error {
		var err error
		r, err = c.store.Get(ctx, id)
		return err
	})
	if errors.Is(err, run.ErrNotFound) {
		return nil, apperrors.NotFound("run", id)
	}
	return r, err
}

// Update implements run.Store.
func (c *Client) Update(ctx context.Context, r *run.Run) error {
	err := c.call(ctx, "update", c.cfg.Attempts, func(ctx context.Context) error {
		return c.store.Update(ctx, r)
	})
	if errors.Is(err, run.ErrNotFound) {
		return apperrors.NotFound("run", r.ID)
	}
	return err
}

// ListByState implements run.Store.
func (c *Client) ListByState(ctx context.Context, s run.State) ([]*run.Run, error) {
	return c.list(ctx, "listByState", func(ctx context.Context) ([]*run.Run, error) {
		return c.store.ListByState(ctx, s)
	})
}

// ListByDateRange implements run.Store.
func (c *Client) ListByDateRange(ctx context.Context, from, to time.Time) ([]*run.Run, error) {
	return c.list(ctx, "listByDateRange", func(ctx context.Context) ([]*run.Run, error) {
		return c.store.ListByDateRange(ctx, from, to)
	})
}

// ListByModelName implements run.Store.
func (c *Client) ListByModelName(ctx context.Context, name string) ([]*run.Run, error) {
	return c.list(ctx, "listByModelName", func(ctx context.Context) ([]*run.Run, error) {
		return c.store.ListByModelName(ctx, name)
	})
}

// List implements run.Store.
func (c *Client) List(ctx context.Context, limit int) ([]*run.Run, error) {
	return c.list(ctx, "list", func(ctx context.Context) ([]*run.Run, error) {
		return c.store.List(ctx, limit)
	})
}

// Ping implements run.Store. It bypasses retries so readiness reflects the current state.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", 1, c.store.Ping)
}

// Ready implements the health readiness contract.
func (c *Client) Ready(ctx context.Context) error {
	return c.Ping(ctx)
}

func (c *Client) list(ctx context.Context, op string, fn func(context.Context) ([]*run.Run, error)) ([]*run.Run, error) {
	var runs []*run.Run
	err := c.call(ctx, op, c.cfg.Attempts, func(ctx context.Context) error {
		var err error
		runs, err = fn(ctx)
		return err
	})
	return runs, err
}

// call runs fn through the breaker with retries. run.ErrNotFound is passed
// through untouched and does not count as a store failure.
func (c *Client) call(ctx context.Context, op string, attempts int, fn func(context.Context) error) error {
	notFound := false
	err := backoff.Retry(ctx, attempts, &c.cfg.Backoff, func(ctx context.Context) error {
		err := c.breaker.Do(func() error {
			opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
			defer cancel()
			err := fn(opCtx)
			if errors.Is(err, run.ErrNotFound) {
				notFound = true
				return nil
			}
			return err
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return &backoff.Permanent{Err: err}
		}
		return err
	})

	switch {
	case err != nil:
		if c.metrics != nil {
			c.metrics.RecordStoreError(ctx, op)
		}
		return apperrors.StoreUnavailable(op, err)
	case notFound:
		return run.ErrNotFound
	default:
		return nil
	}
}

var _ run.Store = (*Client)(nil)
