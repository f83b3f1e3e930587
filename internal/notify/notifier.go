// Package notify delivers run lifecycle CloudEvents to webhook destinations.
// Events are queued in a bounded channel and delivered by a worker pool with
// per-destination circuit breakers.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"simorchestrator/internal/run"
	"simorchestrator/pkg/backoff"
	"simorchestrator/pkg/circuitbreaker"
	"simorchestrator/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording delivery metrics.
type MetricsRecorder interface {
	RecordNotifyDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifyFailed(ctx context.Context)
	RecordNotifyDropped(ctx context.Context)
	RecordNotifyRequeued(ctx context.Context)
	RecordNotifyQueueSize(ctx context.Context, size int64)
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth   int   // current queue size
	Queued       int64 // total events queued
	Delivered    int64 // successful deliveries
	Failed       int64 // failed after retries
	Dropped      int64 // dropped due to full buffer or max requeues
	Requeued     int64 // requeued due to open circuit
	BreakersOpen int   // destinations currently considered down

	Destinations map[string]string // breaker state per destination host
}

type delivery struct {
	payload     *cloudevent.Message
	destination string
	requeues    int
}

// Notifier turns run transitions into CloudEvents and delivers them asynchronously.
type Notifier struct {
	cfg      Config
	queue    chan *delivery
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	requeued  atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a notifier and starts its workers. metrics may be nil.
func New(cfg Config, metrics MetricsRecorder) *Notifier {
	cfg = cfg.withDefaults()

	n := &Notifier{
		cfg:    cfg,
		queue:  make(chan *delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.Cooldown,
		}),
		logger:   slog.With("component", "notify"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}
	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Notifier started", "destinations", len(cfg.URLs), "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n
}

// RunTransitioned queues one event per destination. It never blocks.
func (n *Notifier) RunTransitioned(_ context.Context, r run.Run, from run.State) {
	if n.closed.Load() {
		return
	}
	if len(n.cfg.URLs) == 0 {
		return
	}
	msg, err := cloudevent.Encode(buildEvent(n.cfg.Source, r, from), n.cfg.SigningKey)
	if err != nil {
		n.logger.Error("Cannot encode event", "runId", r.ID, "error", err)
		return
	}
	for _, dest := range n.cfg.URLs {
		n.enqueue(&delivery{payload: msg, destination: dest})
	}
}

// enqueue queues d or drops it when the buffer is full.
func (n *Notifier) enqueue(d *delivery) {
	select {
	case n.queue <- d:
		n.queued.Add(1)
	default:
		n.drop(d, "buffer full")
	}
}

func (n *Notifier) drop(d *delivery, why string) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDropped(context.Background())
	}
	n.logger.Warn("Event dropped", "reason", why, "destination", extractHost(d.destination), "type", d.payload.Event.Type)
}

// Stats returns current notifier statistics.
func (n *Notifier) Stats() Stats {
	snapshot := n.breakers.Snapshot()
	destinations := make(map[string]string, len(snapshot))
	open := 0
	for host, state := range snapshot {
		destinations[host] = state.String()
		if state == circuitbreaker.Open {
			open++
		}
	}
	return Stats{
		QueueDepth:   len(n.queue),
		Queued:       n.queued.Load(),
		Delivered:    n.delivered.Load(),
		Failed:       n.failed.Load(),
		Dropped:      n.dropped.Load(),
		Requeued:     n.requeued.Load(),
		BreakersOpen: open,
		Destinations: destinations,
	}
}

// Close stops the workers after draining queued events or when ctx ends.
func (n *Notifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil
	}
	n.logger.Info("Notifier shutting down", "queued", len(n.queue))
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drain()
			return
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case d := <-n.queue:
			n.deliver(d)
		default:
			return
		}
	}
}

func (n *Notifier) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordNotifyQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

func (n *Notifier) deliver(d *delivery) {
	host := extractHost(d.destination)
	breaker := n.breakers.Get(host)

	if !breaker.Allow() {
		n.requeue(d, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := backoff.Retry(ctx, defaultMaxRetries+1, nil, func(ctx context.Context) error {
		err := n.sender.Send(ctx, d.destination, d.payload)
		if err != nil && !cloudevent.Retryable(err) {
			return &backoff.Permanent{Err: err}
		}
		return err
	})
	if err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyFailed(ctx)
		}
		n.logger.Warn("Delivery failed", "destination", host, "type", d.payload.Event.Type, "runId", d.payload.Event.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue retries an event after the cooldown when its destination's circuit is open.
func (n *Notifier) requeue(d *delivery, host string) {
	if d.requeues >= defaultMaxRequeues {
		n.drop(d, "max requeues reached")
		return
	}

	d.requeues++
	n.requeued.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyRequeued(context.Background())
	}

	go func() {
		timer := time.NewTimer(n.cfg.Cooldown)
		defer timer.Stop()
		select {
		case <-n.shutdown:
			return
		case <-timer.C:
		}

		select {
		case n.queue <- d:
			n.logger.Debug("Event requeued", "destination", host, "type", d.payload.Event.Type, "requeues", d.requeues)
		case <-n.shutdown:
		default:
			n.drop(d, "buffer full on requeue")
		}
	}()
}

// extractHost keys circuit breakers by destination host.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
