package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// pool runs advance jobs on a fixed set of workers. Capacity is accounted in
// tickets: a ticket is taken when a run is accepted and returned when its job
// has run, so the job channel never holds more than workers+queue entries and
// enqueue never blocks.
type pool struct {
	jobs    chan func()
	tickets chan struct{}
	workers int
	queue   int
	logger  *slog.Logger
	metrics MetricsRecorder

	busy atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

func newPool(workers, queue int, metrics MetricsRecorder) *pool {
	p := &pool{
		jobs:     make(chan func(), workers+queue),
		tickets:  make(chan struct{}, workers+queue),
		workers:  workers,
		queue:    queue,
		logger:   slog.With("component", "pool"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	if metrics != nil {
		go p.reportQueueSize()
	}
	return p
}

// tryAcquire takes a ticket without blocking.
func (p *pool) tryAcquire() bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.tickets <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *pool) releaseTicket() {
	select {
	case <-p.tickets:
	default:
	}
}

// enqueue schedules job. The caller must hold a ticket; it is returned once
// the job has run.
func (p *pool) enqueue(job func()) {
	p.jobs <- job
}

func (p *pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdown:
			p.drain()
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			p.run(job)
		default:
			return
		}
	}
}

func (p *pool) run(job func()) {
	defer p.releaseTicket()
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Advance job panicked", "panic", r)
		}
	}()
	job()
}

func (p *pool) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.metrics.RecordPoolQueueSize(context.Background(), int64(len(p.jobs)))
		}
	}
}

func (p *pool) saturated() bool {
	return len(p.tickets) == cap(p.tickets)
}

// close stops the workers once queued jobs have run.
func (p *pool) close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.shutdown)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool shutdown timed out", "busy", p.busy.Load())
		return ctx.Err()
	}
}
