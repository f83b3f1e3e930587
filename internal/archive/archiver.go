// Package archive copies terminal run records to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"simorchestrator/internal/run"
	"simorchestrator/pkg/backoff"
)

const (
	contentType   = "application/json"
	uploadTimeout = 30 * time.Second
	uploadTries   = 3
)

// Bucket stores objects by key.
type Bucket interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Ready(ctx context.Context) error
}

// MetricsRecorder receives upload outcomes.
type MetricsRecorder interface {
	RecordArchiveUpload(ctx context.Context, success bool)
}

// Stats holds archiver counters.
type Stats struct {
	Uploaded int64
	Failed   int64
	Dropped  int64
}

// Archiver uploads a JSON copy of every run that reaches a terminal state.
// Uploads happen on a single background goroutine and never block the caller.
type Archiver struct {
	bucket  Bucket
	prefix  string
	queue   chan run.Run
	logger  *slog.Logger
	metrics MetricsRecorder

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	closed   atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New starts an archiver writing to bucket. metrics may be nil.
func New(bucket Bucket, cfg Config, metrics MetricsRecorder) *Archiver {
	cfg = cfg.withDefaults()
	a := &Archiver{
		bucket:   bucket,
		prefix:   cfg.Prefix,
		queue:    make(chan run.Run, cfg.BufferSize),
		logger:   slog.With("component", "archive"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// RunTransitioned queues terminal runs for upload.
func (a *Archiver) RunTransitioned(_ context.Context, r run.Run, _ run.State) {
	if !r.State.IsTerminal() || a.closed.Load() {
		return
	}
	select {
	case a.queue <- *r.Clone():
	default:
		a.dropped.Add(1)
		a.logger.Warn("Archive queue full, run record dropped", "runId", r.ID)
	}
}

// Ready reports whether the bucket is reachable.
func (a *Archiver) Ready(ctx context.Context) error {
	return a.bucket.Ready(ctx)
}

// Stats returns archiver counters.
func (a *Archiver) Stats() Stats {
	return Stats{
		Uploaded: a.uploaded.Load(),
		Failed:   a.failed.Load(),
		Dropped:  a.dropped.Load(),
	}
}

// Close uploads what is already queued and stops the archiver, or gives up when ctx ends.
func (a *Archiver) Close(ctx context.Context) error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.shutdown)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.logger.Warn("Archive shutdown timed out", "remaining", len(a.queue))
		return ctx.Err()
	}
}

func (a *Archiver) loop() {
	defer a.wg.Done()
	for {
		select {
		case r := <-a.queue:
			a.upload(r)
		case <-a.shutdown:
			for {
				select {
				case r := <-a.queue:
					a.upload(r)
				default:
					return
				}
			}
		}
	}
}

func (a *Archiver) upload(r run.Run) {
	body, err := encode(r)
	if err != nil {
		a.record(false)
		a.logger.Error("Failed to encode run record", "runId", r.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	key := objectKey(a.prefix, r.ID)
	err = backoff.Retry(ctx, uploadTries, nil, func(ctx context.Context) error {
		return a.bucket.Put(ctx, key, bytes.NewReader(body), int64(len(body)), contentType)
	})
	if err != nil {
		a.record(false)
		a.logger.Warn("Failed to archive run", "runId", r.ID, "key", key, "error", err)
		return
	}

	a.record(true)
	a.logger.Debug("Run archived", "runId", r.ID, "key", key, "state", r.State)
}

func (a *Archiver) record(success bool) {
	if success {
		a.uploaded.Add(1)
	} else {
		a.failed.Add(1)
	}
	if a.metrics != nil {
		a.metrics.RecordArchiveUpload(context.Background(), success)
	}
}

func objectKey(prefix, id string) string {
	return prefix + id + ".json"
}

func encode(r run.Run) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
