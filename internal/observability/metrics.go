package observability

import (
	"context"
	"net/http"

	"simorchestrator/internal/run"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/runs take
// - Traffic: Request/run throughput
// - Errors: Rate of failures
// - Saturation: Active runs, pool queue and admission rejections
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Run metrics (Latency, Traffic, Errors, Saturation)
	RunDuration        metric.Float64Histogram
	RunsStarted        metric.Int64Counter
	RunsCompleted      metric.Int64Counter
	RunsActive         metric.Int64UpDownCounter
	AdmissionRejected  metric.Int64Counter
	PoolRejected       metric.Int64Counter
	PoolQueueSize      metric.Int64Gauge
	ControlRequests    metric.Int64Counter
	StoreErrorsTotal   metric.Int64Counter
	ArchiveUploads     metric.Int64Counter
	RecoveredRunsTotal metric.Int64Counter

	// Notification metrics (Latency, Traffic, Errors, Saturation)
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter
	NotifyRequeued  metric.Int64Counter
	NotifyQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("simorchestrator")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Run metrics
	m.RunDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Wall-clock duration of ended simulation runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsStarted, err = meter.Int64Counter(
		"runs_started_total",
		metric.WithDescription("Total number of execution cycles started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter(
		"runs_completed_total",
		metric.WithDescription("Total number of runs reaching a terminal state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsActive, err = meter.Int64UpDownCounter(
		"runs_active",
		metric.WithDescription("Number of runs holding an execution slot (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AdmissionRejected, err = meter.Int64Counter(
		"admission_rejected_total",
		metric.WithDescription("Total start requests refused at the concurrency ceiling"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PoolRejected, err = meter.Int64Counter(
		"pool_rejected_total",
		metric.WithDescription("Total start requests refused because the worker pool was saturated"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PoolQueueSize, err = meter.Int64Gauge(
		"pool_queue_size",
		metric.WithDescription("Accepted runs waiting for a worker (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ControlRequests, err = meter.Int64Counter(
		"run_control_requests_total",
		metric.WithDescription("Total pause, resume, reset and stop requests applied to active runs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StoreErrorsTotal, err = meter.Int64Counter(
		"store_errors_total",
		metric.WithDescription("Total run store operations that failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArchiveUploads, err = meter.Int64Counter(
		"archive_uploads_total",
		metric.WithDescription("Total terminal run records archived to object storage"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RecoveredRunsTotal, err = meter.Int64Counter(
		"runs_recovered_total",
		metric.WithDescription("Total orphaned runs marked failed at startup"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notification metrics
	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Run event delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total run events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total run events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total run events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyRequeued, err = meter.Int64Counter(
		"notify_requeued_total",
		metric.WithDescription("Total run events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyQueueSize, err = meter.Int64Gauge(
		"notify_queue_size",
		metric.WithDescription("Current number of run events in the notification queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRunStarted records a new execution cycle.
func (m *Metrics) RecordRunStarted(ctx context.Context, model string) {
	m.RunsStarted.Add(ctx, 1, metric.WithAttributes(modelAttr(model)))
}

// RecordRunCompleted records a run reaching a terminal state.
func (m *Metrics) RecordRunCompleted(ctx context.Context, model string, state run.State, durationSeconds float64) {
	attrs := metric.WithAttributes(modelAttr(model), stateAttr(state))
	m.RunsCompleted.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, durationSeconds, attrs)
}

// RecordActiveRuns adjusts the active run count.
func (m *Metrics) RecordActiveRuns(ctx context.Context, delta int64) {
	m.RunsActive.Add(ctx, delta)
}

// RecordAdmissionRejected records a start refused at the ceiling.
func (m *Metrics) RecordAdmissionRejected(ctx context.Context) {
	m.AdmissionRejected.Add(ctx, 1)
}

// RecordPoolRejected records a start refused by a saturated pool.
func (m *Metrics) RecordPoolRejected(ctx context.Context) {
	m.PoolRejected.Add(ctx, 1)
}

// RecordControl records a control verb outcome.
func (m *Metrics) RecordControl(ctx context.Context, action string, accepted bool) {
	m.ControlRequests.Add(ctx, 1, metric.WithAttributes(actionAttr(action), acceptedAttr(accepted)))
}

// RecordPoolQueueSize records the number of queued advance jobs.
func (m *Metrics) RecordPoolQueueSize(ctx context.Context, size int64) {
	m.PoolQueueSize.Record(ctx, size)
}

// RecordStoreError records a store operation that failed after retries.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrorsTotal.Add(ctx, 1, metric.WithAttributes(opAttr(op)))
}

// RecordArchiveUpload records an archive upload outcome.
func (m *Metrics) RecordArchiveUpload(ctx context.Context, success bool) {
	m.ArchiveUploads.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
}

// RecordRecoveredRuns records orphaned runs failed at startup.
func (m *Metrics) RecordRecoveredRuns(ctx context.Context, n int) {
	m.RecoveredRunsTotal.Add(ctx, int64(n))
}

// RecordNotifyDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyFailed records a failed event delivery.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a dropped event.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}

// RecordNotifyRequeued records a requeued event.
func (m *Metrics) RecordNotifyRequeued(ctx context.Context) {
	m.NotifyRequeued.Add(ctx, 1)
}

// RecordNotifyQueueSize records the current queue size.
func (m *Metrics) RecordNotifyQueueSize(ctx context.Context, size int64) {
	m.NotifyQueueSize.Record(ctx, size)
}
