// Package observe provides application-wide observability primitives for
// Trunkline: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Trunkline metrics.
const meterName = "github.com/trunkline/trunkline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnLatency tracks the time from an audio commit to the backend
	// starting its spoken response.
	TurnLatency metric.Float64Histogram

	// CallDuration tracks wall-clock call length from registry creation to
	// finalization.
	CallDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIn counts inbound caller media frames.
	FramesIn metric.Int64Counter

	// FramesOut counts outbound agent media frames emitted by the pacer.
	FramesOut metric.Int64Counter

	// Commits counts audio buffer commits sent to the backend.
	Commits metric.Int64Counter

	// SummaryWrites counts end-of-call summary appends. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	SummaryWrites metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts turn errors reported by the AI backend. Use with
	// attribute: attribute.String("code", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live bridged calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// turnLatencyBuckets defines histogram bucket boundaries (in seconds) sized
// for conversational turn latencies.
var turnLatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3.5, 5, 10,
}

// callDurationBuckets covers call lengths from a hangup-on-greeting to long
// conversations.
var callDurationBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnLatency, err = m.Float64Histogram("trunkline.turn.latency",
		metric.WithDescription("Time from audio commit to the backend's response starting."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("trunkline.call.duration",
		metric.WithDescription("Wall-clock call duration at finalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callDurationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("trunkline.frames.in",
		metric.WithDescription("Inbound caller media frames received."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("trunkline.frames.out",
		metric.WithDescription("Outbound agent media frames sent."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("trunkline.commits",
		metric.WithDescription("Audio buffer commits sent to the backend."),
	); err != nil {
		return nil, err
	}
	if met.SummaryWrites, err = m.Int64Counter("trunkline.summary.writes",
		metric.WithDescription("End-of-call summary appends by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("trunkline.backend.errors",
		metric.WithDescription("Turn errors reported by the AI backend, by code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("trunkline.active_calls",
		metric.WithDescription("Number of live bridged calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("trunkline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurnLatency records one commit-to-response latency sample.
func (m *Metrics) RecordTurnLatency(ctx context.Context, d time.Duration) {
	m.TurnLatency.Record(ctx, d.Seconds())
}

// RecordCallDuration records the wall-clock length of one finished call.
func (m *Metrics) RecordCallDuration(ctx context.Context, d time.Duration) {
	m.CallDuration.Record(ctx, d.Seconds())
}

// RecordSummaryWrite records one summary append with its outcome.
func (m *Metrics) RecordSummaryWrite(ctx context.Context, status string) {
	m.SummaryWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordBackendError records one backend turn error by code.
func (m *Metrics) RecordBackendError(ctx context.Context, code string) {
	if code == "" {
		code = "unknown"
	}
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)),
	)
}
