// Package observe provides the observability primitives of voxseg:
// OpenTelemetry metrics and tracing, trace-aware logging, HTTP middleware, a
// pipeline stage that turns pipeline events into metrics, and Sentry error
// reporting.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped from /metrics.
// [DefaultMetrics] uses the global provider; tests should call [NewMetrics]
// with their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxseg metrics.
const meterName = "github.com/MrWong99/voxseg"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types are safe for concurrent use.
type Metrics struct {
	// --- Pipeline ---

	// Frames counts frames handled by the pipeline.
	Frames metric.Int64Counter

	// FramesDropped counts frames dropped by a full pending queue.
	FramesDropped metric.Int64Counter

	// VADDecisions counts VAD decisions. Attribute: speech (bool).
	VADDecisions metric.Int64Counter

	// Segments counts closed speech segments.
	Segments metric.Int64Counter

	// SegmentDuration records the length of closed segments.
	SegmentDuration metric.Float64Histogram

	// PipelineErrors counts error events. Attribute: code.
	PipelineErrors metric.Int64Counter

	// PushDuration records the time spent pushing one frame through the
	// stages.
	PushDuration metric.Float64Histogram

	// ActiveStreams tracks the number of streams being segmented.
	ActiveStreams metric.Int64UpDownCounter

	// --- Sinks ---

	// SinkWrites counts segment writes. Attributes: sink, status.
	SinkWrites metric.Int64Counter

	// SinkWriteDuration records segment write latency. Attribute: sink.
	SinkWriteDuration metric.Float64Histogram

	// SinkQueueDropped counts segments dropped because a sink queue was full.
	SinkQueueDropped metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: name, state.
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// segmentBuckets are histogram boundaries in seconds for utterance lengths.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 30, 60,
}

// latencyBuckets are histogram boundaries in seconds for I/O and processing.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Frames, err = m.Int64Counter("voxseg.pipeline.frames",
		metric.WithDescription("Total audio frames handled by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxseg.pipeline.frames.dropped",
		metric.WithDescription("Frames dropped because the pending queue was full."),
	); err != nil {
		return nil, err
	}
	if met.VADDecisions, err = m.Int64Counter("voxseg.vad.decisions",
		metric.WithDescription("VAD decisions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voxseg.segments",
		metric.WithDescription("Closed speech segments."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("voxseg.pipeline.errors",
		metric.WithDescription("Pipeline error events by code."),
	); err != nil {
		return nil, err
	}
	if met.SinkWrites, err = m.Int64Counter("voxseg.sink.writes",
		metric.WithDescription("Segment writes by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.SinkQueueDropped, err = m.Int64Counter("voxseg.sink.queue.dropped",
		metric.WithDescription("Segments dropped because a sink queue was full."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxseg.circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("voxseg.segment.duration",
		metric.WithDescription("Length of closed speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PushDuration, err = m.Float64Histogram("voxseg.pipeline.push.duration",
		metric.WithDescription("Time spent pushing one frame through the stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkWriteDuration, err = m.Float64Histogram("voxseg.sink.write.duration",
		metric.WithDescription("Latency of segment writes by sink."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxseg.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxseg.active_streams",
		metric.WithDescription("Number of streams currently being segmented."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the configured provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSinkWrite records one segment write with its outcome and latency in
// seconds.
func (m *Metrics) RecordSinkWrite(ctx context.Context, sink string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("status", status),
	))
	m.SinkWriteDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordBreakerTransition records a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("state", state),
	))
}
