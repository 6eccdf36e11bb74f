// Package observe provides application-wide observability primitives for
// voxmux: OpenTelemetry metrics, tracing helpers, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxmux metrics.
const meterName = "github.com/voxmux/voxmux"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks the latency of one engine turn (context switch +
	// incremental decode). Use with attribute.String("source", ...).
	TurnDuration metric.Float64Histogram

	// ContextSwitches counts engine context switches. Use with
	// attribute.String("kind", "restored"|"fresh").
	ContextSwitches metric.Int64Counter

	// Transcripts counts non-empty transcript messages emitted. Use with
	// attribute.String("source", ...).
	Transcripts metric.Int64Counter

	// DroppedChunks counts audio chunks discarded by buffer backpressure.
	// Use with attribute.String("source", ...).
	DroppedChunks metric.Int64Counter

	// EngineErrors counts failed decode turns. Use with
	// attribute.String("source", ...).
	EngineErrors metric.Int64Counter

	// ActiveSources tracks the number of currently connected audio sources.
	ActiveSources metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// turnBuckets defines histogram bucket boundaries (in seconds) sized for
// incremental decode turns on a local model.
var turnBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("voxmux.turn.duration",
		metric.WithDescription("Latency of one engine turn, context switch included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ContextSwitches, err = m.Int64Counter("voxmux.context.switches",
		metric.WithDescription("Engine context switches by kind (restored or fresh)."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voxmux.transcripts",
		metric.WithDescription("Non-empty transcript messages emitted, by source."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("voxmux.chunks.dropped",
		metric.WithDescription("Audio chunks discarded by sliding-window backpressure."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("voxmux.engine.errors",
		metric.WithDescription("Failed decode turns, by source."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSources, err = m.Int64UpDownCounter("voxmux.active_sources",
		metric.WithDescription("Number of currently connected audio sources."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmux.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordTurn records one completed engine turn for source with the given
// duration in seconds.
func (m *Metrics) RecordTurn(ctx context.Context, source string, seconds float64) {
	m.TurnDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordContextSwitch records one engine context switch.
func (m *Metrics) RecordContextSwitch(ctx context.Context, restored bool) {
	kind := "fresh"
	if restored {
		kind = "restored"
	}
	m.ContextSwitches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTranscript records one emitted transcript message.
func (m *Metrics) RecordTranscript(ctx context.Context, source string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordDroppedChunks records n chunks dropped from source's buffer.
func (m *Metrics) RecordDroppedChunks(ctx context.Context, source string, n int) {
	if n <= 0 {
		return
	}
	m.DroppedChunks.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordEngineError records one failed decode turn.
func (m *Metrics) RecordEngineError(ctx context.Context, source string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
