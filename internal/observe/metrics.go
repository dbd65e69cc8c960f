// Package observe provides observability primitives for Voicewire:
// OpenTelemetry metric instruments for the transcription session and a
// Prometheus exporter bridge.
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

// meterName is the instrumentation scope name used for all Voicewire metrics.
const meterName = "github.com/voicewire/voicewire"

// Metrics holds all OpenTelemetry metric instruments for the library.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TTFB tracks time-to-first-byte of transcription: the latency between
	// audio being sent and the first partial word covering it.
	TTFB metric.Float64Histogram

	// TurnDelay tracks the computed end-of-utterance delay per turn.
	TurnDelay metric.Float64Histogram

	// AudioSeconds counts seconds of audio sent to the STT service.
	AudioSeconds metric.Float64Counter

	// Segments counts emitted segments. Use with attribute:
	//   attribute.String("kind", "final"|"interim")
	Segments metric.Int64Counter

	// Turns counts completed turns.
	Turns metric.Int64Counter

	// ProtocolErrors counts discarded malformed or unknown server messages.
	ProtocolErrors metric.Int64Counter

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// ttfbBuckets defines histogram bucket boundaries (in milliseconds) for
// transcription first-byte latency.
var ttfbBuckets = []float64{
	50, 100, 200, 350, 500, 750, 1000, 1500, 2500, 5000,
}

// delayBuckets defines histogram bucket boundaries (in seconds) for
// end-of-utterance delays.
var delayBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TTFB, err = m.Float64Histogram("voicewire.ttfb",
		metric.WithDescription("Time to first byte of transcription."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(ttfbBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDelay, err = m.Float64Histogram("voicewire.turn.delay",
		metric.WithDescription("Computed end-of-utterance delay per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(delayBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AudioSeconds, err = m.Float64Counter("voicewire.audio.seconds",
		metric.WithDescription("Seconds of audio sent to the STT service."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voicewire.segments",
		metric.WithDescription("Emitted speaker segments by kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voicewire.turns",
		metric.WithDescription("Completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("voicewire.protocol.errors",
		metric.WithDescription("Discarded malformed or unknown server messages."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicewire.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
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

// RecordSegments records emitted segment counts with the standard kind
// attribute.
func (m *Metrics) RecordSegments(ctx context.Context, kind string, n int) {
	m.Segments.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
