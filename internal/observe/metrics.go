// Package observe provides application-wide observability primitives for
// VoiceCue: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all VoiceCue metrics.
const meterName = "github.com/voicecue/voicecue"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// MatchScore tracks accepted alignment-match similarity scores.
	MatchScore metric.Float64Histogram

	// TranscriptGap tracks the time between consecutive transcript events.
	TranscriptGap metric.Float64Histogram

	// TranscriptEvents counts transcript events. Use with attribute:
	//   attribute.Bool("end_of_turn", ...)
	TranscriptEvents metric.Int64Counter

	// ReconnectAttempts counts scheduled transport reconnects.
	ReconnectAttempts metric.Int64Counter

	// ProtocolErrors counts malformed provider messages.
	ProtocolErrors metric.Int64Counter

	// ManualOverrides counts manual scroll/search cursor overrides. Use
	// with attribute: attribute.String("kind", "scroll"|"search").
	ManualOverrides metric.Int64Counter

	// StallEvents counts inactivity stalls while voice-sync was active.
	StallEvents metric.Int64Counter

	// ActiveSessions tracks the number of live voice-sync sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// scoreBuckets covers the [0, 1] similarity score range, with extra
// resolution around the acceptance thresholds.
var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 0.95, 1,
}

// gapBuckets covers transcript inter-arrival gaps (in seconds) up to and
// past the default inactivity window.
var gapBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.MatchScore, err = m.Float64Histogram("voicecue.match.score",
		metric.WithDescription("Similarity score of accepted alignment matches."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptGap, err = m.Float64Histogram("voicecue.transcript.gap",
		metric.WithDescription("Time between consecutive transcript events."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gapBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TranscriptEvents, err = m.Int64Counter("voicecue.transcript.events",
		metric.WithDescription("Total transcript events by end-of-turn flag."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voicecue.transport.reconnects",
		metric.WithDescription("Total scheduled transport reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("voicecue.transport.protocol_errors",
		metric.WithDescription("Total malformed provider messages ignored."),
	); err != nil {
		return nil, err
	}
	if met.ManualOverrides, err = m.Int64Counter("voicecue.sync.manual_overrides",
		metric.WithDescription("Total manual cursor overrides by kind."),
	); err != nil {
		return nil, err
	}
	if met.StallEvents, err = m.Int64Counter("voicecue.sync.stalls",
		metric.WithDescription("Total inactivity stalls while voice-sync was active."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecue.active_sessions",
		metric.WithDescription("Number of live voice-sync sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicecue.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordMatch records the score of an accepted alignment match.
func (m *Metrics) RecordMatch(ctx context.Context, score float64) {
	m.MatchScore.Record(ctx, score)
}

// RecordTranscript records one transcript event.
func (m *Metrics) RecordTranscript(ctx context.Context, endOfTurn bool) {
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("end_of_turn", endOfTurn)),
	)
}

// RecordTranscriptGap records the gap since the previous transcript event.
func (m *Metrics) RecordTranscriptGap(ctx context.Context, seconds float64) {
	m.TranscriptGap.Record(ctx, seconds)
}

// RecordReconnectAttempt records one scheduled reconnect.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context) {
	m.ReconnectAttempts.Add(ctx, 1)
}

// RecordProtocolError records one ignored malformed provider message.
func (m *Metrics) RecordProtocolError(ctx context.Context) {
	m.ProtocolErrors.Add(ctx, 1)
}

// RecordManualOverride records a manual cursor override of the given kind
// ("scroll" or "search").
func (m *Metrics) RecordManualOverride(ctx context.Context, kind string) {
	m.ManualOverrides.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordStall records one inactivity stall.
func (m *Metrics) RecordStall(ctx context.Context) {
	m.StallEvents.Add(ctx, 1)
}
