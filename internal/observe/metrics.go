// Package observe provides application-wide observability primitives for
// VoxAssist: OpenTelemetry metrics, tracing helpers, and HTTP middleware
// that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxAssist metrics.
const meterName = "github.com/MrWong99/voxassist"

// Metrics holds all OpenTelemetry metric instruments for the transcription
// and hint pipeline. All fields are safe for concurrent use; the underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// FramesIngested counts audio frames accepted from the client. Use with
	// attribute.String("channel", "mic"|"system").
	FramesIngested metric.Int64Counter

	// FramesDropped counts frames evicted from a full queue. Use with
	// attribute.String("channel", ...).
	FramesDropped metric.Int64Counter

	// TranscriptSegments counts completed transcript segments. Use with
	// attribute.String("speaker", "ME"|"THEM").
	TranscriptSegments metric.Int64Counter

	// HintTokens counts streamed hint tokens.
	HintTokens metric.Int64Counter

	// HintsGenerated counts completed hints. Use with
	// attribute.String("mode", ...).
	HintsGenerated metric.Int64Counter

	// HintDuration tracks time from a trigger-ready chunk to its completed
	// hint.
	HintDuration metric.Float64Histogram

	// STTErrors counts transcription stream errors.
	STTErrors metric.Int64Counter

	// LLMErrors counts hint generation errors.
	LLMErrors metric.Int64Counter

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for hint generation latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesIngested, err = m.Int64Counter("voxassist.audio.frames_ingested",
		metric.WithDescription("Audio frames accepted from the client by channel."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxassist.audio.frames_dropped",
		metric.WithDescription("Audio frames evicted from a full ingest queue by channel."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSegments, err = m.Int64Counter("voxassist.transcript.segments",
		metric.WithDescription("Completed transcript segments by speaker."),
	); err != nil {
		return nil, err
	}
	if met.HintTokens, err = m.Int64Counter("voxassist.hint.tokens",
		metric.WithDescription("Streamed hint tokens."),
	); err != nil {
		return nil, err
	}
	if met.HintsGenerated, err = m.Int64Counter("voxassist.hint.generated",
		metric.WithDescription("Completed hints by session mode."),
	); err != nil {
		return nil, err
	}
	if met.HintDuration, err = m.Float64Histogram("voxassist.hint.duration",
		metric.WithDescription("Latency from trigger-ready chunk to completed hint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTErrors, err = m.Int64Counter("voxassist.stt.errors",
		metric.WithDescription("Transcription stream errors."),
	); err != nil {
		return nil, err
	}
	if met.LLMErrors, err = m.Int64Counter("voxassist.llm.errors",
		metric.WithDescription("Hint generation errors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxassist.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxassist.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one accepted audio frame for the given channel.
func (m *Metrics) RecordFrame(ctx context.Context, channel string) {
	m.FramesIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}

// RecordDrop records one evicted audio frame for the given channel.
func (m *Metrics) RecordDrop(ctx context.Context, channel string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}

// RecordSegment records one completed transcript segment for the speaker.
func (m *Metrics) RecordSegment(ctx context.Context, speaker string) {
	m.TranscriptSegments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordHint records one completed hint and its generation latency.
func (m *Metrics) RecordHint(ctx context.Context, mode string, seconds float64) {
	m.HintsGenerated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
	if seconds >= 0 {
		m.HintDuration.Record(ctx, seconds)
	}
}
