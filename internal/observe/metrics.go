// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, trace-aware structured logging and
// HTTP middleware for the health server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [InitProvider], so they can be scraped from /metrics.
// The capture core registers its own instruments (earshot.capture.*); this
// package covers the assistant pipeline built on top of it. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all pipeline metrics.
const meterName = "github.com/MrWong99/earshot"

// Interaction outcomes recorded by [Metrics.RecordInteraction].
const (
	OutcomeAnswered  = "answered"
	OutcomeNoSpeech  = "no_speech"
	OutcomeEmpty     = "empty_transcript"
	OutcomeSTTError  = "stt_error"
	OutcomeLLMError  = "llm_error"
	OutcomeTTSError  = "tts_error"
	OutcomePlayError = "playback_error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the assistant
// pipeline. All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long answers take to play.
	PlaybackDuration metric.Float64Histogram

	// InteractionDuration tracks the time from wake word to the end of
	// playback. Use with attribute.String("outcome", ...).
	InteractionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// WakewordDetections counts accepted wake words. Use with attribute:
	//   attribute.String("keyword", ...)
	WakewordDetections metric.Int64Counter

	// Interactions counts finished interactions by outcome.
	Interactions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes provider, from and to.
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider latencies; local inference on modest hardware is slow.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.STTDuration, err = histogram("earshot.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("earshot.llm.duration", "Latency of LLM completion."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("earshot.tts.duration", "Latency of speech synthesis."); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = histogram("earshot.playback.duration", "Time spent playing answers."); err != nil {
		return nil, err
	}
	if met.InteractionDuration, err = histogram("earshot.interaction.duration", "Time from wake word to the end of the answer, by outcome."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.WakewordDetections, err = m.Int64Counter("earshot.wakeword.detections",
		metric.WithDescription("Total accepted wake words by keyword."),
	); err != nil {
		return nil, err
	}
	if met.Interactions, err = m.Int64Counter("earshot.interactions",
		metric.WithDescription("Total interactions by outcome."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("earshot.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes per provider."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments are bound to the exporting provider. Panics if instrument
// creation fails (should not happen with the global provider).
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderCall records the request counter, the error counter when err
// is non-nil, and d on the histogram h. h may be nil.
func (m *Metrics) RecordProviderCall(ctx context.Context, h metric.Float64Histogram, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
	if h != nil {
		h.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	}
}

// RecordWakeword records an accepted wake word.
func (m *Metrics) RecordWakeword(ctx context.Context, keyword string) {
	m.WakewordDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordInteraction records a finished interaction and its duration.
func (m *Metrics) RecordInteraction(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Interactions.Add(ctx, 1, attrs)
	m.InteractionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
