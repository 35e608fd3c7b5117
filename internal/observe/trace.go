package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/earshot"

// Tracer returns the earshot tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartInteraction opens the root span of one wake-word interaction. Every
// stage span (stt, llm, tts, playback) is started from the returned context.
func StartInteraction(ctx context.Context, id, keyword string, score float64) (context.Context, trace.Span) {
	return StartSpan(ctx, "interaction",
		trace.WithAttributes(
			attribute.String("interaction.id", id),
			attribute.String("wakeword.keyword", keyword),
			attribute.Float64("wakeword.score", score),
		),
	)
}

// EndInteraction records outcome on span, marks failed outcomes as errors
// and ends the span.
func EndInteraction(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("interaction.outcome", outcome))
	if FailedOutcome(outcome) {
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

// FailedOutcome reports whether outcome means a stage broke. Silence, an
// empty transcript and cancellation are normal ends of an interaction.
func FailedOutcome(outcome string) bool {
	switch outcome {
	case OutcomeAnswered, OutcomeNoSpeech, OutcomeEmpty, OutcomeCancelled:
		return false
	}
	return true
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
