package observe

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_LatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := map[string]metric.Float64Histogram{
		"earshot.stt.duration":          m.STTDuration,
		"earshot.llm.duration":          m.LLMDuration,
		"earshot.tts.duration":          m.TTSDuration,
		"earshot.playback.duration":     m.PlaybackDuration,
		"earshot.interaction.duration":  m.InteractionDuration,
		"earshot.http.request.duration": m.HTTPRequestDuration,
	}
	for _, h := range histograms {
		// 7s lands in the (5, 10] bucket, which the SDK defaults lack.
		h.Record(ctx, 7)
	}

	rm := collect(t, reader)
	for name := range histograms {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			if met.Unit != "s" {
				t.Errorf("unit = %q, want s", met.Unit)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("data = %+v", met.Data)
			}
			if name == "earshot.http.request.duration" {
				return
			}
			dp := hist.DataPoints[0]
			if !slices.Equal(dp.Bounds, latencyBuckets) {
				t.Fatalf("bounds = %v, want %v", dp.Bounds, latencyBuckets)
			}
			if idx := slices.Index(dp.Bounds, 10); dp.BucketCounts[idx] != 1 {
				t.Errorf("bucket counts = %v, want the 7s sample in (5, 10]", dp.BucketCounts)
			}
		})
	}
}

// sumFor returns the value of the data point of the named counter that
// carries key=value, and whether it was found.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "error")

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "earshot.provider.requests", "status", "ok"); !ok || got != 2 {
		t.Errorf("status=ok: got (%d, %v), want 2", got, ok)
	}
	if got, ok := sumFor(t, rm, "earshot.provider.requests", "status", "error"); !ok || got != 1 {
		t.Errorf("status=error: got (%d, %v), want 1", got, ok)
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, m.TTSDuration, "voicevox", "tts", 300*time.Millisecond, nil)
	m.RecordProviderCall(ctx, m.TTSDuration, "voicevox", "tts", time.Second, errors.New("boom"))
	m.RecordProviderCall(ctx, nil, "voicevox", "tts", 0, nil)

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "earshot.provider.requests", "status", "ok"); !ok || got != 2 {
		t.Errorf("requests ok: got (%d, %v), want 2", got, ok)
	}
	if got, ok := sumFor(t, rm, "earshot.provider.errors", "kind", "tts"); !ok || got != 1 {
		t.Errorf("errors: got (%d, %v), want 1", got, ok)
	}
	hist, ok := findMetric(rm, "earshot.tts.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("tts histogram: got %+v", hist)
	}
}

func TestRecordWakeword(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWakeword(ctx, "hey earshot")
	m.RecordWakeword(ctx, "hey earshot")

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "earshot.wakeword.detections", "keyword", "hey earshot"); !ok || got != 2 {
		t.Errorf("detections: got (%d, %v), want 2", got, ok)
	}
}

func TestRecordInteraction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInteraction(ctx, OutcomeAnswered, 4*time.Second)
	m.RecordInteraction(ctx, OutcomeNoSpeech, time.Second)
	m.RecordInteraction(ctx, OutcomeAnswered, 6*time.Second)

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "earshot.interactions", "outcome", OutcomeAnswered); !ok || got != 2 {
		t.Errorf("answered: got (%d, %v), want 2", got, ok)
	}
	if got, ok := sumFor(t, rm, "earshot.interactions", "outcome", OutcomeNoSpeech); !ok || got != 1 {
		t.Errorf("no_speech: got (%d, %v), want 1", got, ok)
	}
	hist, ok := findMetric(rm, "earshot.interaction.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Fatalf("interaction histogram: got %+v", hist)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "ollama", "closed", "open")
	m.RecordBreakerTransition(ctx, "ollama", "open", "half-open")

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "earshot.breaker.transitions", "to", "open"); !ok || got != 1 {
		t.Errorf("to=open: got (%d, %v), want 1", got, ok)
	}
	if got, ok := sumFor(t, rm, "earshot.breaker.transitions", "provider", "ollama"); !ok || got != 1 {
		t.Errorf("provider=ollama: got (%d, %v), want 1 per data point", got, ok)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestInitProvider(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	origProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})

	reg := prometheus.NewRegistry()
	mp, shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: reg, ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordWakeword(context.Background(), "computer")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "earshot_wakeword_detections") {
			found = true
		}
	}
	if !found {
		t.Error("wake-word counter not exported to the prometheus registry")
	}
	if fields := otel.GetTextMapPropagator().Fields(); !slices.Contains(fields, "traceparent") {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}
