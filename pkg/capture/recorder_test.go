package capture

import (
	"math"
	"testing"
)

// constChunk returns n samples of value v; its RMS is |v|.
func constChunk(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// testParams uses a 10 Hz "sample rate" so that one second is ten samples.
func testParams() Params {
	return Params{
		MaxSamples:          1000,
		SilenceSamples:      10,
		SilenceThreshold:    0.02,
		SampleRate:          10,
		SmoothingAlpha:      1,
		ThresholdMultiplier: 3,
		CalibrationSeconds:  1,
		DebounceFrames:      3,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestRecorder_StateTransitions(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	if got := r.State(); got != StateIdle {
		t.Fatalf("initial state: got %s, want idle", got)
	}
	if !r.ShouldStop() {
		t.Fatal("inactive recorder must report ShouldStop")
	}

	r.Start(nil, testParams())
	if got := r.State(); got != StateCalibrating {
		t.Fatalf("after Start: got %s, want calibrating", got)
	}
	r.AddSamples(constChunk(0.01, 5))
	if got := r.State(); got != StateCalibrating {
		t.Fatalf("mid calibration: got %s, want calibrating", got)
	}
	r.AddSamples(constChunk(0.01, 5))
	if got := r.State(); got != StateListening {
		t.Fatalf("after calibration window: got %s, want listening", got)
	}

	out := r.Stop()
	if len(out) != 10 {
		t.Fatalf("Stop returned %d samples, want 10", len(out))
	}
	if got := r.State(); got != StateStopped {
		t.Fatalf("after Stop: got %s, want stopped", got)
	}
	if !r.ShouldStop() {
		t.Fatal("stopped recorder must report ShouldStop")
	}

	// Reusable.
	r.Start(nil, testParams())
	if got := r.State(); got != StateCalibrating {
		t.Fatalf("after restart: got %s, want calibrating", got)
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("restart must discard previous samples, got %d", got)
	}
}

func TestRecorder_CalibrationAndSpeechDetection(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(nil, testParams())

	r.AddSamples(constChunk(0.01, 5))
	r.AddSamples(constChunk(0.01, 5))

	lvl := r.Level()
	if !approx(lvl.NoiseFloor, 0.01) {
		t.Fatalf("noise floor: got %v, want 0.01", lvl.NoiseFloor)
	}
	if lvl.SpeechDetected {
		t.Fatal("speech must not be detected during calibration")
	}

	r.AddSamples(constChunk(0.05, 5))
	if !r.Level().SpeechDetected {
		t.Fatal("chunk RMS 0.05 >= 3 x 0.01 must set speechDetected")
	}
}

func TestRecorder_NoiseFloorMinimum(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(nil, testParams())

	r.AddSamples(constChunk(0, 10))
	if got := r.Level().NoiseFloor; got != MinNoiseFloor {
		t.Fatalf("noise floor: got %v, want floor %v", got, MinNoiseFloor)
	}
}

func TestRecorder_CalibrationChunkIsNotEvaluated(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(nil, testParams())

	// Loud chunk completes calibration; it raises the floor but cannot
	// count as speech itself.
	r.AddSamples(constChunk(0.5, 10))
	if r.Level().SpeechDetected {
		t.Fatal("calibration-completing chunk must not be evaluated")
	}
}

func TestRecorder_LookbackCountsTowardsCalibration(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(constChunk(0, 10), testParams())
	if got := r.Len(); got != 10 {
		t.Fatalf("lookback must seed accumulated, got %d", got)
	}

	// Lookback already fills the window, so the first chunk finishes
	// calibration.
	r.AddSamples(constChunk(0.01, 2))
	if got := r.State(); got != StateListening {
		t.Fatalf("state: got %s, want listening", got)
	}
}

func TestRecorder_DebounceDelaysSilence(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(nil, testParams())
	r.AddSamples(constChunk(0.01, 10)) // calibrate
	r.AddSamples(constChunk(0.05, 5))  // speech

	r.AddSamples(constChunk(0, 4))
	r.AddSamples(constChunk(0, 4))
	if got := r.consecutiveSilence; got != 0 {
		t.Fatalf("after 2 quiet chunks: consecutiveSilence = %d, want 0", got)
	}
	r.AddSamples(constChunk(0, 4))
	if got := r.consecutiveSilence; got != 4 {
		t.Fatalf("after 3rd quiet chunk: consecutiveSilence = %d, want 4", got)
	}
}

func TestRecorder_SpeechResetsSilence(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(nil, testParams())
	r.AddSamples(constChunk(0.01, 10))
	r.AddSamples(constChunk(0.05, 5))
	for range 4 {
		r.AddSamples(constChunk(0, 2))
	}
	if r.consecutiveSilence == 0 {
		t.Fatal("expected some silence before the speech burst")
	}

	r.AddSamples(constChunk(0.05, 2))
	if r.consecutiveSilence != 0 || r.silentFrameCount != 0 {
		t.Fatalf("speech must reset counters, got silence=%d frames=%d",
			r.consecutiveSilence, r.silentFrameCount)
	}
}

func TestRecorder_SilenceBeforeSpeechNeverCounts(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Start(nil, testParams())
	r.AddSamples(constChunk(0.01, 10))
	for range 20 {
		r.AddSamples(constChunk(0, 5))
	}
	if r.consecutiveSilence != 0 {
		t.Fatalf("silence counted before speech: %d", r.consecutiveSilence)
	}
	if r.ShouldStop() {
		t.Fatal("must not stop on silence without speech")
	}
}

func TestRecorder_StopsAfterSilence(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	p := testParams()
	p.DebounceFrames = 1
	p.SilenceSamples = 6
	r.Start(nil, p)
	r.AddSamples(constChunk(0.01, 10))
	r.AddSamples(constChunk(0.05, 5))

	r.AddSamples(constChunk(0, 3))
	if r.ShouldStop() {
		t.Fatal("stopped too early")
	}
	r.AddSamples(constChunk(0, 3))
	if !r.ShouldStop() {
		t.Fatal("expected stop after 6 samples of silence")
	}
}

func TestRecorder_MaxSamplesCap(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	p := testParams()
	p.MaxSamples = 25
	r.Start(constChunk(0, 5), p)

	for r.Len()+5 < p.MaxSamples {
		r.AddSamples(constChunk(0.3, 5))
		if r.ShouldStop() {
			t.Fatalf("stopped at %d samples, before cap %d", r.Len(), p.MaxSamples)
		}
	}
	r.AddSamples(constChunk(0.3, 5))
	if r.Len() != p.MaxSamples {
		t.Fatalf("len: got %d, want %d", r.Len(), p.MaxSamples)
	}
	if !r.ShouldStop() {
		t.Fatal("must stop once the cap is reached")
	}
}

func TestRecorder_EMASmoothing(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	p := testParams()
	p.SmoothingAlpha = 0.5
	r.Start(nil, p)

	r.AddSamples(constChunk(0.4, 2))
	if got := r.Level().SmoothedRMS; !approx(got, 0.4) {
		t.Fatalf("first chunk must initialise directly: got %v", got)
	}
	r.AddSamples(constChunk(0, 2))
	if got := r.Level().SmoothedRMS; !approx(got, 0.2) {
		t.Fatalf("EMA: got %v, want 0.2", got)
	}
}

func TestRecorder_AddSamplesWhenInactiveIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.AddSamples(constChunk(0.5, 10))
	if got := r.Len(); got != 0 {
		t.Fatalf("inactive recorder accumulated %d samples", got)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := rms(nil); got != 0 {
		t.Fatalf("rms(nil) = %v", got)
	}
	if got := rms([]float32{3, -4, 3, -4}); !approx(got, math.Sqrt(12.5)) {
		t.Fatalf("rms = %v", got)
	}
}
