package stt_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const frame = 320 // 20 ms at 16 kHz

// framesOf builds audio from per-frame amplitudes; a non-zero amplitude
// produces a frame whose RMS equals it.
func framesOf(amps ...float32) []float32 {
	out := make([]float32, 0, len(amps)*frame)
	for _, a := range amps {
		for i := range frame {
			if i%2 == 0 {
				out = append(out, a)
			} else {
				out = append(out, -a)
			}
		}
	}
	return out
}

// layout returns n frames of silence with speech at the given frame indices.
func layout(n int, speech ...int) []float32 {
	amps := make([]float32, n)
	for _, i := range speech {
		amps[i] = 0.5
	}
	return framesOf(amps...)
}

func TestTrimSilence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         []float32
		wantFrames int
	}{
		{"all silence", layout(30), 0},
		{"isolated speech keeps margins", layout(105, 50, 51, 52, 53, 54), 15},
		{"short pause bridged", layout(40, 10, 26), 27},
		{"long pause cut", layout(60, 10, 40), 22},
		{"speech at start clips margin", layout(20, 0), 6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := stt.TrimSilence(tc.in, 16000)
			if len(got) != tc.wantFrames*frame {
				t.Fatalf("got %d samples (%d frames), want %d frames", len(got), len(got)/frame, tc.wantFrames)
			}
		})
	}
}

func TestTrimSilence_TrailingPartialFrame(t *testing.T) {
	t.Parallel()
	in := append(layout(10, 9), 0.5, 0.5, 0.5)
	got := stt.TrimSilence(in, 16000)
	// Frames 4..9 plus the three trailing samples.
	if want := 6*frame + 3; len(got) != want {
		t.Fatalf("got %d samples, want %d", len(got), want)
	}

	in = append(layout(20, 0), 0.5, 0.5, 0.5)
	if got := stt.TrimSilence(in, 16000); len(got) != 6*frame {
		t.Fatalf("trailing samples after silence must be dropped, got %d", len(got))
	}
}

func TestTrimSilence_ShorterThanFrame(t *testing.T) {
	t.Parallel()
	in := []float32{0, 0, 0}
	if got := stt.TrimSilence(in, 16000); len(got) != 3 {
		t.Fatalf("got %d samples, want input unchanged", len(got))
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []float32
		wantPeak float64
	}{
		{"quiet scaled up", []float32{0.1, -0.3, 0.2}, 0.9},
		{"loud unchanged", []float32{0.95, -0.5}, 0.95},
		{"near silence unchanged", []float32{0.0005, -0.0002}, 0.0005},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := stt.Normalize(tc.in)
			var peak float64
			for _, s := range got {
				peak = max(peak, math.Abs(float64(s)))
			}
			if math.Abs(peak-tc.wantPeak) > 1e-5 {
				t.Fatalf("peak: got %v, want %v", peak, tc.wantPeak)
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	t.Run("too short", func(t *testing.T) {
		t.Parallel()
		if _, err := stt.Prepare(make([]float32, 7999), 16000); !errors.Is(err, stt.ErrTooShort) {
			t.Fatalf("err: got %v, want ErrTooShort", err)
		}
	})
	t.Run("no speech", func(t *testing.T) {
		t.Parallel()
		out, err := stt.Prepare(make([]float32, 16000), 16000)
		if err != nil || out != nil {
			t.Fatalf("got (%d samples, %v), want (nil, nil)", len(out), err)
		}
	})
	t.Run("speech trimmed and normalised", func(t *testing.T) {
		t.Parallel()
		amps := make([]float32, 50)
		for i := 20; i < 25; i++ {
			amps[i] = 0.1
		}
		out, err := stt.Prepare(framesOf(amps...), 16000)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 15*frame {
			t.Fatalf("got %d samples, want %d", len(out), 15*frame)
		}
		if math.Abs(float64(out[5*frame])-0.9) > 1e-5 {
			t.Fatalf("speech not normalised: %v", out[5*frame])
		}
	})
}
