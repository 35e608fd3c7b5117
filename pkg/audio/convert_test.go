package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestMixToMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frames   []float32
		channels int
		gain     float32
		want     []float32
	}{
		{"mono passthrough", []float32{0.1, -0.2, 0.3}, 1, 1, []float32{0.1, -0.2, 0.3}},
		{"stereo average", []float32{0.5, 0.25, -1, 0}, 2, 1, []float32{0.375, -0.5}},
		{"gain", []float32{0.25, -0.125}, 1, 2, []float32{0.5, -0.25}},
		{"clamp positive", []float32{0.75, 0.75}, 2, 2, []float32{1}},
		{"clamp negative", []float32{-0.9}, 1, 4, []float32{-1}},
		{"partial trailing frame dropped", []float32{0.5, 0.5, 0.5}, 2, 1, []float32{0.5}},
		{"zero channels treated as mono", []float32{0.5}, 0, 1, []float32{0.5}},
		{"empty", nil, 2, 1, []float32{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.MixToMono(nil, tc.frames, tc.channels, tc.gain)
			if len(got) != len(tc.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestMixToMono_ReusesBuffer(t *testing.T) {
	t.Parallel()
	dst := make([]float32, 0, 8)
	got := audio.MixToMono(dst, []float32{0.1, 0.2, 0.3}, 1, 1)
	if &got[0] != &dst[:1][0] {
		t.Fatal("buffer with enough capacity was reallocated")
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	t.Parallel()
	got := audio.PCM16ToFloat32([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	t.Parallel()
	got := audio.Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32767, 16383}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16Bytes_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	b := audio.PCM16ToBytes(in)
	if len(b) != 2*len(in) {
		t.Fatalf("byte length: got %d", len(b))
	}
	if b[2] != 0x01 || b[3] != 0x00 {
		t.Fatalf("not little-endian: % x", b[2:4])
	}
	got := audio.BytesToPCM16(append(b, 0xff)) // odd trailing byte ignored
	if len(got) != len(in) {
		t.Fatalf("sample length: got %d", len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestRMS16AndPeak16(t *testing.T) {
	t.Parallel()
	if got := audio.RMS16(nil); got != 0 {
		t.Errorf("RMS16(nil) = %v", got)
	}
	if got := audio.RMS16([]int16{300, -300, 300, -300}); got != 300 {
		t.Errorf("RMS16 = %v, want 300", got)
	}
	if got := audio.Peak16([]int16{10, -32768, 400}); got != 32768 {
		t.Errorf("Peak16 = %d, want 32768", got)
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tc := range tests {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestClipDuration(t *testing.T) {
	t.Parallel()
	c := audio.Clip{
		Samples: make([]int16, 48000),
		Format:  audio.Format{SampleRate: 24000, Channels: 2},
	}
	if got := c.Frames(); got != 24000 {
		t.Errorf("Frames = %d", got)
	}
	if got := c.Duration(); got != time.Second {
		t.Errorf("Duration = %v", got)
	}
	if got := (audio.Clip{}).Duration(); got != 0 {
		t.Errorf("zero clip Duration = %v", got)
	}
}
