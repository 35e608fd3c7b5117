package audio_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestWAV_WriteThenDecode(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	in := audio.Clip{
		Samples: []int16{0, 100, -100, 32767, -32768, 5, 6, 7},
		Format:  audio.Format{SampleRate: 24000, Channels: 2},
	}
	if err := audio.WriteWAV(f, in); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.Format != in.Format {
		t.Fatalf("format: got %v, want %v", out.Format, in.Format)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("samples: got %d, want %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()
	for _, data := range [][]byte{nil, []byte("not a wav file at all, really")} {
		if _, err := audio.DecodeWAV(data); !errors.Is(err, audio.ErrInvalidWAV) {
			t.Errorf("DecodeWAV(%q): got %v, want ErrInvalidWAV", data, err)
		}
	}
}

func TestWriteWAV_InvalidFormat(t *testing.T) {
	t.Parallel()
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, audio.Clip{Samples: []int16{1}}); err == nil {
		t.Fatal("expected error for zero format")
	}
}

func TestEncodeWAV_InMemory(t *testing.T) {
	t.Parallel()
	in := audio.Clip{
		Samples: []int16{1, -1, 1000, -1000},
		Format:  audio.Format{SampleRate: 16000, Channels: 1},
	}
	data, err := audio.EncodeWAV(in)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != 44+2*len(in.Samples) {
		t.Fatalf("len = %d, want %d", len(data), 44+2*len(in.Samples))
	}
	out, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.Format != in.Format || len(out.Samples) != len(in.Samples) || out.Samples[2] != 1000 {
		t.Fatalf("round trip: got %+v", out)
	}
}
