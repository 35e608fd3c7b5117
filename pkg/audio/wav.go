package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by DecodeWAV when the data is not a RIFF/WAVE
// PCM file.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// DecodeWAV parses a PCM WAV file into a 16-bit [Clip]. Samples of other bit
// depths are rescaled to 16 bits.
func DecodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode WAV: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return Clip{}, ErrInvalidWAV
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = rescaleTo16(v, depth)
	}

	return Clip{
		Samples: samples,
		Format: Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
	}, nil
}

// rescaleTo16 maps an integer sample of the given bit depth onto int16.
// 8-bit WAV samples are unsigned.
func rescaleTo16(v, depth int) int16 {
	switch {
	case depth == 8:
		return int16((v - 128) << 8)
	case depth == 16 || depth == 0:
		return int16(v)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		scaled := float64(v) * math.Pow(2, float64(16-depth))
		return int16(max(math.MinInt16, min(math.MaxInt16, scaled)))
	}
}

// WriteWAV encodes clip as a 16-bit PCM WAV file. The encoder patches the
// RIFF header sizes on close, so w must be seekable.
func WriteWAV(w io.WriteSeeker, clip Clip) error {
	if clip.Format.SampleRate <= 0 || clip.Format.Channels <= 0 {
		return fmt.Errorf("audio: write WAV: invalid format %s", clip.Format)
	}
	enc := wav.NewEncoder(w, clip.Format.SampleRate, 16, clip.Format.Channels, 1)

	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  clip.Format.SampleRate,
			NumChannels: clip.Format.Channels,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close WAV: %w", err)
	}
	return nil
}

// EncodeWAV returns clip as an in-memory 16-bit PCM WAV file.
func EncodeWAV(clip Clip) ([]byte, error) {
	var f memFile
	if err := WriteWAV(&f, clip); err != nil {
		return nil, err
	}
	return f.buf, nil
}

// memFile is an [io.WriteSeeker] over a growing byte slice.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	m.pos = int(next)
	return next, nil
}
