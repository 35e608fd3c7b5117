package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// MixToMono averages each interleaved frame across its channels, multiplies
// by gain and hard-clamps the result to [-1, 1]. The result is written into
// dst, which is grown only when too small, so the real-time callback can
// reuse one buffer.
func MixToMono(dst, frames []float32, channels int, gain float32) []float32 {
	if channels <= 0 {
		channels = 1
	}
	n := len(frames) / channels
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	inv := 1 / float32(channels)
	for i := range n {
		var sum float32
		for _, s := range frames[i*channels : (i+1)*channels] {
			sum += s
		}
		v := sum * inv * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
	return dst
}

// PCM16ToFloat32 converts signed 16-bit samples to float32 in [-1, 1).
func PCM16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts normalised samples to signed 16-bit PCM, clamping
// values outside [-1, 1].
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		out[i] = int16(v * math.MaxInt16)
	}
	return out
}

// PCM16ToBytes encodes samples as little-endian int16 PCM.
func PCM16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToPCM16 decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToPCM16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// RMS16 returns the root-mean-square of 16-bit samples in PCM units
// (0–32767). Returns 0 for an empty slice.
func RMS16(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak16 returns the largest absolute sample value.
func Peak16(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	return peak
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
