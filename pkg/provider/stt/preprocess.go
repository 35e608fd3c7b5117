package stt

import (
	"log/slog"
	"math"
	"time"
)

const (
	// MinUtterance is the shortest recording Prepare accepts.
	MinUtterance = 500 * time.Millisecond

	// vadFrameDuration is the analysis frame of the silence trimmer (320
	// samples at 16 kHz).
	vadFrameDuration = 20 * time.Millisecond

	// vadSpeechRMS is the frame RMS at or above which a frame counts as speech.
	vadSpeechRMS = 0.01

	// vadMarginFrames of context are kept on both sides of every speech frame.
	vadMarginFrames = 5

	// vadMaxGapFrames is the longest pause that is bridged rather than cut.
	vadMaxGapFrames = 10

	normalizeTarget  = 0.9
	normalizeMinPeak = 0.001
)

// Prepare readies a raw recording for a speech model: it rejects recordings
// shorter than [MinUtterance] with [ErrTooShort], trims non-speech with
// [TrimSilence] and peak-normalises the rest with [Normalize].
//
// A nil result with a nil error means the recording contained no speech.
func Prepare(samples []float32, sampleRate int) ([]float32, error) {
	if sampleRate <= 0 || time.Duration(len(samples))*time.Second/time.Duration(sampleRate) < MinUtterance {
		return nil, ErrTooShort
	}
	trimmed := TrimSilence(samples, sampleRate)
	if len(trimmed) == 0 {
		return nil, nil
	}
	return Normalize(trimmed), nil
}

// TrimSilence keeps only the speech regions of samples. Frames whose RMS
// reaches the speech threshold are kept together with a margin on both
// sides, and short pauses between kept regions are bridged. Trailing samples
// that do not fill a frame are kept only when speech runs to the end.
//
// Input shorter than one frame is returned unchanged.
func TrimSilence(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 {
		return nil
	}
	frameSize := max(1, int(time.Duration(sampleRate)*vadFrameDuration/time.Second))
	frames := len(samples) / frameSize
	if frames == 0 {
		return samples
	}

	speech := make([]bool, frames)
	for i := range frames {
		speech[i] = frameRMS(samples[i*frameSize:(i+1)*frameSize]) >= vadSpeechRMS
	}

	expanded := make([]bool, frames)
	for i, s := range speech {
		if !s {
			continue
		}
		for j := max(0, i-vadMarginFrames); j < min(frames, i+vadMarginFrames+1); j++ {
			expanded[j] = true
		}
	}

	// Bridge pauses that follow speech and are short enough.
	keep := make([]bool, frames)
	copy(keep, expanded)
	gapStart := -1
	for i := range frames {
		switch {
		case expanded[i]:
			if gapStart >= 0 && i-gapStart <= vadMaxGapFrames {
				for j := gapStart; j < i; j++ {
					keep[j] = true
				}
			}
			gapStart = -1
		case gapStart < 0 && i > 0 && expanded[i-1]:
			gapStart = i
		}
	}

	out := make([]float32, 0, len(samples))
	start := -1
	for i := range frames {
		if keep[i] && start < 0 {
			start = i * frameSize
		} else if !keep[i] && start >= 0 {
			out = append(out, samples[start:i*frameSize]...)
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, samples[start:]...)
	}

	slog.Debug("stt: silence trimmed",
		"in", len(samples),
		"out", len(out),
		"frames", frames,
	)
	return out
}

// Normalize scales samples so the peak amplitude becomes 0.9. Near-silent
// input (peak below 0.001) and input that is already loud enough are
// returned unchanged; the result is clamped to [-1, 1].
func Normalize(samples []float32) []float32 {
	var peak float64
	for _, s := range samples {
		peak = max(peak, math.Abs(float64(s)))
	}
	if peak < normalizeMinPeak {
		return samples
	}
	gain := normalizeTarget / peak
	if gain <= 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(max(-1, min(1, float64(s)*gain)))
	}
	return out
}

func frameRMS(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
