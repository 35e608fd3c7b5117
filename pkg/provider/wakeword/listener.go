package wakeword

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/capture"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	// normalizeTargetPeak is the peak frames are scaled up to (about 85% of
	// the 16-bit range).
	normalizeTargetPeak = 28000

	// normalizeMinPeak is the peak below which a frame counts as silence and
	// is left alone.
	normalizeMinPeak = 100

	// silenceGain attenuates non-speech frames. They are kept rather than
	// zeroed so the detector still sees a continuous stream.
	silenceGain = 0.1
)

// Source is the part of the capture service the listener consumes.
type Source interface {
	ResetStreamPosition()
	RecordSamples(ctx context.Context, n int) ([]int16, error)
}

var _ Source = (*capture.Service)(nil)

// Config holds the listener's frame loop parameters.
type Config struct {
	// SampleRate is the rate of the frames RecordSamples returns.
	SampleRate int

	// FrameSamples is the number of samples pulled per iteration.
	FrameSamples int

	// WarmupFrames is the number of frames run through the VAD only, before
	// the detector sees anything. Startup transients would otherwise trigger
	// false detections.
	WarmupFrames int

	// SpeechThreshold and SilenceThreshold configure the VAD session.
	SpeechThreshold  float64
	SilenceThreshold float64
}

// DefaultConfig returns 30 ms frames at 16 kHz with a 300-frame warmup.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		FrameSamples:     480,
		WarmupFrames:     300,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.5,
	}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithStatus sets the writer for the interactive status line (banner, warmup
// progress, live level and score). Defaults to io.Discard.
func WithStatus(w io.Writer) ListenerOption {
	return func(l *Listener) { l.status = w }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

// Listener waits for the wake word on a capture source.
type Listener struct {
	src    Source
	det    Detector
	sess   vad.SessionHandle
	cfg    Config
	status io.Writer
	log    *slog.Logger
}

// NewListener creates a Listener. The VAD session is created once and reset
// at the start of every Wait.
func NewListener(src Source, det Detector, eng vad.Engine, cfg Config, opts ...ListenerOption) (*Listener, error) {
	if src == nil || det == nil || eng == nil {
		return nil, errors.New("wakeword: source, detector and vad engine are required")
	}
	if cfg.FrameSamples <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("wakeword: frame samples and sample rate must be positive, got %d and %d", cfg.FrameSamples, cfg.SampleRate)
	}
	if cfg.WarmupFrames < 0 {
		return nil, fmt.Errorf("wakeword: warmup frames must not be negative, got %d", cfg.WarmupFrames)
	}
	sess, err := eng.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("wakeword: create vad session: %w", err)
	}
	l := &Listener{src: src, det: det, sess: sess, cfg: cfg, status: io.Discard, log: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Wait blocks until the detector recognises the wake word, ctx is done or the
// source fails. The stream position is reset first, so only audio captured
// after the call is examined, and frames are read back to back without gaps.
//
// Device errors reported alongside frame data are logged and the loop goes
// on; any other source error ends the wait.
func (l *Listener) Wait(ctx context.Context) (Detection, error) {
	fmt.Fprint(l.status, "\n========================================\n  Waiting for wakeword...\n========================================\n\n")

	l.src.ResetStreamPosition()
	l.sess.Reset()
	l.det.Reset()
	l.log.Debug("wakeword: listening", "frame_samples", l.cfg.FrameSamples, "warmup_frames", l.cfg.WarmupFrames)

	var (
		frames   int
		maxLevel float64
		maxScore float64
	)
	for {
		if err := ctx.Err(); err != nil {
			return Detection{}, err
		}
		raw, err := l.src.RecordSamples(ctx, l.cfg.FrameSamples)
		if err != nil {
			if !errors.Is(err, capture.ErrDevice) {
				return Detection{}, fmt.Errorf("wakeword: read frame: %w", err)
			}
			l.log.Warn("wakeword: capture device error", "err", err)
		}
		frames++

		frame := Normalize(raw)
		ev, err := l.sess.ProcessFrame(frame)
		if err != nil {
			return Detection{}, fmt.Errorf("wakeword: vad: %w", err)
		}
		if !ev.IsSpeech() {
			attenuate(frame)
		}

		if frames <= l.cfg.WarmupFrames {
			if frames == 1 || frames%10 == 0 {
				fmt.Fprintf(l.status, "\r  [Warming up] frames:%d/%d    ", frames, l.cfg.WarmupFrames)
			}
			if frames == l.cfg.WarmupFrames {
				l.sess.Reset()
			}
			continue
		}
		if frames == l.cfg.WarmupFrames+1 {
			fmt.Fprint(l.status, "\n  [Ready] Say the wakeword!\n")
		}

		det, err := l.det.Process(ctx, frame, ev)
		if err != nil {
			return Detection{}, fmt.Errorf("wakeword: detect: %w", err)
		}

		level := audio.RMS16(frame) / 32767
		maxLevel = max(maxLevel, level)
		var score float64
		if ps, ok := l.det.(PartialScorer); ok {
			score = ps.PartialScore()
			maxScore = max(maxScore, score)
		}
		fmt.Fprintf(l.status, "\r  [Listening] rms:%.4f (max:%.4f) score:%.3f (max:%.3f)    ", level, maxLevel, score, maxScore)

		if det != nil {
			fmt.Fprintf(l.status, "\n  >>> WAKEWORD DETECTED! <<<\n  Keyword: %q\n  Score: %.3f\n\n", det.Keyword, det.Score)
			l.log.Info("wakeword: detected", "keyword", det.Keyword, "score", det.Score, "transcript", det.Transcript, "frames", frames)
			return *det, nil
		}
	}
}

// Close releases the VAD session.
func (l *Listener) Close() error {
	return l.sess.Close()
}

// Normalize returns a copy of frame scaled so its peak reaches 28000. Frames
// whose peak is below 100, or already at or above the target, are copied
// unchanged. Scaled samples are clipped to the 16-bit range.
func Normalize(frame []int16) []int16 {
	out := make([]int16, len(frame))
	copy(out, frame)
	peak := audio.Peak16(frame)
	if peak < normalizeMinPeak {
		return out
	}
	gain := float64(normalizeTargetPeak) / float64(peak)
	if gain <= 1 {
		return out
	}
	for i, s := range out {
		v := int32(float64(s) * gain)
		out[i] = int16(min(max(v, -32768), 32767))
	}
	return out
}

// attenuate scales frame in place by silenceGain.
func attenuate(frame []int16) {
	for i, s := range frame {
		frame[i] = int16(float64(s) * silenceGain)
	}
}
