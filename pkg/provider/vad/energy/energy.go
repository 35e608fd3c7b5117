// Package energy implements a vad.Engine that classifies frames by their RMS
// energy. It needs no model and no CGO, which makes it the default detector
// for gating the wake-word listener.
//
// A frame's speech probability is its RMS on the 16-bit scale divided by twice
// the reference level, clipped to 1. A frame whose RMS equals the reference
// level therefore scores exactly 0.5, the usual SpeechThreshold.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultLevel is the RMS (16-bit scale) treated as the speech boundary.
const DefaultLevel = 300.0

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Option configures an Engine.
type Option func(*Engine)

// WithLevel sets the reference RMS level on the 16-bit scale. Non-positive
// values are ignored.
func WithLevel(level float64) Option {
	return func(e *Engine) {
		if level > 0 {
			e.level = level
		}
	}
}

// Engine creates energy-based VAD sessions. It is stateless and safe for
// concurrent use.
type Engine struct {
	level float64
}

// New returns an Engine using DefaultLevel unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{level: DefaultLevel}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Level returns the configured reference level.
func (e *Engine) Level() float64 { return e.level }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return &Session{cfg: cfg, level: e.level, frameLen: cfg.FrameSamples()}, nil
}

// Probability maps a frame to its speech probability for the given level.
func Probability(frame []int16, level float64) float64 {
	if len(frame) == 0 || level <= 0 {
		return 0
	}
	return math.Min(1, audio.RMS16(frame)/(2*level))
}

// Session tracks speech/silence hysteresis for one stream.
type Session struct {
	mu       sync.Mutex
	cfg      vad.Config
	level    float64
	frameLen int
	inSpeech bool
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []int16) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}
	if s.frameLen > 0 && len(frame) != s.frameLen {
		return vad.VADEvent{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameLen)
	}

	p := Probability(frame, s.level)
	ev := vad.VADEvent{Probability: p}
	switch {
	case !s.inSpeech && p >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		ev.Type = vad.VADSpeechStart
	case s.inSpeech && p < s.cfg.SilenceThreshold:
		s.inSpeech = false
		ev.Type = vad.VADSpeechEnd
	case s.inSpeech:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
