// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own hysteresis state,
// so the wake-word listener and any other consumer can run independent
// sessions over the same capture.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection result,
// which suits the frame loop that feeds the wake-word detector.
//
// Engines must be safe for concurrent use. A single SessionHandle must not be
// shared across goroutines.
package vad

import "errors"

// ErrFrameSize is returned by ProcessFrame when the frame length does not
// match the session's configured frame size.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Zero
	// accepts frames of any length.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame is
	// classified as speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech segment
	// is considered ended. Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.FrameSizeMs < 0 {
		errs = append(errs, errors.New("vad: frame size must not be negative"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, errors.New("vad: speech threshold must be in [0, 1]"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must be in [0, speech threshold]"))
	}
	return errors.Join(errs...)
}

// FrameSamples returns the number of samples per frame, or 0 when any frame
// length is accepted.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses a single mono 16-bit PCM frame and returns the
	// detection result. It must not block.
	ProcessFrame(frame []int16) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is restarted.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
