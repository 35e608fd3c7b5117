package capture

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tunables of a [Service]. Every field must be set; use
// [DefaultConfig] as a starting point.
type Config struct {
	// TargetRate is the sample rate, in Hz, of everything the service returns.
	TargetRate int

	// Gain multiplies every input sample before clamping to [-1, 1].
	Gain float64

	// SmoothingAlpha is the EMA weight of the newest chunk RMS, in (0, 1].
	SmoothingAlpha float64

	// ThresholdMultiplier scales the calibrated noise floor into the speech
	// threshold.
	ThresholdMultiplier float64

	// CalibrationSeconds is the noise-floor calibration window at the start of
	// each utterance, lookback included.
	CalibrationSeconds float64

	// DebounceFrames is the number of consecutive quiet chunks required before
	// silence starts to count towards the end of an utterance.
	DebounceFrames int

	// BufferSeconds is the minimum history kept in the ring buffer. The actual
	// capacity also covers the lookback, calibration and warmup windows.
	BufferSeconds float64

	// LookbackSeconds of audio preceding RecordUntilSilence are prepended to
	// the utterance.
	LookbackSeconds float64

	// StreamTimeout bounds how long RecordSamples waits for data, and how long
	// an utterance may go without any new audio before it is abandoned.
	StreamTimeout time.Duration

	// Warmup controls the startup transient discard. A zero WarmupSeconds
	// skips warmup entirely.
	Warmup WarmupConfig
}

// WarmupConfig describes the two-phase startup warmup: fill, clear, refill.
type WarmupConfig struct {
	// WarmupSeconds of audio must be written before the buffer is cleared.
	WarmupSeconds float64
	// WarmupTimeout bounds the first phase.
	WarmupTimeout time.Duration
	// ReadySeconds of fresh audio must be buffered after clearing.
	ReadySeconds float64
	// ReadyTimeout bounds the second phase.
	ReadyTimeout time.Duration
}

// DefaultConfig returns the documented fallback configuration: 16 kHz output,
// unity gain, alpha 0.1, multiplier 3, 0.5 s calibration, 3 debounce frames,
// 0.5 s lookback and a 2 s stream timeout.
func DefaultConfig() Config {
	return Config{
		TargetRate:          16000,
		Gain:                1.0,
		SmoothingAlpha:      0.1,
		ThresholdMultiplier: 3.0,
		CalibrationSeconds:  0.5,
		DebounceFrames:      3,
		BufferSeconds:       2,
		LookbackSeconds:     0.5,
		StreamTimeout:       2 * time.Second,
		Warmup: WarmupConfig{
			WarmupSeconds: 2,
			WarmupTimeout: 5 * time.Second,
			ReadySeconds:  0.5,
			ReadyTimeout:  3 * time.Second,
		},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("capture: target rate must be positive, got %d", c.TargetRate))
	}
	if c.Gain <= 0 {
		errs = append(errs, fmt.Errorf("capture: gain must be positive, got %g", c.Gain))
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("capture: smoothing alpha must be in (0, 1], got %g", c.SmoothingAlpha))
	}
	if c.ThresholdMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("capture: threshold multiplier must be positive, got %g", c.ThresholdMultiplier))
	}
	if c.CalibrationSeconds < 0 {
		errs = append(errs, fmt.Errorf("capture: calibration duration must not be negative, got %g", c.CalibrationSeconds))
	}
	if c.DebounceFrames < 0 {
		errs = append(errs, fmt.Errorf("capture: debounce frames must not be negative, got %d", c.DebounceFrames))
	}
	if c.BufferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("capture: buffer seconds must be positive, got %g", c.BufferSeconds))
	}
	if c.LookbackSeconds < 0 {
		errs = append(errs, fmt.Errorf("capture: lookback must not be negative, got %g", c.LookbackSeconds))
	}
	if c.StreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture: stream timeout must be positive, got %s", c.StreamTimeout))
	}
	return errors.Join(errs...)
}

// capacityFor sizes the ring buffer for a device running at rate: enough to
// hold the largest window any operation will ever ask for.
func (c Config) capacityFor(rate int) int {
	seconds := max(c.BufferSeconds, c.LookbackSeconds, c.CalibrationSeconds,
		c.Warmup.WarmupSeconds, c.Warmup.ReadySeconds)
	return max(1, int(seconds*float64(rate)))
}
