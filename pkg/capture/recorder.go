package capture

import (
	"log/slog"
	"math"
	"sync"
)

// MinNoiseFloor is the lowest noise floor a calibration may settle on. It
// keeps the effective speech threshold above zero in a perfectly silent room.
const MinNoiseFloor = 0.001

// State is the lifecycle state of a [Recorder].
type State int

const (
	// StateIdle means no utterance has been started yet.
	StateIdle State = iota
	// StateCalibrating means the recorder is measuring the noise floor.
	StateCalibrating
	// StateListening means speech and silence are being evaluated.
	StateListening
	// StateStopped means the last utterance was collected with Stop. The
	// recorder may be started again.
	StateStopped
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Params configures one utterance recording. Sample counts are expressed at
// the rate of the samples passed to [Recorder.AddSamples].
type Params struct {
	// MaxSamples is the hard cap on the utterance length, lookback included.
	MaxSamples int

	// SilenceSamples is how much debounced silence after speech ends the
	// utterance.
	SilenceSamples int

	// SilenceThreshold is the absolute RMS used as the noise floor when
	// calibration saw no chunks.
	SilenceThreshold float64

	// SampleRate of the incoming samples in Hz.
	SampleRate int

	// SmoothingAlpha is the EMA weight of the newest chunk RMS, in (0, 1].
	SmoothingAlpha float64

	// ThresholdMultiplier scales the noise floor into the speech threshold.
	ThresholdMultiplier float64

	// CalibrationSeconds is the length of the noise-floor calibration window.
	CalibrationSeconds float64

	// DebounceFrames is the number of consecutive quiet chunks required
	// before silence starts to count.
	DebounceFrames int
}

// Level is a point-in-time view of the recorder's energy tracking.
type Level struct {
	State          State
	SmoothedRMS    float64
	NoiseFloor     float64
	SpeechDetected bool
	// Samples is the number of samples accumulated so far.
	Samples int
}

// Recorder is the adaptive end-of-utterance state machine. It calibrates a
// noise floor, tracks chunk energy with an exponential moving average and
// ends the utterance after debounced silence or at a hard length cap.
//
// All methods are safe for concurrent use. Each holds the recorder's own
// lock, which is independent of the ring buffer's.
type Recorder struct {
	mu sync.Mutex

	state       State
	params      Params
	accumulated []float32

	primed      bool
	smoothedRMS float64

	calibrationWindow int
	calibrationSum    float64
	calibrationCount  int
	noiseFloor        float64

	speechDetected     bool
	silentFrameCount   int
	consecutiveSilence int
}

// NewRecorder returns an idle Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a new utterance seeded with lookback and enters the
// calibrating state. Any previous utterance is discarded.
func (r *Recorder) Start(lookback []float32, p Params) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.params = p
	r.accumulated = make([]float32, len(lookback), max(len(lookback), p.MaxSamples))
	copy(r.accumulated, lookback)

	r.primed = false
	r.smoothedRMS = 0
	r.calibrationWindow = int(p.CalibrationSeconds * float64(p.SampleRate))
	r.calibrationSum = 0
	r.calibrationCount = 0
	r.noiseFloor = 0
	r.speechDetected = false
	r.silentFrameCount = 0
	r.consecutiveSilence = 0
	r.state = StateCalibrating
}

// AddSamples feeds one chunk into the active utterance. It is a no-op when
// the recorder is not active.
func (r *Recorder) AddSamples(chunk []float32) {
	r.mu.Lock()
	calibrated := r.addLocked(chunk)
	floor, multiplier := r.noiseFloor, r.params.ThresholdMultiplier
	r.mu.Unlock()

	if calibrated {
		slog.Debug("capture: noise floor calibrated",
			"noise_floor", floor,
			"threshold", floor*multiplier,
		)
	}
}

// addLocked applies one chunk and reports whether it completed calibration.
func (r *Recorder) addLocked(chunk []float32) bool {
	if !r.activeLocked() {
		return false
	}
	r.accumulated = append(r.accumulated, chunk...)

	frameRMS := rms(chunk)
	if !r.primed {
		r.smoothedRMS = frameRMS
		r.primed = true
	} else {
		a := r.params.SmoothingAlpha
		r.smoothedRMS = a*frameRMS + (1-a)*r.smoothedRMS
	}

	// The chunk that completes calibration is not evaluated for speech.
	if r.state == StateCalibrating {
		r.calibrationSum += frameRMS
		r.calibrationCount++
		if len(r.accumulated) < r.calibrationWindow {
			return false
		}
		if r.calibrationCount > 0 {
			r.noiseFloor = r.calibrationSum / float64(r.calibrationCount)
		} else {
			r.noiseFloor = r.params.SilenceThreshold
		}
		r.noiseFloor = max(r.noiseFloor, MinNoiseFloor)
		r.state = StateListening
		return true
	}

	if r.smoothedRMS >= r.noiseFloor*r.params.ThresholdMultiplier {
		r.speechDetected = true
		r.silentFrameCount = 0
		r.consecutiveSilence = 0
		return false
	}
	if r.speechDetected {
		r.silentFrameCount++
		if r.silentFrameCount >= r.params.DebounceFrames {
			r.consecutiveSilence += len(chunk)
		}
	}
	return false
}

// ShouldStop reports whether the utterance is over: the recorder is inactive,
// the length cap has been reached, or enough silence followed speech.
func (r *Recorder) ShouldStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.activeLocked() {
		return true
	}
	if len(r.accumulated) >= r.params.MaxSamples {
		return true
	}
	return r.speechDetected && r.consecutiveSilence >= r.params.SilenceSamples
}

// Stop ends the utterance and returns everything accumulated, lookback
// included. The recorder is left in [StateStopped] and can be started again.
func (r *Recorder) Stop() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.accumulated
	r.accumulated = nil
	if out == nil {
		out = []float32{}
	}
	r.state = StateStopped
	return out
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Level returns a snapshot of the energy tracking.
func (r *Recorder) Level() Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Level{
		State:          r.state,
		SmoothedRMS:    r.smoothedRMS,
		NoiseFloor:     r.noiseFloor,
		SpeechDetected: r.speechDetected,
		Samples:        len(r.accumulated),
	}
}

// Len returns the number of samples accumulated in the current utterance.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accumulated)
}

func (r *Recorder) activeLocked() bool {
	return r.state == StateCalibrating || r.state == StateListening
}

// rms returns the root-mean-square amplitude of samples, or 0 when empty.
func rms(samples []float32) float64 {
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
