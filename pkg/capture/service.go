// Package capture is the real-time audio capture core of earshot.
//
// A [Service] opens an [audio.InputDevice], mixes every hardware frame down
// to mono, applies gain and writes the result into a fixed-capacity
// [RingBuffer]. Consumers then read from the buffer in one of two ways:
//
//   - [Service.GetSamples] returns the latest N samples. Successive calls may
//     overlap; this suits detectors that score a sliding window.
//   - [Service.RecordSamples] (and every [Stream] from [Service.OpenStream])
//     returns strictly sequential, non-overlapping blocks through a private
//     [Cursor]; this suits frame-by-frame consumers such as wake-word engines.
//
// [Service.RecordUntilSilence] records one utterance: it seeds a [Recorder]
// with a short lookback window and lets the recorder decide, from a
// calibrated noise floor and debounced silence, when the speaker is done.
//
// All returned audio is resampled to Config.TargetRate. The ring buffer and
// the recorder are guarded by separate locks so the hardware callback never
// waits on consumer bookkeeping, and every blocking read is bounded by a
// timeout and by the caller's context.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrDevice wraps asynchronous runtime errors reported by the input device.
// Reads still return their data alongside it.
var ErrDevice = errors.New("capture: device error")

// ErrClosed is returned by operations on a closed Service.
var ErrClosed = errors.New("capture: service closed")

const (
	// recheckInterval is the upper bound between stop-condition checks when
	// no audio arrives.
	recheckInterval = 50 * time.Millisecond

	// feedbackInterval is how often an Observer receives level updates.
	feedbackInterval = 100 * time.Millisecond

	// warmupPoll bounds each wait during startup warmup.
	warmupPoll = 50 * time.Millisecond
)

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMeterProvider records capture metrics through mp. Defaults to a no-op
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Service owns the input device, the ring buffer and the recorder.
// All exported methods are safe for concurrent use.
type Service struct {
	cfg    Config
	dev    audio.InputDevice
	format audio.Format
	log    *slog.Logger

	meterProvider metric.MeterProvider
	metrics       *instruments

	ring     *RingBuffer
	recorder *Recorder
	notify   *notifier

	// recording gates the callback's feed into recorder.
	recording atomic.Bool
	// gainBits holds the float64 gain so SetGain never touches the callback.
	gainBits atomic.Uint64
	// scratch is the callback's reusable mono buffer. Only the callback
	// goroutine touches it.
	scratch []float32

	// utterance serialises RecordUntilSilence callers; there is one recorder.
	utterance sync.Mutex

	defaultStream *Stream

	errMu   sync.Mutex
	lastErr error
	pending error
	errCh   chan error

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New opens dev, negotiates a mono stream at cfg.TargetRate (falling back to
// whatever the device offers), sizes the ring buffer for the negotiated rate,
// starts the stream and runs the startup warmup.
//
// A failure to open or start the device is returned as an error; a warmup
// that times out is only logged.
func New(ctx context.Context, dev audio.InputDevice, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		dev:      dev,
		log:      slog.Default(),
		recorder: NewRecorder(),
		notify:   newNotifier(),
		errCh:    make(chan error, 16),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.gainBits.Store(math.Float64bits(cfg.Gain))

	ins, err := newInstruments(s.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("capture: create instruments: %w", err)
	}
	s.metrics = ins

	format, err := dev.Open(audio.Format{SampleRate: cfg.TargetRate, Channels: 1}, s.onFrames)
	if err != nil {
		return nil, fmt.Errorf("capture: open device: %w", err)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		_ = dev.Close()
		return nil, fmt.Errorf("capture: device negotiated unusable format %s", format)
	}
	s.format = format
	if format.SampleRate != cfg.TargetRate || format.Channels != 1 {
		s.log.Warn("capture: device does not offer requested format, resampling",
			"want", audio.Format{SampleRate: cfg.TargetRate, Channels: 1},
			"got", format,
		)
	}

	s.ring = NewRingBuffer(cfg.capacityFor(format.SampleRate), WithOverrunHook(func(lost uint64) {
		s.metrics.overruns.Add(context.Background(), int64(lost))
		s.log.Debug("capture: stream reader fell behind, samples skipped", "lost", lost)
	}))
	s.defaultStream = &Stream{svc: s}

	s.wg.Add(1)
	go s.drainErrors(dev.Errors())

	if err := dev.Start(); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("capture: start device: %w", err)
	}
	s.log.Info("capture: stream started",
		"format", format,
		"target_rate", cfg.TargetRate,
		"capacity", s.ring.Capacity(),
		"gain", cfg.Gain,
	)

	if err := s.warmup(ctx); err != nil {
		s.shutdown()
		return nil, err
	}
	return s, nil
}

// onFrames is the hardware callback: mono mix, gain, clamp, ring write and,
// while an utterance is active, recorder feed.
func (s *Service) onFrames(frames []float32, channels int) {
	gain := float32(math.Float64frombits(s.gainBits.Load()))
	s.scratch = audio.MixToMono(s.scratch, frames, channels, gain)
	if len(s.scratch) == 0 {
		return
	}
	s.ring.Write(s.scratch)
	if s.recording.Load() {
		s.recorder.AddSamples(s.scratch)
	}
	s.metrics.samplesWritten.Add(context.Background(), int64(len(s.scratch)))
	s.notify.broadcast()
}

// warmup waits for the device to settle, discards everything captured so far
// (startup pops and driver transients) and waits again for a fresh minimum.
func (s *Service) warmup(ctx context.Context) error {
	w := s.cfg.Warmup
	if w.WarmupSeconds <= 0 {
		return nil
	}
	rate := float64(s.format.SampleRate)

	settle := uint64(w.WarmupSeconds * rate)
	ok, err := s.notify.waitFor(ctx, s.done, w.WarmupTimeout, warmupPoll, func() bool {
		return s.ring.TotalWritten() >= settle
	})
	if err != nil {
		return fmt.Errorf("capture: warmup: %w", err)
	}
	if ok {
		s.log.Info("capture: warmup complete", "samples", s.ring.TotalWritten())
	} else {
		s.log.Warn("capture: warmup timed out", "samples", s.ring.TotalWritten(), "want", settle)
	}

	s.ring.Reset()
	s.ring.ResetCursor(&s.defaultStream.cursor)
	s.log.Debug("capture: ring buffer cleared after warmup")

	ready := int(w.ReadySeconds * rate)
	ok, err = s.notify.waitFor(ctx, s.done, w.ReadyTimeout, warmupPoll, func() bool {
		return s.ring.Buffered() >= ready
	})
	if err != nil {
		return fmt.Errorf("capture: warmup: %w", err)
	}
	if ok {
		s.log.Info("capture: buffer ready", "samples", s.ring.Buffered())
	} else {
		s.log.Warn("capture: buffer ready timed out", "samples", s.ring.Buffered(), "want", ready)
	}
	return nil
}

// Format returns the stream format negotiated with the device.
func (s *Service) Format() audio.Format { return s.format }

// TargetRate returns the sample rate of all audio returned by the service.
func (s *Service) TargetRate() int { return s.cfg.TargetRate }

// Buffer exposes the underlying ring buffer for inspection.
func (s *Service) Buffer() *RingBuffer { return s.ring }

// Gain returns the current input gain.
func (s *Service) Gain() float64 { return math.Float64frombits(s.gainBits.Load()) }

// SetGain changes the input gain. It takes effect on the next hardware frame.
func (s *Service) SetGain(g float64) {
	if g <= 0 {
		return
	}
	s.gainBits.Store(math.Float64bits(g))
}

// GetSamples returns exactly n samples of the most recent audio as 16-bit
// PCM at the target rate. Calls may overlap. When less audio is buffered the
// result is zero-padded at the end.
func (s *Service) GetSamples(n int) []int16 {
	if n <= 0 {
		return []int16{}
	}
	need := deviceSamplesFor(n, s.format.SampleRate, s.cfg.TargetRate)
	samples := s.ring.ReadLatest(need)
	return FitPCM16(audio.Float32ToPCM16(Resample(samples, s.format.SampleRate, s.cfg.TargetRate)), n)
}

// RecordSamples returns the next n samples of the default sequential stream
// as 16-bit PCM at the target rate. It never returns audio that an earlier
// call already returned.
//
// If not enough audio arrives within Config.StreamTimeout the available part
// is returned zero-padded, without an error. The error is non-nil only when
// ctx is done or the device reported a runtime error; in the latter case the
// samples are still valid.
func (s *Service) RecordSamples(ctx context.Context, n int) ([]int16, error) {
	return s.defaultStream.Read(ctx, n)
}

// ResetStreamPosition discards the default stream's unread backlog so the
// next RecordSamples starts from "now".
func (s *Service) ResetStreamPosition() {
	s.defaultStream.Reset()
}

// OpenStream returns a new sequential reader with its own cursor,
// positioned at "now". Independent consumers should each use their own
// Stream rather than sharing RecordSamples.
func (s *Service) OpenStream() *Stream {
	st := &Stream{svc: s}
	s.ring.ResetCursor(&st.cursor)
	return st
}

// Observer receives progress updates during [Service.RecordWithFeedback].
// Callbacks run on the recording goroutine.
type Observer interface {
	// RecordingStarted is called once the recorder has been armed.
	RecordingStarted(maxSeconds, silenceSeconds float64)
	// LevelChanged is called periodically with the recorder's energy state.
	LevelChanged(Level)
	// RecordingStopped is called with the length of the returned audio.
	RecordingStopped(d time.Duration)
}

// RecordUntilSilence records one utterance and returns it as float32 samples
// at the target rate, lookback included. Recording ends when the speaker has
// been silent for silenceSeconds after speaking, or after maxSeconds.
// silenceThreshold is the absolute RMS fallback for the noise floor.
//
// Only one utterance is recorded at a time; concurrent callers queue.
func (s *Service) RecordUntilSilence(ctx context.Context, maxSeconds, silenceThreshold, silenceSeconds float64) ([]float32, error) {
	return s.recordUtterance(ctx, maxSeconds, silenceThreshold, silenceSeconds, nil)
}

// RecordWithFeedback is RecordUntilSilence with periodic level updates
// delivered to obs.
func (s *Service) RecordWithFeedback(ctx context.Context, maxSeconds, silenceThreshold, silenceSeconds float64, obs Observer) ([]float32, error) {
	return s.recordUtterance(ctx, maxSeconds, silenceThreshold, silenceSeconds, obs)
}

func (s *Service) recordUtterance(ctx context.Context, maxSeconds, silenceThreshold, silenceSeconds float64, obs Observer) ([]float32, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	s.utterance.Lock()
	defer s.utterance.Unlock()

	rate := s.format.SampleRate
	lookback := s.ring.ReadLatest(int(s.cfg.LookbackSeconds * float64(rate)))
	s.recorder.Start(lookback, Params{
		MaxSamples:          int(maxSeconds * float64(rate)),
		SilenceSamples:      int(silenceSeconds * float64(rate)),
		SilenceThreshold:    silenceThreshold,
		SampleRate:          rate,
		SmoothingAlpha:      s.cfg.SmoothingAlpha,
		ThresholdMultiplier: s.cfg.ThresholdMultiplier,
		CalibrationSeconds:  s.cfg.CalibrationSeconds,
		DebounceFrames:      s.cfg.DebounceFrames,
	})
	s.recording.Store(true)
	if obs != nil {
		obs.RecordingStarted(maxSeconds, silenceSeconds)
	}

	err := s.awaitUtteranceEnd(ctx, obs)

	s.recording.Store(false)
	samples := s.recorder.Stop()
	if err != nil {
		return nil, err
	}

	out := Resample(samples, rate, s.cfg.TargetRate)
	d := time.Duration(len(out)) * time.Second / time.Duration(s.cfg.TargetRate)
	s.metrics.recording.Record(ctx, d.Seconds())
	if obs != nil {
		obs.RecordingStopped(d)
	}
	s.log.Debug("capture: utterance recorded", "duration", d, "samples", len(out))
	return out, s.takeErr()
}

// awaitUtteranceEnd blocks until the recorder asks to stop. It wakes on every
// hardware frame and at least every recheckInterval. An utterance that stops
// receiving audio for StreamTimeout is abandoned with whatever it has.
func (s *Service) awaitUtteranceEnd(ctx context.Context, obs Observer) error {
	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()

	lastLen := s.recorder.Len()
	lastProgress := time.Now()
	lastReport := time.Time{}

	for {
		sig := s.notify.signal()
		if s.recorder.ShouldStop() {
			return nil
		}

		now := time.Now()
		if obs != nil && now.Sub(lastReport) >= feedbackInterval {
			obs.LevelChanged(s.recorder.Level())
			lastReport = now
		}
		if n := s.recorder.Len(); n != lastLen {
			lastLen = n
			lastProgress = now
		} else if now.Sub(lastProgress) >= s.cfg.StreamTimeout {
			s.log.Warn("capture: no audio during utterance, stopping early", "waited", now.Sub(lastProgress))
			return nil
		}

		select {
		case <-sig:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		}
	}
}

// Errors returns a channel of device runtime errors. Errors are dropped when
// the channel is full. It is closed by Close.
func (s *Service) Errors() <-chan error { return s.errCh }

// Err returns the most recent device runtime error, or nil.
func (s *Service) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// takeErr returns, once, the device error that arrived since the last read.
func (s *Service) takeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.pending
	s.pending = nil
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDevice, err)
}

func (s *Service) drainErrors(in <-chan error) {
	defer s.wg.Done()
	defer close(s.errCh)
	for {
		select {
		case err, ok := <-in:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			s.metrics.deviceErrors.Add(context.Background(), 1)
			s.log.Error("capture: device error", "err", err)
			s.errMu.Lock()
			s.lastErr = err
			s.pending = err
			s.errMu.Unlock()
			select {
			case s.errCh <- err:
			default:
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the device and releases the service. Blocked readers return
// ErrClosed. Calling Close more than once is safe.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.recording.Store(false)
		err = s.dev.Close()
		s.wg.Wait()
	})
	return err
}

// shutdown is Close for a half-constructed service.
func (s *Service) shutdown() {
	_ = s.Close()
}

// Stream is a sequential reader over the service's ring buffer with its own
// cursor. Reads on one Stream never overlap; concurrent Read calls on the
// same Stream are serialised.
type Stream struct {
	svc *Service

	mu     sync.Mutex
	cursor Cursor
}

// Read returns the next n samples as 16-bit PCM at the target rate, waiting
// up to Config.StreamTimeout for them to arrive. On timeout the available
// samples are returned zero-padded to n, without an error.
func (st *Stream) Read(ctx context.Context, n int) ([]int16, error) {
	if n <= 0 {
		return []int16{}, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.svc
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	need := deviceSamplesFor(n, s.format.SampleRate, s.cfg.TargetRate)
	ok, err := s.notify.waitFor(ctx, s.done, s.cfg.StreamTimeout, recheckInterval, func() bool {
		return s.ring.Unread(&st.cursor) >= need
	})
	if err != nil {
		return nil, err
	}

	samples := s.ring.ReadStream(need, &st.cursor)
	if !ok {
		s.metrics.starved.Add(ctx, 1)
		s.log.Debug("capture: stream read timed out, zero-padding",
			"want", need,
			"got", len(samples),
		)
	}
	pcm := audio.Float32ToPCM16(Resample(samples, s.format.SampleRate, s.cfg.TargetRate))
	return FitPCM16(pcm, n), s.takeErr()
}

// Reset moves the stream to "now", discarding its unread backlog.
func (st *Stream) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.svc.ring.ResetCursor(&st.cursor)
}

// Unread returns how many device-rate samples are waiting to be read.
func (st *Stream) Unread() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.svc.ring.Unread(&st.cursor)
}
