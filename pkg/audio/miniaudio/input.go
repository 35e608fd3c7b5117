// Package miniaudio provides [audio.InputDevice] and [audio.OutputDevice]
// implementations backed by miniaudio through the gen2brain/malgo CGO
// bindings. miniaudio picks the platform backend (ALSA, PulseAudio,
// CoreAudio, WASAPI) at runtime and converts sample format, channel count and
// rate internally, so the requested format is normally granted as-is.
package miniaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrStopped is reported on Errors when the driver stops the stream without
// Close having been called (device unplugged, server restart).
var ErrStopped = errors.New("miniaudio: device stopped unexpectedly")

// Compile-time assertion that Input satisfies audio.InputDevice.
var _ audio.InputDevice = (*Input)(nil)

// Option is a functional option for Input and Output.
type Option func(*options)

type options struct {
	periodMs uint32
	log      *slog.Logger
}

// WithPeriodMs sets the driver period in milliseconds, i.e. how much audio
// each callback delivers. Defaults to 10 ms.
func WithPeriodMs(ms uint32) Option {
	return func(o *options) { o.periodMs = ms }
}

// WithLogger sets the logger used for miniaudio's diagnostic messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{periodMs: 10, log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Input captures from the system default microphone.
type Input struct {
	opts options

	mu      sync.Mutex
	ctx     *ma.AllocatedContext
	device  *ma.Device
	format  audio.Format
	handler audio.FrameHandler
	closing bool
	closed  bool
	errs    chan error

	// buf is reused by the data callback.
	buf []float32
}

// NewInput initialises a miniaudio context. No device is opened until Open.
func NewInput(opts ...Option) (*Input, error) {
	o := buildOptions(opts)
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		o.log.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Input{
		opts: o,
		ctx:  ctx,
		errs: make(chan error, 8),
	}, nil
}

// Open implements [audio.InputDevice]. It first requests want exactly; if the
// device refuses, it retries at the device's native rate.
func (in *Input) Open(want audio.Format, onFrames audio.FrameHandler) (audio.Format, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return audio.Format{}, errors.New("miniaudio: input closed")
	}
	if in.device != nil {
		return audio.Format{}, errors.New("miniaudio: input already open")
	}
	if want.Channels <= 0 {
		want.Channels = 1
	}
	in.handler = onFrames

	dev, err := in.initDevice(want.SampleRate, want.Channels)
	if err != nil {
		slog.Warn("miniaudio: requested capture format refused, using device default rate",
			"want", want, "err", err)
		dev, err = in.initDevice(0, want.Channels)
		if err != nil {
			return audio.Format{}, fmt.Errorf("miniaudio: init capture device: %w", err)
		}
	}
	in.device = dev
	in.format = audio.Format{SampleRate: int(dev.SampleRate()), Channels: want.Channels}
	return in.format, nil
}

func (in *Input) initDevice(rate, channels int) (*ma.Device, error) {
	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(max(rate, 0))
	cfg.PeriodSizeInMilliseconds = in.opts.periodMs
	cfg.Alsa.NoMMap = 1

	return ma.InitDevice(in.ctx.Context, cfg, ma.DeviceCallbacks{
		Data: in.onData,
		Stop: in.onStop,
	})
}

// onData decodes little-endian float32 samples into the reusable buffer and
// hands them to the capture callback.
func (in *Input) onData(_, input []byte, _ uint32) {
	n := len(input) / 4
	if n == 0 {
		return
	}
	if cap(in.buf) < n {
		in.buf = make([]float32, n)
	}
	buf := in.buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	in.handler(buf, in.format.Channels)
}

func (in *Input) onStop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closing || in.closed {
		return
	}
	select {
	case in.errs <- ErrStopped:
	default:
	}
}

// Start implements [audio.InputDevice].
func (in *Input) Start() error {
	in.mu.Lock()
	dev := in.device
	in.mu.Unlock()
	if dev == nil {
		return errors.New("miniaudio: input not open")
	}
	if err := dev.Start(); err != nil {
		return fmt.Errorf("miniaudio: start capture: %w", err)
	}
	return nil
}

// Errors implements [audio.InputDevice].
func (in *Input) Errors() <-chan error { return in.errs }

// Close implements [audio.InputDevice].
func (in *Input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closing = true
	dev, ctx := in.device, in.ctx
	in.mu.Unlock()

	// Stop runs onStop synchronously, so it must happen without the lock.
	if dev != nil {
		_ = dev.Stop()
		dev.Uninit()
	}
	var err error
	if ctx != nil {
		err = ctx.Uninit()
		ctx.Free()
	}

	in.mu.Lock()
	in.closed = true
	in.device = nil
	in.ctx = nil
	close(in.errs)
	in.mu.Unlock()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}
