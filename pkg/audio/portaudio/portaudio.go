// Package portaudio provides an [audio.InputDevice] backed by PortAudio
// through the gordonklaus/portaudio CGO bindings.
//
// Unlike miniaudio, PortAudio does not convert formats: if the default input
// device cannot run mono at the requested rate, the stream is opened in the
// device's native format and the capture core mixes and resamples.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrInputOverflow is reported on Errors when the driver dropped input
// because the callback could not keep up.
var ErrInputOverflow = errors.New("portaudio: input overflow")

// Compile-time assertion that Input satisfies audio.InputDevice.
var _ audio.InputDevice = (*Input)(nil)

// Option is a functional option for configuring an Input.
type Option func(*Input)

// WithFramesPerBuffer sets the callback size in frames. Zero lets PortAudio
// choose, which is the default.
func WithFramesPerBuffer(n int) Option {
	return func(in *Input) { in.framesPerBuffer = n }
}

// WithDeviceName selects an input device by exact name instead of the
// system default.
func WithDeviceName(name string) Option {
	return func(in *Input) { in.deviceName = name }
}

// Input captures from a PortAudio input device.
type Input struct {
	framesPerBuffer int
	deviceName      string

	mu       sync.Mutex
	stream   *pa.Stream
	format   audio.Format
	handler  audio.FrameHandler
	closed   bool
	errs     chan error
	overflow bool
}

// NewInput initialises the PortAudio library. Every successful NewInput must
// be paired with Close.
func NewInput(opts ...Option) (*Input, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	in := &Input{errs: make(chan error, 8)}
	for _, o := range opts {
		o(in)
	}
	return in, nil
}

// Open implements [audio.InputDevice].
func (in *Input) Open(want audio.Format, onFrames audio.FrameHandler) (audio.Format, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return audio.Format{}, errors.New("portaudio: input closed")
	}
	if in.stream != nil {
		return audio.Format{}, errors.New("portaudio: input already open")
	}

	dev, err := in.findDevice()
	if err != nil {
		return audio.Format{}, err
	}
	if dev.MaxInputChannels <= 0 {
		return audio.Format{}, fmt.Errorf("portaudio: device %q has no input channels", dev.Name)
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Output.Device = nil
	params.Output.Channels = 0
	params.FramesPerBuffer = in.framesPerBuffer
	params.Input.Channels = max(want.Channels, 1)
	params.SampleRate = float64(want.SampleRate)

	if err := pa.IsFormatSupported(params, in.onData); err != nil {
		slog.Warn("portaudio: requested capture format unsupported, using device default",
			"device", dev.Name,
			"want", want,
			"default_rate", dev.DefaultSampleRate,
			"err", err,
		)
		params.SampleRate = dev.DefaultSampleRate
		params.Input.Channels = min(dev.MaxInputChannels, 2)
	}

	in.handler = onFrames
	in.format = audio.Format{SampleRate: int(params.SampleRate), Channels: params.Input.Channels}

	stream, err := pa.OpenStream(params, in.onData)
	if err != nil {
		return audio.Format{}, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	in.stream = stream
	return in.format, nil
}

func (in *Input) findDevice() (*pa.DeviceInfo, error) {
	if in.deviceName == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == in.deviceName && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found", in.deviceName)
}

// onData runs on PortAudio's callback thread. Overflow is reported once per
// run of overflowing callbacks.
func (in *Input) onData(samples []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
	if flags&pa.InputOverflow != 0 {
		if !in.overflow {
			in.overflow = true
			select {
			case in.errs <- ErrInputOverflow:
			default:
			}
		}
	} else {
		in.overflow = false
	}
	in.handler(samples, in.format.Channels)
}

// Start implements [audio.InputDevice].
func (in *Input) Start() error {
	in.mu.Lock()
	stream := in.stream
	in.mu.Unlock()
	if stream == nil {
		return errors.New("portaudio: input not open")
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
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
	in.closed = true
	stream := in.stream
	in.stream = nil
	in.mu.Unlock()

	var errs []error
	if stream != nil {
		if err := stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	close(in.errs)
	return errors.Join(errs...)
}
