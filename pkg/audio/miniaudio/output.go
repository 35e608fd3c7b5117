package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time assertion that Output satisfies audio.OutputDevice.
var _ audio.OutputDevice = (*Output)(nil)

// Output plays clips on the system default speaker. A playback device is
// opened per clip in the clip's own format; miniaudio converts to whatever
// the hardware runs at.
type Output struct {
	opts options

	mu     sync.Mutex
	ctx    *ma.AllocatedContext
	closed bool
}

// NewOutput initialises a miniaudio context for playback.
func NewOutput(opts ...Option) (*Output, error) {
	o := buildOptions(opts)
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		o.log.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Output{opts: o, ctx: ctx}, nil
}

// Play implements [audio.OutputDevice].
func (o *Output) Play(ctx context.Context, clip audio.Clip) error {
	if clip.Format.SampleRate <= 0 || clip.Format.Channels <= 0 {
		return fmt.Errorf("miniaudio: invalid clip format %s", clip.Format)
	}
	if len(clip.Samples) == 0 {
		return nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("miniaudio: output closed")
	}
	mctx := o.ctx
	o.mu.Unlock()

	pcm := audio.PCM16ToBytes(clip.Samples)
	var (
		pos      int
		finished = make(chan struct{})
		once     sync.Once
	)

	cfg := ma.DefaultDeviceConfig(ma.Playback)
	cfg.Playback.Format = ma.FormatS16
	cfg.Playback.Channels = uint32(clip.Format.Channels)
	cfg.SampleRate = uint32(clip.Format.SampleRate)
	cfg.PeriodSizeInMilliseconds = o.opts.periodMs
	cfg.Alsa.NoMMap = 1

	dev, err := ma.InitDevice(mctx.Context, cfg, ma.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			n := copy(output, pcm[pos:])
			pos += n
			if n < len(output) {
				clear(output[n:])
				once.Do(func() { close(finished) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("miniaudio: init playback device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("miniaudio: start playback: %w", err)
	}

	select {
	case <-finished:
		_ = dev.Stop()
		return nil
	case <-ctx.Done():
		_ = dev.Stop()
		return ctx.Err()
	}
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.ctx.Uninit()
	o.ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}
