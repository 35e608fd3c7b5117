// Package mock provides in-memory mock implementations of the
// [audio.InputDevice] and [audio.OutputDevice] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.InputDevice{Format: audio.Format{SampleRate: 48000, Channels: 2}}
//	svc, err := capture.New(ctx, dev, cfg)
//	dev.Push(frames) // delivers frames to the capture callback synchronously
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
// Set the exported fields before use; inspect the Call* fields after.
type InputDevice struct {
	mu sync.Mutex

	// Format is returned by Open. If zero, Open echoes the requested format.
	Format audio.Format

	// OpenErr is returned by Open.
	OpenErr error

	// StartErr is returned by Start.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error

	// OnStart, if set, is invoked from Start after the device is marked
	// running. Use it to begin feeding frames from a goroutine.
	OnStart func(d *InputDevice)

	// OpenCalls records the format requested by each Open call.
	OpenCalls []audio.Format

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	handler audio.FrameHandler
	format  audio.Format
	running bool
	closed  bool
	errs    chan error
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(want audio.Format, onFrames audio.FrameHandler) (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, want)
	if d.OpenErr != nil {
		return audio.Format{}, d.OpenErr
	}
	d.handler = onFrames
	d.format = d.Format
	if d.format == (audio.Format{}) {
		d.format = want
	}
	if d.errs == nil {
		d.errs = make(chan error, 16)
	}
	return d.format, nil
}

// Start implements [audio.InputDevice].
func (d *InputDevice) Start() error {
	d.mu.Lock()
	d.CallCountStart++
	if d.StartErr != nil {
		d.mu.Unlock()
		return d.StartErr
	}
	d.running = true
	onStart := d.OnStart
	d.mu.Unlock()

	if onStart != nil {
		onStart(d)
	}
	return nil
}

// Errors implements [audio.InputDevice].
func (d *InputDevice) Errors() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.errs == nil {
		d.errs = make(chan error, 16)
	}
	return d.errs
}

// Close implements [audio.InputDevice]. It closes the Errors channel once.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if !d.closed {
		d.closed = true
		d.running = false
		if d.errs != nil {
			close(d.errs)
		}
	}
	return d.CloseErr
}

// Push delivers interleaved frames to the registered callback synchronously,
// as the audio driver would. Frames pushed before Start or after Close are
// dropped. Returns whether the frames were delivered.
func (d *InputDevice) Push(frames []float32) bool {
	d.mu.Lock()
	h, ch, ok := d.handler, d.format.Channels, d.running
	d.mu.Unlock()
	if !ok || h == nil {
		return false
	}
	h(frames, max(ch, 1))
	return true
}

// EmitError reports an asynchronous runtime error. It never blocks; the
// error is dropped when the buffer is full or the device is closed.
func (d *InputDevice) EmitError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.errs == nil {
		return
	}
	select {
	case d.errs <- err:
	default:
	}
}

// Running reports whether Start succeeded and Close has not been called.
func (d *InputDevice) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// PlayErr is returned by Play.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	// PlayCalls records every clip passed to Play.
	PlayCalls []audio.Clip

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.OutputDevice]. It returns immediately.
func (o *OutputDevice) Play(ctx context.Context, clip audio.Clip) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.PlayCalls = append(o.PlayCalls, clip)
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.PlayErr
}

// Close implements [audio.OutputDevice].
func (o *OutputDevice) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseErr
}

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)
