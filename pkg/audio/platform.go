// Package audio defines the interfaces and types for local audio hardware
// used by earshot.
//
// The two primary abstractions are:
//
//   - [InputDevice]: a microphone that delivers interleaved float32 frames to
//     a registered callback once opened with a negotiated [Format].
//   - [OutputDevice]: a speaker that plays decoded [Clip] values to
//     completion.
//
// Implementations are provided by backend adapter packages (audio/miniaudio,
// audio/portaudio). The interfaces are intentionally narrow so that the
// capture core stays decoupled from any particular audio library, and so
// that tests can drive it with audio/mock.
package audio

import "context"

// FrameHandler receives interleaved float32 samples in [-1, 1] from the
// hardware. len(frames) is a multiple of channels. The slice is only valid
// for the duration of the call; implementations reuse it.
//
// FrameHandler runs on the audio driver's real-time thread and must return
// quickly without blocking.
type FrameHandler func(frames []float32, channels int)

// InputDevice is a capture device.
//
// Implementations must be safe for concurrent use of Errors and Close with
// the running callback.
type InputDevice interface {
	// Open negotiates a stream format and registers onFrames. want is a
	// preference: implementations first try want.Channels at want.SampleRate
	// and fall back to the device's native format. The format actually in
	// use is returned.
	//
	// Returns an error if no input device is available or no format can be
	// negotiated.
	Open(want Format, onFrames FrameHandler) (Format, error)

	// Start begins delivering frames. Open must have succeeded first.
	Start() error

	// Errors returns a channel of asynchronous runtime errors reported by
	// the driver (overruns, disconnects). The channel is closed by Close.
	// Sends are non-blocking; errors are dropped when nobody is reading.
	Errors() <-chan error

	// Close stops the stream and releases all resources. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// OutputDevice is a playback device.
type OutputDevice interface {
	// Play blocks until clip has been played completely or ctx is done.
	// Returns ctx.Err() when playback was cut short.
	Play(ctx context.Context, clip Clip) error

	// Close releases all resources. Calling Close more than once is safe.
	Close() error
}
