// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one recorded utterance into text. Utterances are
// short (a few seconds of mono float32 audio) and arrive only after the
// capture core has decided the speaker is done, so the interface is a single
// blocking call rather than a streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrTooShort is returned by [Prepare] when an utterance is shorter than
// [MinUtterance] and is not worth transcribing.
var ErrTooShort = errors.New("stt: utterance too short")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in samples, which are mono float32
	// in [-1, 1] at sampleRate Hz. An empty string with a nil error means
	// no speech was recognised.
	//
	// Implementations apply [Preprocess] themselves; callers pass the raw
	// recording.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}
