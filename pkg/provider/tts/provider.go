// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a local VOICEVOX engine by
// default) and turns one reply into one playable clip. Replies are short
// spoken answers, so synthesis is batch rather than streaming.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the decoded
	// audio. An empty text yields an empty clip and no request.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Clip, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
