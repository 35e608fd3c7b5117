package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// providerGroup carries the group plumbing shared by the typed fallbacks.
type providerGroup[T any] struct {
	group *FallbackGroup[T]
}

// AddFallback registers a backend tried after all earlier ones.
func (g providerGroup[T]) AddFallback(name string, p T) { g.group.AddFallback(name, p) }

// Names lists the backends in the order they are tried.
func (g providerGroup[T]) Names() []string { return g.group.Names() }

// States reports the breaker state of every backend.
func (g providerGroup[T]) States() map[string]State { return g.group.States() }

// STTFallback is an [stt.Provider] that fails over between transcribers,
// typically in-process whisper.cpp first and whisper-server second.
//
// [stt.ErrTooShort] describes the recording, not the backend, so it neither
// trips a breaker nor moves on to the next transcriber.
type STTFallback struct {
	providerGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a fallback preferring primary. A nil
// cfg.CircuitBreaker.IsFailure becomes [STTIsFailure].
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = STTIsFailure
	}
	return &STTFallback{providerGroup[stt.Provider]{NewFallbackGroup(primary, primaryName, cfg)}}
}

// STTIsFailure is [DefaultIsFailure] minus [stt.ErrTooShort].
func STTIsFailure(err error) bool {
	return DefaultIsFailure(err) && !errors.Is(err, stt.ErrTooShort)
}

// Transcribe hands the same samples to each transcriber in turn.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
}

// LLMFallback is an [llm.Provider] that fails over between language models.
type LLMFallback struct {
	providerGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{providerGroup[llm.Provider]{NewFallbackGroup(primary, primaryName, cfg)}}
}

// Complete sends req to each model in turn until one answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// TTSFallback is a [tts.Provider] that fails over between synthesizers.
type TTSFallback struct {
	providerGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a fallback preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{providerGroup[tts.Provider]{NewFallbackGroup(primary, primaryName, cfg)}}
}

// Synthesize renders text on the first synthesizer that succeeds. Voice ids
// are backend specific; a fallback receives the same profile and maps or
// ignores it.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (audio.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first synthesizer that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
