package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioBackend bundles the input and output devices of one audio library.
// Output may be nil for capture-only backends.
type AudioBackend struct {
	Input  audio.InputDevice
	Output audio.OutputDevice
}

// WakewordFactory builds a detector. The STT provider is passed in for
// detectors that transcribe candidate segments.
type WakewordFactory func(cfg WakewordConfig, transcriber stt.Provider) (wakeword.Detector, error)

// factories is a name-keyed set of constructors for one provider kind.
type factories[F any] map[string]F

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	llm      factories[func(LLMConfig) (llm.Provider, error)]
	stt      factories[func(STTConfig) (stt.Provider, error)]
	tts      factories[func(TTSConfig) (tts.Provider, error)]
	vad      factories[func(WakewordConfig) (vad.Engine, error)]
	wakeword factories[WakewordFactory]
	audio    factories[func(AudioConfig) (AudioBackend, error)]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:      make(factories[func(LLMConfig) (llm.Provider, error)]),
		stt:      make(factories[func(STTConfig) (stt.Provider, error)]),
		tts:      make(factories[func(TTSConfig) (tts.Provider, error)]),
		vad:      make(factories[func(WakewordConfig) (vad.Engine, error)]),
		wakeword: make(factories[WakewordFactory]),
		audio:    make(factories[func(AudioConfig) (AudioBackend, error)]),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(STTConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(WakewordConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterWakeword registers a wake-word detector factory under name.
func (r *Registry) RegisterWakeword(name string, factory WakewordFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeword[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (AudioBackend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateSTT instantiates an STT provider using the factory registered under cfg.Provider.
func (r *Registry) CreateSTT(cfg STTConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateTTS instantiates a TTS provider using the factory registered under cfg.Provider.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateVAD instantiates a VAD engine using the factory registered under cfg.VAD.
func (r *Registry) CreateVAD(cfg WakewordConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.VAD]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.VAD)
	}
	return factory(cfg)
}

// CreateWakeword instantiates a detector using the factory registered under cfg.Provider.
func (r *Registry) CreateWakeword(cfg WakewordConfig, transcriber stt.Provider) (wakeword.Detector, error) {
	r.mu.RLock()
	factory, ok := r.wakeword[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wakeword/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg, transcriber)
}

// CreateAudio instantiates the audio backend registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (AudioBackend, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return AudioBackend{}, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Names returns the sorted provider names registered for kind ("llm", "stt",
// "tts", "vad", "wakeword" or "audio"). Unknown kinds return nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "llm":
		names = keys(r.llm)
	case "stt":
		names = keys(r.stt)
	case "tts":
		names = keys(r.tts)
	case "vad":
		names = keys(r.vad)
	case "wakeword":
		names = keys(r.wakeword)
	case "audio":
		names = keys(r.audio)
	}
	slices.Sort(names)
	return names
}

func keys[F any](m factories[F]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
