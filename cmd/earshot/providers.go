package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio/miniaudio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/capture"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/llm/anyllm"
	"github.com/MrWong99/earshot/pkg/provider/llm/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/tts/voicevox"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
	"github.com/MrWong99/earshot/pkg/provider/wakeword/phonetic"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// sampleRate is the capture target rate the wake-word detector receives.
func registerBuiltinProviders(reg *config.Registry, sampleRate int) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm backend takes an optional APIKey and BaseURL. "openai"
	// is registered below on the official SDK instead.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" || backend == "ollama" {
			continue
		}
		reg.RegisterLLM(backend, func(c config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if c.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(c.APIKey))
			}
			if c.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
			}
			return anyllm.New(backend, c.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		return anyllm.NewOllama(c.Model, opts...)
	})

	// openai talks to any OpenAI-compatible endpoint through the official SDK.
	reg.RegisterLLM("openai", func(c config.LLMConfig) (llm.Provider, error) {
		opts := []openai.Option{openai.WithTimeout(c.Timeout)}
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		return openai.New(c.APIKey, c.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(c config.STTConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if c.Model != "" {
			opts = append(opts, whisper.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, whisper.WithLanguage(c.Language))
		}
		if c.Prompt != "" {
			opts = append(opts, whisper.WithPrompt(c.Prompt))
		}
		return whisper.New(c.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(c config.STTConfig) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if c.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(c.Language))
		}
		if c.Threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(c.Threads))
		}
		if c.Prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(c.Prompt))
		}
		return whisper.NewNative(c.ModelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("voicevox", func(c config.TTSConfig) (tts.Provider, error) {
		return voicevox.New(c.BaseURL,
			voicevox.WithSpeaker(c.SpeakerID),
			voicevox.WithSpeed(c.Speed),
			voicevox.WithTimeout(c.Timeout),
		)
	})

	// ── VAD + wake word ───────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(c config.WakewordConfig) (vad.Engine, error) {
		return energy.New(energy.WithLevel(c.VADLevel)), nil
	})

	reg.RegisterWakeword("phonetic", func(c config.WakewordConfig, transcriber stt.Provider) (wakeword.Detector, error) {
		pc := phonetic.DefaultConfig(c.Keyword)
		pc.Threshold = c.Threshold
		pc.AvgThreshold = c.AvgThreshold
		pc.MinScores = c.MinScores
		if c.MaxWindow > 0 {
			pc.MaxWindow = c.MaxWindow
		}
		if sampleRate > 0 {
			pc.SampleRate = sampleRate
		}
		return phonetic.New(transcriber, pc)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("miniaudio", func(config.AudioConfig) (config.AudioBackend, error) {
		in, err := miniaudio.NewInput(miniaudio.WithLogger(slog.Default()))
		if err != nil {
			return config.AudioBackend{}, err
		}
		out, err := miniaudio.NewOutput(miniaudio.WithLogger(slog.Default()))
		if err != nil {
			_ = in.Close()
			return config.AudioBackend{}, err
		}
		return config.AudioBackend{Input: in, Output: out}, nil
	})

	// PortAudio only captures; playback stays on miniaudio.
	reg.RegisterAudio("portaudio", func(c config.AudioConfig) (config.AudioBackend, error) {
		var opts []portaudio.Option
		if c.Device != "" {
			opts = append(opts, portaudio.WithDeviceName(c.Device))
		}
		in, err := portaudio.NewInput(opts...)
		if err != nil {
			return config.AudioBackend{}, err
		}
		out, err := miniaudio.NewOutput(miniaudio.WithLogger(slog.Default()))
		if err != nil {
			_ = in.Close()
			return config.AudioBackend{}, err
		}
		return config.AudioBackend{Input: in, Output: out}, nil
	})

	reg.RegisterAudio("mock", func(config.AudioConfig) (config.AudioBackend, error) {
		return config.AudioBackend{Input: &audiomock.InputDevice{}, Output: &audiomock.OutputDevice{}}, nil
	})

	for _, kind := range []string{"audio", "vad", "wakeword", "stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// builtProviders is everything buildProviders instantiated. closers release
// what the capture service does not own, in creation order.
type builtProviders struct {
	audio    config.AudioBackend
	vad      vad.Engine
	wakeword wakeword.Detector

	stt *resilience.STTFallback
	llm *resilience.LLMFallback
	tts *resilience.TTSFallback

	// Raw providers, for readiness probes.
	rawTTS tts.Provider

	closers []func() error
}

// fallbackConfig is shared by every provider group. Local backends either
// answer or are down, so a few failures are enough to stop hammering them.
// Breaker transitions are counted on metrics when it is non-nil.
func fallbackConfig(metrics *observe.Metrics) resilience.FallbackConfig {
	cb := resilience.CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
	}
	if metrics != nil {
		cb.OnStateChange = func(name string, from, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		}
	}
	return resilience.FallbackConfig{CircuitBreaker: cb}
}

// buildProviders instantiates all providers named in cfg using the registry.
// On error every provider created so far is closed.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (ps *builtProviders, err error) {
	ps = &builtProviders{}
	breakerConfig := fallbackConfig(metrics)
	defer func() {
		if err != nil {
			runClosers(ps.closers)
			if ps.audio.Input != nil {
				_ = ps.audio.Input.Close()
			}
		}
	}()
	addCloser := func(v any) {
		if c, ok := v.(io.Closer); ok {
			ps.closers = append(ps.closers, c.Close)
		}
	}

	// ── STT (primary plus optional whisper-server fallback) ───────────────────
	primary, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.STT.Provider, err)
	}
	addCloser(primary)
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Provider)
	ps.stt = resilience.NewSTTFallback(primary, cfg.STT.Provider, breakerConfig)
	if cfg.STT.Provider == "whisper-native" && cfg.STT.BaseURL != "" {
		fbCfg := cfg.STT
		fbCfg.Provider = "whisper"
		fb, err := reg.CreateSTT(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback: %w", err)
		}
		ps.stt.AddFallback("whisper", fb)
		slog.Info("provider created", "kind", "stt", "name", "whisper", "role", "fallback")
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	l, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
	}
	addCloser(l)
	ps.llm = resilience.NewLLMFallback(l, cfg.LLM.Provider, breakerConfig)
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// ── TTS ───────────────────────────────────────────────────────────────────
	t, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Provider, err)
	}
	addCloser(t)
	ps.rawTTS = t
	ps.tts = resilience.NewTTSFallback(t, cfg.TTS.Provider, breakerConfig)
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Provider)

	// ── VAD + wake word ───────────────────────────────────────────────────────
	if ps.vad, err = reg.CreateVAD(cfg.Wakeword); err != nil {
		return nil, fmt.Errorf("create vad %q: %w", cfg.Wakeword.VAD, err)
	}
	if ps.wakeword, err = reg.CreateWakeword(cfg.Wakeword, ps.stt); err != nil {
		return nil, fmt.Errorf("create wake-word detector %q: %w", cfg.Wakeword.Provider, err)
	}
	slog.Info("provider created", "kind", "wakeword", "name", cfg.Wakeword.Provider, "keyword", cfg.Wakeword.Keyword)

	// ── Audio ─────────────────────────────────────────────────────────────────
	if ps.audio, err = reg.CreateAudio(cfg.Audio); err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	if ps.audio.Output == nil {
		return nil, errors.New("audio backend has no playback device")
	}
	ps.closers = append(ps.closers, ps.audio.Output.Close)
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	return ps, nil
}

// readinessChecks builds the /readyz checks: a flowing microphone, a
// reachable language model and speech engine, and at least one closed
// breaker per provider group.
func readinessChecks(cfg *config.Config, svc *capture.Service, ps *builtProviders) []health.Checker {
	checks := []health.Checker{
		health.CaptureCheck("capture", svc.Buffer(), 2*time.Second),
		health.BreakerCheck("stt", ps.stt.States),
		health.BreakerCheck("llm", ps.llm.States),
		health.BreakerCheck("tts", ps.tts.States),
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL != "" {
		url := strings.TrimRight(cfg.LLM.BaseURL, "/") + "/api/tags"
		checks = append(checks, health.HTTPCheck("ollama", &http.Client{Timeout: 3 * time.Second}, url))
	}
	if p, ok := ps.rawTTS.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: cfg.TTS.Provider, Check: p.Ping})
	}
	if cfg.STT.BaseURL != "" {
		checks = append(checks, health.HTTPCheck("whisper-server", &http.Client{Timeout: 3 * time.Second},
			strings.TrimRight(cfg.STT.BaseURL, "/")+"/"))
	}
	return checks
}
