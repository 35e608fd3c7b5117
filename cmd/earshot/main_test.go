package main

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	ttsmock "github.com/MrWong99/earshot/pkg/provider/tts/mock"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, 16000)

	want := map[string][]string{
		"audio":    {"miniaudio", "mock", "portaudio"},
		"vad":      {"energy"},
		"wakeword": {"phonetic"},
		"stt":      {"whisper", "whisper-native"},
		"tts":      {"voicevox"},
	}
	for kind, names := range want {
		if got := reg.Names(kind); !slices.Equal(got, names) {
			t.Errorf("%s providers: got %v, want %v", kind, got, names)
		}
	}
	for _, name := range []string{"ollama", "openai", "anthropic", "llamacpp"} {
		if !slices.Contains(reg.Names("llm"), name) {
			t.Errorf("llm provider %q not registered", name)
		}
	}
}

// fakeRegistry has the built-in audio, VAD and wake-word factories plus
// in-memory STT/LLM/TTS providers registered as "fake".
func fakeRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, 16000)
	reg.RegisterSTT("fake", func(config.STTConfig) (stt.Provider, error) {
		return &sttmock.Provider{Text: "hey earshot"}, nil
	})
	reg.RegisterLLM("fake", func(config.LLMConfig) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterTTS("fake", func(config.TTSConfig) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	return reg
}

func fakeConfig() *config.Config {
	cfg := &config.Config{
		Audio: config.AudioConfig{Backend: "mock"},
		STT:   config.STTConfig{Provider: "fake"},
		LLM:   config.LLMConfig{Provider: "fake", Model: "tiny"},
		TTS:   config.TTSConfig{Provider: "fake"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestBuildProviders(t *testing.T) {
	ps, err := buildProviders(fakeConfig(), fakeRegistry(), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer runClosers(ps.closers)

	if ps.audio.Input == nil || ps.audio.Output == nil {
		t.Fatal("audio backend not populated")
	}
	if ps.vad == nil || ps.wakeword == nil {
		t.Fatal("vad or wake-word detector missing")
	}
	if len(ps.closers) == 0 {
		t.Error("expected at least the playback device closer")
	}
	for name, states := range map[string]int{
		"stt": len(ps.stt.States()),
		"llm": len(ps.llm.States()),
		"tts": len(ps.tts.States()),
	} {
		if states != 1 {
			t.Errorf("%s breakers: got %d, want 1", name, states)
		}
	}
}

func TestBuildProviders_UnknownProvider(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"stt", func(c *config.Config) { c.STT.Provider = "nope" }},
		{"llm", func(c *config.Config) { c.LLM.Provider = "nope" }},
		{"tts", func(c *config.Config) { c.TTS.Provider = "nope" }},
		{"audio", func(c *config.Config) { c.Audio.Backend = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fakeConfig()
			tt.mutate(cfg)
			_, err := buildProviders(cfg, fakeRegistry(), nil)
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("err: got %v, want ErrProviderNotRegistered", err)
			}
		})
	}
}

func TestPrintStartupSummary(t *testing.T) {
	cfg := fakeConfig()
	cfg.LLM.Model = "a-model-name-that-is-far-too-long"
	cfg.Server.ListenAddr = "-"

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()

	for _, want := range []string{"mock / 16000 Hz", "fake / a-model-nam…", "(disabled)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "far-too-long") {
		t.Errorf("long value was not truncated:\n%s", out)
	}
}
