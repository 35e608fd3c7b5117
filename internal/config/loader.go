package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from the file extension. Anything that is
// not .toml is treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {"whisper", "whisper-native"},
	"tts":      {"voicevox"},
	"vad":      {"energy"},
	"wakeword": {"phonetic"},
	"audio":    {"miniaudio", "portaudio", "mock"},
}

// Default values applied by [ApplyDefaults]. The audio and wake-word values
// match the tuning of the capture service and the phonetic detector.
const (
	DefaultListenAddr      = ":9090"
	DefaultAudioBackend    = "miniaudio"
	DefaultKeyword         = "hey earshot"
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultOllamaModel     = "llama3.2"
	DefaultVoicevoxURL     = "http://localhost:50021"
	DefaultSystemPrompt    = "You are a helpful voice assistant. Answer briefly in one or two sentences, without markdown."
	DefaultProviderTimeout = 60 * time.Second
)

// Load reads the configuration file at path, applies environment overrides
// and defaults, and returns a validated [Config]. The syntax is chosen by
// [FormatFromPath].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := Decode(bytes.NewReader(data), FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Decode(r, FormatYAML)
}

// Decode parses r in the given format. Unknown keys are rejected in both
// formats so that typos surface at startup rather than as silent defaults.
func Decode(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q", format)
	}
	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets and endpoints come from the environment
// instead of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EARSHOT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("EARSHOT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("EARSHOT_TTS_BASE_URL"); v != "" {
		cfg.TTS.BaseURL = v
	}
	if v := os.Getenv("EARSHOT_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
}

// ApplyDefaults fills every zero-valued field that has a documented default.
// Explicitly configured values are never touched.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Log.MaxSizeMB, 10)
	setDefault(&cfg.Log.MaxBackups, 3)
	setDefault(&cfg.Log.MaxAgeDays, 28)

	a := &cfg.Audio
	setDefault(&a.Backend, DefaultAudioBackend)
	setDefault(&a.SampleRate, 16000)
	setDefault(&a.MaxRecordSeconds, 10)
	setDefault(&a.SilenceThreshold, 0.01)
	setDefault(&a.SilenceDuration, 1.0)
	setDefault(&a.InputGain, 1.0)
	setDefault(&a.SmoothingAlpha, 0.1)
	setDefault(&a.RelativeThresholdMultiplier, 3.0)
	setDefault(&a.CalibrationDuration, 0.5)
	setDefault(&a.DebounceFrames, 3)
	setDefault(&a.BufferSeconds, 2)
	setDefault(&a.LookbackSeconds, 0.5)
	setDefault(&a.StreamTimeout, 2*time.Second)

	w := &cfg.Wakeword
	setDefault(&w.Provider, "phonetic")
	setDefault(&w.Keyword, DefaultKeyword)
	setDefault(&w.Threshold, 0.80)
	setDefault(&w.AvgThreshold, 0.85)
	setDefault(&w.MinScores, 3)
	setDefault(&w.WarmupFrames, 300)
	setDefault(&w.FrameSamples, 480)
	setDefault(&w.MaxWindow, 2*time.Second)
	setDefault(&w.VAD, "energy")
	setDefault(&w.VADLevel, 300)
	setDefault(&w.SpeechThreshold, 0.5)
	setDefault(&w.SilenceThreshold, 0.5)

	if cfg.STT.Provider == "" {
		if cfg.STT.BaseURL != "" && cfg.STT.ModelPath == "" {
			cfg.STT.Provider = "whisper"
		} else {
			cfg.STT.Provider = "whisper-native"
		}
	}
	setDefault(&cfg.STT.Language, "en")

	setDefault(&cfg.LLM.Provider, "ollama")
	if cfg.LLM.Provider == "ollama" {
		setDefault(&cfg.LLM.BaseURL, DefaultOllamaURL)
		setDefault(&cfg.LLM.Model, DefaultOllamaModel)
	}
	setDefault(&cfg.LLM.SystemPrompt, DefaultSystemPrompt)
	setDefault(&cfg.LLM.Timeout, DefaultProviderTimeout)

	setDefault(&cfg.TTS.Provider, "voicevox")
	setDefault(&cfg.TTS.BaseURL, DefaultVoicevoxURL)
	setDefault(&cfg.TTS.Speed, 1.0)
	setDefault(&cfg.TTS.Timeout, DefaultProviderTimeout)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		bad("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		bad("log.max_size_mb, log.max_backups and log.max_age_days must not be negative")
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		bad("audio.sample_rate %d must be positive", a.SampleRate)
	}
	if a.MaxRecordSeconds <= 0 {
		bad("audio.max_record_seconds %g must be positive", a.MaxRecordSeconds)
	}
	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		bad("audio.silence_threshold %g is out of range [0, 1]", a.SilenceThreshold)
	}
	if a.SilenceDuration <= 0 {
		bad("audio.silence_duration %g must be positive", a.SilenceDuration)
	}
	if a.InputGain <= 0 {
		bad("audio.input_gain %g must be positive", a.InputGain)
	}
	if a.SmoothingAlpha <= 0 || a.SmoothingAlpha > 1 {
		bad("audio.smoothing_alpha %g is out of range (0, 1]", a.SmoothingAlpha)
	}
	if a.RelativeThresholdMultiplier <= 0 {
		bad("audio.relative_threshold_multiplier %g must be positive", a.RelativeThresholdMultiplier)
	}
	if a.CalibrationDuration < 0 || a.DebounceFrames < 0 || a.LookbackSeconds < 0 || a.WarmupSeconds < 0 {
		bad("audio.calibration_duration, debounce_frames, lookback_seconds and warmup_seconds must not be negative")
	}
	if a.BufferSeconds <= 0 {
		bad("audio.buffer_seconds %g must be positive", a.BufferSeconds)
	}
	if a.StreamTimeout <= 0 {
		bad("audio.stream_timeout %s must be positive", a.StreamTimeout)
	}

	// Wake word
	w := cfg.Wakeword
	if strings.TrimSpace(w.Keyword) == "" {
		bad("wakeword.keyword is required")
	}
	if w.Threshold <= 0 || w.Threshold > 1 {
		bad("wakeword.threshold %g is out of range (0, 1]", w.Threshold)
	}
	if w.AvgThreshold < 0 || w.AvgThreshold > 1 {
		bad("wakeword.avg_threshold %g is out of range [0, 1]", w.AvgThreshold)
	}
	if w.MinScores < 0 || w.WarmupFrames < 0 {
		bad("wakeword.min_scores and wakeword.warmup_frames must not be negative")
	}
	if w.FrameSamples <= 0 {
		bad("wakeword.frame_samples %d must be positive", w.FrameSamples)
	}
	if w.MaxWindow <= 0 {
		bad("wakeword.max_window %s must be positive", w.MaxWindow)
	}
	if w.SpeechThreshold < 0 || w.SpeechThreshold > 1 || w.SilenceThreshold < 0 || w.SilenceThreshold > w.SpeechThreshold {
		bad("wakeword thresholds must satisfy 0 <= silence_threshold (%g) <= speech_threshold (%g) <= 1", w.SilenceThreshold, w.SpeechThreshold)
	}

	// STT
	switch cfg.STT.Provider {
	case "whisper-native":
		if cfg.STT.ModelPath == "" {
			bad("stt.model_path is required for provider whisper-native")
		}
	case "whisper":
		if cfg.STT.BaseURL == "" {
			bad("stt.base_url is required for provider whisper")
		}
	}

	// LLM
	if cfg.LLM.Model == "" {
		bad("llm.model is required")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		bad("llm.temperature %g is out of range [0, 2]", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens < 0 {
		bad("llm.max_tokens %d must not be negative", cfg.LLM.MaxTokens)
	}

	// TTS
	if cfg.TTS.SpeakerID < 0 {
		bad("tts.speaker_id %d must not be negative", cfg.TTS.SpeakerID)
	}
	if cfg.TTS.Speed < 0.5 || cfg.TTS.Speed > 2.0 {
		bad("tts.speed %.2f is out of range [0.5, 2.0]", cfg.TTS.Speed)
	}

	validateProviderName("audio", cfg.Audio.Backend)
	validateProviderName("wakeword", cfg.Wakeword.Provider)
	validateProviderName("vad", cfg.Wakeword.VAD)
	validateProviderName("stt", cfg.STT.Provider)
	validateProviderName("llm", cfg.LLM.Provider)
	validateProviderName("tts", cfg.TTS.Provider)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
