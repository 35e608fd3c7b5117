// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the earshot voice assistant.
//
// Configuration files are YAML or TOML; the format is chosen from the file
// extension. Every section has documented defaults, so a minimal file only
// needs the values that differ (usually the LLM model and the wake word).
package config

import (
	"time"

	"github.com/MrWong99/earshot/pkg/capture"
)

// LogLevel controls log verbosity for earshot.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a file using [Load].
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	Audio    AudioConfig    `yaml:"audio" toml:"audio"`
	Wakeword WakewordConfig `yaml:"wakeword" toml:"wakeword"`
	STT      STTConfig      `yaml:"stt" toml:"stt"`
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	TTS      TTSConfig      `yaml:"tts" toml:"tts"`
}

// ServerConfig holds the health/metrics listener and the log level.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics endpoint
	// (e.g., ":9090"). Set to "-" to disable the listener.
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`
}

// LogConfig configures the optional rotated log file. Logs always go to
// stderr; when File is set they are also written there.
type LogConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// AudioConfig selects the audio backend and tunes the capture service and
// utterance recording.
type AudioConfig struct {
	// Backend selects the registered audio backend ("miniaudio", "portaudio"
	// or "mock").
	Backend string `yaml:"backend" toml:"backend"`

	// Device is a backend-specific input device name. Empty selects the
	// system default.
	Device string `yaml:"device" toml:"device"`

	// SampleRate is the rate, in Hz, of every sample the capture service
	// hands out.
	SampleRate int `yaml:"sample_rate" toml:"sample_rate"`

	// MaxRecordSeconds caps the length of a spoken command.
	MaxRecordSeconds float64 `yaml:"max_record_seconds" toml:"max_record_seconds"`

	// SilenceThreshold is the absolute RMS floor below which audio counts
	// as silence while recording a command.
	SilenceThreshold float64 `yaml:"silence_threshold" toml:"silence_threshold"`

	// SilenceDuration is how many seconds of silence end a command.
	SilenceDuration float64 `yaml:"silence_duration" toml:"silence_duration"`

	// InputGain multiplies every captured sample. Hot-reloadable.
	InputGain float64 `yaml:"input_gain" toml:"input_gain"`

	SmoothingAlpha              float64       `yaml:"smoothing_alpha" toml:"smoothing_alpha"`
	RelativeThresholdMultiplier float64       `yaml:"relative_threshold_multiplier" toml:"relative_threshold_multiplier"`
	CalibrationDuration         float64       `yaml:"calibration_duration" toml:"calibration_duration"`
	DebounceFrames              int           `yaml:"debounce_frames" toml:"debounce_frames"`
	BufferSeconds               float64       `yaml:"buffer_seconds" toml:"buffer_seconds"`
	LookbackSeconds             float64       `yaml:"lookback_seconds" toml:"lookback_seconds"`
	StreamTimeout               time.Duration `yaml:"stream_timeout" toml:"stream_timeout"`

	// WarmupSeconds of audio are captured and discarded at startup. Zero
	// keeps the capture default.
	WarmupSeconds float64 `yaml:"warmup_seconds" toml:"warmup_seconds"`
}

// CaptureConfig maps the audio section onto the capture service
// configuration. Fields the file does not cover keep capture defaults.
func (a AudioConfig) CaptureConfig() capture.Config {
	c := capture.DefaultConfig()
	c.TargetRate = a.SampleRate
	c.Gain = a.InputGain
	c.SmoothingAlpha = a.SmoothingAlpha
	c.ThresholdMultiplier = a.RelativeThresholdMultiplier
	c.CalibrationSeconds = a.CalibrationDuration
	c.DebounceFrames = a.DebounceFrames
	c.BufferSeconds = a.BufferSeconds
	c.LookbackSeconds = a.LookbackSeconds
	c.StreamTimeout = a.StreamTimeout
	if a.WarmupSeconds > 0 {
		c.Warmup.WarmupSeconds = a.WarmupSeconds
	}
	return c
}

// WakewordConfig configures the wake-word listener, its detector and the VAD
// engine that gates it.
type WakewordConfig struct {
	// Provider selects the registered detector ("phonetic").
	Provider string `yaml:"provider" toml:"provider"`

	// Keyword is the wake phrase, e.g. "hey earshot".
	Keyword string `yaml:"keyword" toml:"keyword"`

	// Threshold is the minimum phrase match score in [0, 1].
	Threshold float64 `yaml:"threshold" toml:"threshold"`

	// AvgThreshold is the minimum mean per-word score in [0, 1].
	AvgThreshold float64 `yaml:"avg_threshold" toml:"avg_threshold"`

	// MinScores is the minimum number of speech frames in a segment before
	// it is considered at all.
	MinScores int `yaml:"min_scores" toml:"min_scores"`

	// WarmupFrames run through the VAD only when listening starts.
	WarmupFrames int `yaml:"warmup_frames" toml:"warmup_frames"`

	// FrameSamples is the listener frame length in samples.
	FrameSamples int `yaml:"frame_samples" toml:"frame_samples"`

	// MaxWindow forces evaluation of a segment that has not ended.
	MaxWindow time.Duration `yaml:"max_window" toml:"max_window"`

	// VAD selects the registered VAD engine ("energy").
	VAD string `yaml:"vad" toml:"vad"`

	// VADLevel is the energy engine's reference RMS on the 16-bit scale.
	VADLevel float64 `yaml:"vad_level" toml:"vad_level"`

	SpeechThreshold  float64 `yaml:"speech_threshold" toml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold" toml:"silence_threshold"`
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	// Provider is "whisper-native" (in-process whisper.cpp) or "whisper"
	// (whisper-server over HTTP).
	Provider string `yaml:"provider" toml:"provider"`

	// ModelPath is the ggml model file, required by whisper-native.
	ModelPath string `yaml:"model_path" toml:"model_path"`

	// BaseURL is the whisper-server address, required by whisper.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Model is forwarded to whisper-server. Optional.
	Model string `yaml:"model" toml:"model"`

	Language string `yaml:"language" toml:"language"`
	Threads  uint   `yaml:"threads" toml:"threads"`

	// Prompt biases decoding towards its vocabulary, e.g. room and device
	// names. Optional.
	Prompt string `yaml:"prompt" toml:"prompt"`
}

// LLMConfig selects and configures the language model.
type LLMConfig struct {
	// Provider is "ollama", "openai" or any other any-llm backend name.
	Provider string `yaml:"provider" toml:"provider"`

	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`
	APIKey  string `yaml:"api_key" toml:"api_key"`

	// SystemPrompt is prepended to every request.
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`

	// Temperature is passed through when non-zero.
	Temperature float64 `yaml:"temperature" toml:"temperature"`

	// MaxTokens is passed through when positive.
	MaxTokens int `yaml:"max_tokens" toml:"max_tokens"`

	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// TTSConfig selects and configures speech synthesis.
type TTSConfig struct {
	// Provider is "voicevox".
	Provider string `yaml:"provider" toml:"provider"`

	BaseURL   string        `yaml:"base_url" toml:"base_url"`
	SpeakerID int           `yaml:"speaker_id" toml:"speaker_id"`
	Speed     float64       `yaml:"speed" toml:"speed"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}
