package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GainChanged bool
	NewGain     float64

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GainChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Audio.InputGain != new.Audio.InputGain {
		d.GainChanged = true
		d.NewGain = new.Audio.InputGain
	}

	// Everything in the audio section except the gain is baked into the
	// capture service at startup.
	oldAudio, newAudio := old.Audio, new.Audio
	oldAudio.InputGain, newAudio.InputGain = 0, 0
	if oldAudio != newAudio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Log != new.Log {
		d.RestartRequired = append(d.RestartRequired, "log")
	}
	if old.Wakeword != new.Wakeword {
		d.RestartRequired = append(d.RestartRequired, "wakeword")
	}
	if old.STT != new.STT {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
	if old.LLM != new.LLM {
		d.RestartRequired = append(d.RestartRequired, "llm")
	}
	if old.TTS != new.TTS {
		d.RestartRequired = append(d.RestartRequired, "tts")
	}

	return d
}
