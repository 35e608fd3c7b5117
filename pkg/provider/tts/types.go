package tts

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (a VOICEVOX style id).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0). Zero keeps the provider
	// default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (style name, etc.).
	Metadata map[string]string
}
