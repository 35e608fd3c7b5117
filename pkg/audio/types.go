package audio

import "time"

// Clip is a decoded block of audio ready for playback.
type Clip struct {
	// Samples holds interleaved 16-bit PCM.
	Samples []int16

	// Format describes Samples.
	Format Format
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}
