// Package wakeword turns the continuous capture stream into discrete wake-word
// detections.
//
// A [Listener] pulls fixed-size frames from the capture service, conditions
// them (peak normalisation, then attenuation of non-speech frames driven by a
// vad.Engine) and feeds them to a [Detector]. The first detection ends the
// wait. The phonetic subpackage provides the default Detector.
package wakeword

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Detection describes a recognised wake word.
type Detection struct {
	// Keyword is the configured wake word that was heard.
	Keyword string

	// Score is the detector's confidence in [0, 1].
	Score float64

	// Transcript is the text the detector matched against, when it has one.
	Transcript string
}

// Detector consumes conditioned frames and decides when the wake word has
// been spoken. Implementations are used from a single goroutine.
type Detector interface {
	// Process consumes one frame along with its VAD verdict and returns a
	// non-nil Detection when the keyword was recognised.
	Process(ctx context.Context, frame []int16, ev vad.VADEvent) (*Detection, error)

	// Reset discards any partially accumulated state.
	Reset()
}

// PartialScorer is implemented by detectors that can report the score of the
// most recent evaluation even when it fell below the threshold. The listener
// shows it in its status line.
type PartialScorer interface {
	PartialScore() float64
}
