package phonetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

var (
	_ wakeword.Detector      = (*Detector)(nil)
	_ wakeword.PartialScorer = (*Detector)(nil)
)

// Config holds the detector's decision knobs.
type Config struct {
	// Keyword is the wake word or phrase, e.g. "hey earshot".
	Keyword string

	// Threshold is the minimum match confidence of the best phrase.
	Threshold float64

	// AvgThreshold is the minimum mean per-token coverage of the keyword by
	// that phrase (see TokenCoverage).
	AvgThreshold float64

	// MinScores is the minimum number of speech frames a segment needs before
	// it is transcribed at all. Shorter blips are ignored.
	MinScores int

	// SampleRate is the rate of the incoming frames.
	SampleRate int

	// MaxWindow bounds a segment. A segment that reaches it is evaluated even
	// if speech has not ended.
	MaxWindow time.Duration

	// PreRollFrames is how many frames before the speech start are kept, so
	// a soft onset is not cut off.
	PreRollFrames int
}

// DefaultConfig returns the defaults for keyword.
func DefaultConfig(keyword string) Config {
	return Config{
		Keyword:       keyword,
		Threshold:     0.80,
		AvgThreshold:  0.85,
		MinScores:     3,
		SampleRate:    16000,
		MaxWindow:     2 * time.Second,
		PreRollFrames: 10,
	}
}

// Detector collects speech segments, transcribes each one and matches it
// against the keyword. It is not safe for concurrent use.
type Detector struct {
	cfg       Config
	stt       stt.Provider
	matcher   *Matcher
	maxWindow int

	preRoll      [][]int16
	window       []int16
	collecting   bool
	speechFrames int
	partial      float64
}

// New creates a Detector that transcribes segments with provider.
func New(provider stt.Provider, cfg Config) (*Detector, error) {
	if provider == nil {
		return nil, errors.New("phonetic: stt provider is required")
	}
	if strings.TrimSpace(cfg.Keyword) == "" {
		return nil, errors.New("phonetic: keyword must not be empty")
	}
	if cfg.SampleRate <= 0 || cfg.MaxWindow <= 0 {
		return nil, fmt.Errorf("phonetic: sample rate and max window must be positive")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 || cfg.AvgThreshold < 0 || cfg.AvgThreshold > 1 {
		return nil, fmt.Errorf("phonetic: thresholds must be in [0, 1], got %v and %v", cfg.Threshold, cfg.AvgThreshold)
	}
	return &Detector{
		cfg:       cfg,
		stt:       provider,
		matcher:   NewMatcher(WithPhoneticThreshold(cfg.Threshold), WithFuzzyThreshold(max(cfg.Threshold, defaultFuzzyThreshold))),
		maxWindow: int(cfg.MaxWindow.Seconds() * float64(cfg.SampleRate)),
	}, nil
}

// Process implements wakeword.Detector.
func (d *Detector) Process(ctx context.Context, frame []int16, ev vad.VADEvent) (*wakeword.Detection, error) {
	if !d.collecting {
		if ev.Type != vad.VADSpeechStart {
			d.pushPreRoll(frame)
			return nil, nil
		}
		d.collecting = true
		d.speechFrames = 0
		d.window = d.window[:0]
		for _, f := range d.preRoll {
			d.window = append(d.window, f...)
		}
		d.preRoll = d.preRoll[:0]
	}

	d.window = append(d.window, frame...)
	if ev.IsSpeech() {
		d.speechFrames++
	}
	if ev.Type != vad.VADSpeechEnd && len(d.window) < d.maxWindow {
		return nil, nil
	}

	d.collecting = false
	if d.speechFrames < d.cfg.MinScores {
		return nil, nil
	}
	return d.evaluate(ctx, d.window)
}

// Reset implements wakeword.Detector.
func (d *Detector) Reset() {
	d.preRoll = d.preRoll[:0]
	d.window = d.window[:0]
	d.collecting = false
	d.speechFrames = 0
	d.partial = 0
}

// PartialScore returns the confidence of the last evaluated segment.
func (d *Detector) PartialScore() float64 { return d.partial }

func (d *Detector) pushPreRoll(frame []int16) {
	if d.cfg.PreRollFrames <= 0 {
		return
	}
	if len(d.preRoll) == d.cfg.PreRollFrames {
		copy(d.preRoll, d.preRoll[1:])
		d.preRoll = d.preRoll[:len(d.preRoll)-1]
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	d.preRoll = append(d.preRoll, cp)
}

// evaluate transcribes one segment and scores it.
func (d *Detector) evaluate(ctx context.Context, segment []int16) (*wakeword.Detection, error) {
	samples := audio.PCM16ToFloat32(segment)
	// Pad short segments with silence so they clear the STT minimum.
	if minLen := int(stt.MinUtterance.Seconds() * float64(d.cfg.SampleRate)); len(samples) < minLen {
		samples = append(samples, make([]float32, minLen-len(samples))...)
	}

	text, err := d.stt.Transcribe(ctx, samples, d.cfg.SampleRate)
	if errors.Is(err, stt.ErrTooShort) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A failed transcription only loses this segment.
		slog.Warn("phonetic: transcription failed", "err", err)
		return nil, nil
	}

	score, coverage := d.Score(text)
	d.partial = score
	slog.Debug("phonetic: segment scored", "transcript", text, "score", score, "coverage", coverage)
	if score < d.cfg.Threshold || coverage < d.cfg.AvgThreshold {
		return nil, nil
	}
	return &wakeword.Detection{Keyword: d.cfg.Keyword, Score: score, Transcript: text}, nil
}

// Score returns the best match confidence of any keyword-length run of words
// in text, and the token coverage of that run. A transcript that contains the
// keyword verbatim (after normalisation) scores 1, which also covers scripts
// written without spaces.
func (d *Detector) Score(text string) (score, coverage float64) {
	words := tokenize(text)
	keyword := strings.Join(tokenize(d.cfg.Keyword), " ")
	if len(words) == 0 || keyword == "" {
		return 0, 0
	}
	if strings.Contains(strings.Join(words, " "), keyword) {
		return 1, 1
	}

	n := min(len(strings.Fields(keyword)), len(words))
	for i := 0; i+n <= len(words); i++ {
		phrase := strings.Join(words[i:i+n], " ")
		if _, conf, ok := d.matcher.Match(phrase, []string{keyword}); ok && conf > score {
			score = conf
			coverage = TokenCoverage(phrase, keyword)
		}
	}
	return score, coverage
}

// tokenize lower-cases s and splits it on anything that is not a letter or
// digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
