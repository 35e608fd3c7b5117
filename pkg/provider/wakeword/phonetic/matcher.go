// Package phonetic implements a wake-word Detector that transcribes each
// speech segment and matches the transcript against the keyword with Double
// Metaphone phonetic codes and Jaro-Winkler similarity.
//
// The matcher works in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the heard phrase and of every candidate. A candidate whose
//     codes overlap the phrase's codes is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the one with the
//     highest Jaro-Winkler similarity (case-insensitive) wins, provided it
//     reaches the phonetic threshold. Without any phonetic candidate, a pure
//     Jaro-Winkler pass applies the stricter fuzzy threshold.
//
// Multi-word keywords ("hey computer") compare pairwise per token as well as
// on the full and space-stripped strings.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetically
// matching candidate needs. Default: 0.80.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score a candidate needs
// when no phonetic overlap exists. Default: 0.92.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores heard phrases against candidate keywords. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the candidate most similar to phrase. When matched is false,
// best is empty and confidence is 0.
func (m *Matcher) Match(phrase string, candidates []string) (best string, confidence float64, matched bool) {
	if len(candidates) == 0 || strings.TrimSpace(phrase) == "" {
		return "", 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := codesForTokens(phraseTokens)

	var (
		winner   string
		score    float64
		phonetic bool
	)
	for _, c := range candidates {
		cLower := strings.ToLower(strings.TrimSpace(c))
		if cLower == "" {
			continue
		}
		cTokens := strings.Fields(cLower)
		jw := bestJWScore(phraseTokens, cTokens, phraseLower, cLower)

		if codesOverlap(phraseCodes, codesForTokens(cTokens)) {
			if jw >= m.phoneticThreshold && (!phonetic || jw > score) {
				winner, score, phonetic = c, jw, true
			}
		} else if !phonetic && jw >= m.fuzzyThreshold && jw > score {
			winner, score = c, jw
		}
	}
	if winner == "" {
		return "", 0, false
	}
	return winner, score, true
}

// TokenCoverage returns the mean, over the keyword's tokens, of each token's
// best Jaro-Winkler similarity against any token of phrase. A phrase that
// matches only one word of a multi-word keyword scores low here even when
// Match accepts it.
func TokenCoverage(phrase, keyword string) float64 {
	pTokens := strings.Fields(strings.ToLower(phrase))
	kTokens := strings.Fields(strings.ToLower(keyword))
	if len(pTokens) == 0 || len(kTokens) == 0 {
		return 0
	}
	var sum float64
	for _, kt := range kTokens {
		var best float64
		for _, pt := range pTokens {
			best = max(best, matchr.JaroWinkler(pt, kt, false))
		}
		sum += best
	}
	return sum / float64(len(kTokens))
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
