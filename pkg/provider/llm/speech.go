package llm

import (
	"regexp"
	"strings"
)

var (
	// Reasoning models served by ollama (qwen3, deepseek-r1) prefix their
	// answer with a <think> block.
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?m)^```.*$")
	listMarker = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	heading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasis   = strings.NewReplacer("**", "", "__", "", "`", "", "*", "")
	spaces     = regexp.MustCompile(`\s+`)
)

// SpokenText turns a model reply into text a speech engine can read aloud.
// It drops reasoning blocks and markdown decoration and collapses
// whitespace, so a list becomes a run of sentences.
func SpokenText(reply string) string {
	s := thinkBlock.ReplaceAllString(reply, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		// Unterminated block: the model ran out of tokens while reasoning.
		s = s[:i]
	}
	s = codeFence.ReplaceAllString(s, "")
	s = heading.ReplaceAllString(s, "")
	s = listMarker.ReplaceAllString(s, "")
	s = emphasis.Replace(s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
