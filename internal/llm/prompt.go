package llm

import "strings"

// DefaultPromptLimit caps how much ticket text is sent to the model. Longer
// tickets carry their signal up front; the tail is almost always quoted
// thread history.
const DefaultPromptLimit = 6000

// ClampPrompt truncates s to at most limit runes, cutting at a word boundary
// when one is close enough. A limit <= 0 means DefaultPromptLimit.
func ClampPrompt(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultPromptLimit
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit-200 {
		cut = cut[:i]
	}
	return cut
}
