// Package llm holds helpers shared by everything that talks to a language
// model: lenient JSON decoding of model output and prompt-size guards.
package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeStats records which recovery strategies were needed to turn a model
// reply into valid JSON. Useful in logs when a model starts misbehaving.
type DecodeStats struct {
	OriginalBytes int      `json:"original_bytes"`
	DecodedBytes  int      `json:"decoded_bytes"`
	Strategies    []string `json:"strategies,omitempty"`
	WasRepaired   bool     `json:"was_repaired"`
}

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// DecodeLoose unmarshals a model reply into v, tolerating the usual ways
// models mangle JSON: markdown code fences, prose around the object,
// trailing commas, truncated output, smart quotes. Strategies are applied
// in order of likelihood, with the jsonrepair library as the last resort.
func DecodeLoose(raw string, v any) (DecodeStats, error) {
	stats := DecodeStats{OriginalBytes: len(raw)}

	s := strings.TrimSpace(raw)
	if json.Unmarshal([]byte(s), v) == nil {
		stats.DecodedBytes = len(s)
		return stats, nil
	}
	stats.WasRepaired = true

	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
		stats.Strategies = append(stats.Strategies, "code_fence")
	}
	if inner := extractObject(s); inner != "" && inner != s {
		s = inner
		stats.Strategies = append(stats.Strategies, "extract_object")
	}
	if cleaned := replaceSmartQuotes(s); cleaned != s {
		s = cleaned
		stats.Strategies = append(stats.Strategies, "smart_quotes")
	}
	if cleaned := trailingCommaRe.ReplaceAllString(s, "$1"); cleaned != s {
		s = cleaned
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}
	if completed := completeBrackets(s); completed != s {
		s = completed
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if json.Unmarshal([]byte(s), v) == nil {
		stats.DecodedBytes = len(s)
		return stats, nil
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err == nil {
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		if json.Unmarshal([]byte(repaired), v) == nil {
			stats.DecodedBytes = len(repaired)
			return stats, nil
		}
	}

	stats.DecodedBytes = len(s)
	return stats, fmt.Errorf("decode model JSON: invalid after %d strategies", len(stats.Strategies))
}

// extractObject returns the first balanced top-level {...} in s, skipping
// braces inside string literals. Empty string when no object is found.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inStr:
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	// Unbalanced: return the tail so completion can close it.
	return s[start:]
}

// completeBrackets closes unmatched braces and brackets in LIFO order. This
// recovers objects truncated by a max-token cutoff.
func completeBrackets(s string) string {
	var stack []byte
	inStr := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inStr:
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inStr {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

func replaceSmartQuotes(s string) string {
	return smartQuoteReplacer.Replace(s)
}
