// Package enrich classifies ticket text with a language model, guarded by a
// template prefilter and corrected by learned user feedback.
package enrich

import (
	"regexp"
	"strings"
)

// Template lines and boilerplate that the support form injects around the
// user's actual message. Stripped before judging whether a ticket is empty.
var templateLineRes = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^user\s*id\s*[=:].*$`),
	regexp.MustCompile(`(?im)^os\s*[=:].*$`),
	regexp.MustCompile(`(?im)^device\s*[=:].*$`),
	regexp.MustCompile(`(?im)^platform\s*[=:].*$`),
}

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	boilerplateRe = regexp.MustCompile(`(?i)support request|\[peerplay games\]`)
	ruleLineRe    = regexp.MustCompile(`---+|=+`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// minRealContent is the cleaned-text length below which a ticket counts as
// empty. Everything shorter is template residue, not a user message.
const minRealContent = 40

// StripTemplate removes form boilerplate and HTML, collapsing whitespace so
// length reflects actual user content.
func StripTemplate(text string) string {
	cleaned := text
	for _, re := range templateLineRes {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = htmlTagRe.ReplaceAllString(cleaned, "")
	cleaned = boilerplateRe.ReplaceAllString(cleaned, "")
	cleaned = ruleLineRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))
}

// IsEmptyTicket reports whether the ticket carries no real user message.
// Empty tickets must never reach the model: it will invent a problem.
func IsEmptyTicket(text string) bool {
	return len(StripTemplate(text)) < minRealContent
}

// EmptyTicketEnrichment is the canned result used instead of a model call
// when the prefilter blocks an empty ticket.
func EmptyTicketEnrichment() Enrichment {
	return Enrichment{
		Summary:   "Empty ticket - no user message provided",
		RootCause: "no user message provided",
		Intent:    "incomplete_ticket",
		Tags:      []string{"empty", "no_message"},
	}
}
