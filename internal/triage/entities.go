package triage

import (
	"regexp"
	"strconv"
	"strings"
)

// Entities holds the structured fields extracted from free-form ticket text.
// Absent fields stay at their zero value (nil for the numeric pointers).
type Entities struct {
	Level      *int   `json:"level"`
	Chapter    *int   `json:"chapter"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	Device     string `json:"device,omitempty"`
}

var (
	levelRe      = regexp.MustCompile(`\blevel\s*(\d{1,4})\b`)
	chapterRe    = regexp.MustCompile(`\bchapter\s*(\d{1,4})\b`)
	androidRe    = regexp.MustCompile(`\bandroid\b`)
	iosRe        = regexp.MustCompile(`\bios\b|\biphone|\bipad`)
	appVersionRe = regexp.MustCompile(`\bv?(\d+\.\d+(?:\.\d+)*)\b`)

	deviceLineRe   = regexp.MustCompile(`(?i)device\s*[=:]\s*([^\n\r]+)`)
	iphoneModelRe  = regexp.MustCompile(`\biphone\s*(\d+(?:\s*(?:pro|plus|mini|max))?)`)
	ipadRe         = regexp.MustCompile(`\bipad`)
	androidBrandRe = regexp.MustCompile(`\b(samsung|xiaomi|pixel|huawei|oneplus|oppo|vivo)\b`)
)

// ExtractEntities pulls level, chapter, platform, app version and device out
// of raw ticket text. Pure function; first match wins, no errors.
func ExtractEntities(text string) Entities {
	t := strings.ToLower(text)
	var e Entities

	if m := levelRe.FindStringSubmatch(t); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.Level = &n
		}
	}
	if m := chapterRe.FindStringSubmatch(t); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.Chapter = &n
		}
	}

	switch {
	case androidRe.MatchString(t):
		e.Platform = "android"
	case iosRe.MatchString(t):
		e.Platform = "ios"
	}

	if m := appVersionRe.FindStringSubmatch(t); m != nil {
		e.AppVersion = m[1]
	}

	e.Device = extractDevice(text, t)
	return e
}

// extractDevice prefers an explicit "Device = ..." template line, then falls
// back to recognizable model/brand mentions.
func extractDevice(original, lowered string) string {
	if m := deviceLineRe.FindStringSubmatch(original); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := iphoneModelRe.FindStringSubmatch(lowered); m != nil {
		return "iPhone " + m[1]
	}
	if ipadRe.MatchString(lowered) {
		return "iPad"
	}
	if m := androidBrandRe.FindStringSubmatch(lowered); m != nil {
		return strings.ToUpper(m[1][:1]) + m[1][1:]
	}
	return ""
}
