package triage

import "strings"

// Severity buckets, coarsest first.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Thresholds configures the z-score gates used by Bucketize.
type Thresholds struct {
	ZMedium   float64
	ZHigh     float64
	ZCritical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{ZMedium: 1.8, ZHigh: 2.5, ZCritical: 3.5}
}

func containsAny(t string, keys ...string) bool {
	for _, k := range keys {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// ComputeSeverity boosts the rule score with high-impact keyword hits and
// entity-based bumps. Output is always clamped to [0,100].
func ComputeSeverity(text string, e Entities, ruleScore int) int {
	t := strings.ToLower(text)
	score := ruleScore

	if containsAny(t, "crash", "crashing", "force close", "exception", "won't open", "cannot open") {
		score += 35
	}
	if containsAny(t, "progress lost", "lost progress", "save lost", "wipe", "reset progress") {
		score += 30
	}
	if containsAny(t, "payment", "purchase", "charged", "refund", "billing", "iap", "subscription") {
		score += 25
	}
	if containsAny(t, "can't login", "cannot login", "login failed", "account locked", "account delete") {
		score += 20
	}
	if containsAny(t, "data loss", "corrupt", "duplicate charge", "unable to play", "unplayable") {
		score += 20
	}
	if containsAny(t, "urgent", "asap", "immediately", "critical") {
		score += 10
	}

	if (e.Platform == "android" || e.Platform == "ios") && containsAny(t, "new version", "update", "beta") {
		score += 5
	}
	if e.Level != nil && *e.Level >= 10 {
		score += 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Bucketize maps a severity score plus anomaly signal onto a bucket. It
// returns "" when neither the anomaly signal nor the score alone is decisive;
// callers then fall back to BucketFromScore. The anomaly signal can only
// upgrade severity - a weak signal never suppresses a clearly severe report.
func (th Thresholds) Bucketize(score int, z, cusum float64) string {
	switch {
	case (z >= th.ZCritical && score >= 40) || score >= 70:
		return SeverityCritical
	case (z >= th.ZHigh && score >= 30) || score >= 40:
		return SeverityHigh
	case z >= th.ZMedium && score >= 20:
		return SeverityMedium
	default:
		return ""
	}
}

// BucketFromScore is the pure score fallback used when Bucketize abstains.
func BucketFromScore(score int) string {
	switch {
	case score >= 50:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
