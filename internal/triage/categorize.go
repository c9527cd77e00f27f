package triage

import "regexp"

// categoryPatterns maps a category label to the regexes that select it.
// A ticket can land in several categories; none at all means "uncategorized".
var categoryPatterns = map[string][]*regexp.Regexp{
	"bug":         {regexp.MustCompile(`(?i)\b(crash|freeze|stuck|black screen|blank screen|exception|error)\b`)},
	"payment":     {regexp.MustCompile(`(?i)\b(purchase|billing|charge|refund|declined|credit card|paypal)\b`)},
	"performance": {regexp.MustCompile(`(?i)\b(lag|slow|fps|frame drop|loading time|load time)\b`)},
	"ux":          {regexp.MustCompile(`(?i)\b(confusing|unclear|too many steps|don'?t understand)\b`)},
	"account":     {regexp.MustCompile(`(?i)\b(login|signin|password|auth|verification)\b`)},
	"store":       {regexp.MustCompile(`(?i)\b(store|iap|ads|ad\s*watch|rewarded)\b`)},
	"device":      {regexp.MustCompile(`(?i)\b(android|ios|iphone|ipad|samsung|xiaomi|pixel|huawei)\b`)},
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight int
}

// Scoring is independent of category selection: every pattern occurrence
// contributes its weight, and the total is clamped to 100.
var scoreWeights = []weightedPattern{
	{regexp.MustCompile(`(?i)\b(crash|freeze|stuck|exception|error)\b`), 30},
	{regexp.MustCompile(`(?i)\b(black|blank) screen\b`), 25},
	{regexp.MustCompile(`(?i)\b(can'?t|cannot)\s*(open|start|load|login|play|purchase)\b`), 20},
	{regexp.MustCompile(`(?i)\b(billing|charge|refund|declined|payment)\b`), 25},
	{regexp.MustCompile(`(?i)\b(level\s*\d+|chapter\s*\d+)\b`), 5},
	{regexp.MustCompile(`(?i)\b(android|ios|iphone|ipad|samsung|xiaomi|pixel|huawei)\b`), 5},
	{regexp.MustCompile(`(?i)\b(v?\d+\.\d+(?:\.\d+)*)\b`), 5},
	{regexp.MustCompile(`(?i)\b(many|everyone|multiple|dozens|hundreds)\b`), 10},
}

// Categorize returns the matching category labels and a 0-100 rule score.
// The score feeds severity computation and is deliberately decoupled from
// which categories matched.
func Categorize(text string) ([]string, int) {
	var cats []string
	for _, cat := range []string{"bug", "payment", "performance", "ux", "account", "store", "device"} {
		for _, re := range categoryPatterns[cat] {
			if re.MatchString(text) {
				cats = append(cats, cat)
				break
			}
		}
	}
	if len(cats) == 0 {
		cats = []string{"uncategorized"}
	}

	score := 0
	for _, wp := range scoreWeights {
		score += len(wp.re.FindAllString(text, -1)) * wp.weight
	}
	if score > 100 {
		score = 100
	}
	return cats, score
}
