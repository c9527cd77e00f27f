package triage

import (
	"fmt"
	"strings"
)

// tagRule is one entry of the ordered derivation table. Rules run top to
// bottom; `stop` ends evaluation (used for beta feedback, which must win
// over everything else, crash keywords included). `group` makes a rule
// mutually exclusive with earlier matched rules of the same group, which
// replaces the implicit if/elif chains of a hand-written cascade with
// declared precedence.
type tagRule struct {
	name  string
	group string
	match func(t string) bool
	tags  []string
	stop  bool
}

func anyOf(keys ...string) func(string) bool {
	return func(t string) bool { return containsAny(t, keys...) }
}

func allOf(preds ...func(string) bool) func(string) bool {
	return func(t string) bool {
		for _, p := range preds {
			if !p(t) {
				return false
			}
		}
		return true
	}
}

func noneOf(keys ...string) func(string) bool {
	return func(t string) bool { return !containsAny(t, keys...) }
}

// tagRules is evaluated in declared order. Reordering changes classification
// outcomes; the order encodes priority.
var tagRules = []tagRule{
	{
		// Beta reviews must never be classified as bugs, even when the
		// review text mentions crashes.
		name:  "beta_feedback",
		match: anyOf("beta feedback", "written new beta feedback", "new beta feedback", "feedback for", "my feedback", "review:", "opinion", "suggestion", "has written new beta"),
		tags:  []string{"intent:beta_feedback"},
		stop:  true,
	},
	{
		name: "offerwall_issue",
		match: allOf(
			anyOf("offerwall", "tapjoy", "ironsource", "offer", "reward", "task", "gem", "coin", "credit"),
			anyOf("not received", "didn't get", "missing", "did not receive", "no reward"),
			noneOf("blossom bounty", "flower"),
		),
		tags: []string{"intent:offerwall_issue", "tag:offerwall"},
	},
	{
		name:  "refund_request",
		match: anyOf("refund", "chargeback", "charged twice", "double charge", "money back", "unauthorized charge", "billing issue", "payment issue", "invoice", "receipt"),
		tags:  []string{"intent:refund_request"},
	},
	{
		// Cancellation wins over the feedback intents below: a cancel
		// request phrased as a complaint is still a cancel request.
		name:  "cancel_subscription",
		group: "feedback",
		match: anyOf("cancel subscription", "unsubscribe", "cancel my subscription", "stop charging", "turn off auto-renew", "disable auto renew", "cancel renewal"),
		tags:  []string{"intent:cancel_subscription"},
	},
	{
		name:  "monetization_complaint",
		group: "feedback",
		match: anyOf("out of energy", "no energy", "energy system", "too expensive", "pay to win", "paywall", "spend money", "watch ads", "watching ads", "not worth", "greedy", "cash grab"),
		tags:  []string{"intent:monetization_complaint"},
	},
	{
		name:  "gameplay_feedback",
		group: "feedback",
		match: anyOf("too hard", "too difficult", "impossible", "unfair", "bad design", "poor design", "frustrating", "annoying"),
		tags:  []string{"intent:gameplay_feedback"},
	},
	{
		name:  "account_access",
		group: "feedback",
		match: allOf(
			anyOf("can't log in", "cant log in", "cannot log in", "login problem", "log in problem", "password reset", "forgot password", "2fa", "two factor", "verification code", "verification email"),
			// Passing mentions of a successful login are not access problems.
			noneOf("i log in and", "when i log in", "after i log in", "logged in and"),
		),
		tags: []string{"intent:account_access"},
	},
	{
		name:  "account_deletion",
		match: anyOf("delete my account", "delete account", "remove my data", "erase my data", "gdpr", "ccpa"),
		tags:  []string{"intent:account_deletion"},
	},
	{
		name: "store_login",
		match: allOf(
			anyOf("store", "google play", "play store", "app store"),
			anyOf("login", "sign in", "log in", "problem", "issue", "error"),
		),
		tags: []string{"intent:account_access", "tag:store_issue"},
	},
	{
		name:  "recover_progress",
		match: anyOf("progress lost", "lost progress", "save lost", "reset progress", "rollback"),
		tags:  []string{"intent:recover_progress"},
	},
	{
		name:  "critical_crash",
		group: "bug",
		match: anyOf("app crash", "game crash", "crashing", "force close", "won't start", "can't start", "won't open", "can't open"),
		tags:  []string{"intent:bug_report", "tag:critical_crash"},
	},
	{
		name:  "item_stuck",
		group: "bug",
		match: anyOf("item stuck", "stuck item", "item disappeared", "item gone", "item missing", "stuck on board", "can't remove", "cannot remove"),
		tags:  []string{"intent:bug_report", "tag:item_stuck"},
	},
	{
		name:  "app_freeze",
		group: "bug",
		match: anyOf("stuck on", "freeze", "freezing", "frozen", "not responding", "stuck at"),
		tags:  []string{"intent:bug_report", "tag:app_freeze"},
	},
	{
		name:  "generic_bug",
		group: "bug",
		match: anyOf("bug", "glitch", "issue", "problem"),
		tags:  []string{"intent:bug_report"},
	},
	{
		name:  "performance_issue",
		match: anyOf("slow", "lag", "stutter", "fps", "performance"),
		tags:  []string{"intent:performance_issue"},
	},
	{
		name:  "feature_request",
		match: anyOf("feature request", "please add", "could you add", "it would be great if"),
		tags:  []string{"intent:feature_request"},
	},
	{
		name:  "how_to",
		match: anyOf("how do i", "how to", "where is", "can you explain", "how can i"),
		tags:  []string{"intent:how_to", "tag:how_to"},
	},
	{
		name:  "device_migration",
		match: anyOf("new phone", "new device", "switch device", "migrate", "transfer progress", "restore purchase"),
		tags:  []string{"intent:device_migration"},
	},
	{
		name: "store_review",
		match: allOf(
			anyOf("review", "rate", "rating"),
			anyOf("play store", "google play", "app store", "store"),
		),
		tags: []string{"review:store"},
	},
	{
		name:  "ux_issue",
		match: anyOf("ux", "ui", "button", "menu", "layout", "confus", "hard to", "can't find", "cannot find"),
		tags:  []string{"tag:ux_issue"},
	},
	{
		// Earned credits gone missing is a bug, not a purchase problem.
		name:  "credits_missing",
		group: "money",
		match: anyOf("didn't get credits", "not getting credits", "credits missing", "credits disappeared", "no credits", "credits not received", "earned credits", "task credits"),
		tags:  []string{"tag:credits_missing", "intent:bug_report"},
	},
	{
		name:  "purchase_issue",
		group: "money",
		match: anyOf("purchase", "payment", "charged", "iap", "in-app", "subscription", "renewal", "bought", "paid for"),
		tags:  []string{"tag:purchase_issue"},
	},
	{
		name:  "flowers",
		match: anyOf("flower"),
		tags:  []string{"flowers"},
	},
	{
		name:  "content_missing",
		match: anyOf("daily tasks disappeared", "tasks disappeared", "disappeared", "things disappeared", "features disappeared", "content disappeared"),
		tags:  []string{"tag:content_missing", "intent:bug_report"},
	},
	{
		name:  "item_disappeared",
		match: anyOf("item disappeared", "item gone", "lost item", "missing item", "inventory missing"),
		tags:  []string{"tag:item_disappeared", "intent:bug_report"},
	},
	{
		name:  "progress_lost",
		match: anyOf("progress lost", "lost progress", "save lost", "progress reset", "account reset", "losing progress", "not saving", "progress not saving", "went back to", "back to level", "rollback to level"),
		tags:  []string{"tag:progress_lost", "intent:bug_report"},
	},
}

// DeriveTags runs the ordered rule table over the ticket text and returns
// intent plus auxiliary tags, with sentiment first and entity-derived
// platform/version tags last. Duplicates are removed while preserving the
// order of first appearance.
func DeriveTags(text string, e Entities) []string {
	t := strings.ToLower(text)
	var tags []string

	switch DetectSentiment(text) {
	case "positive":
		tags = append(tags, "sentiment:compliment")
	case "negative":
		tags = append(tags, "sentiment:issue")
	case "mixed":
		tags = append(tags, "sentiment:mixed")
	}

	matchedGroups := map[string]bool{}
	for _, r := range tagRules {
		if r.group != "" && matchedGroups[r.group] {
			continue
		}
		if !r.match(t) {
			continue
		}
		tags = append(tags, r.tags...)
		if r.group != "" {
			matchedGroups[r.group] = true
		}
		if r.stop {
			return dedupeTags(tags)
		}
	}

	if e.Platform != "" {
		tags = append(tags, "platform:"+e.Platform)
	}
	if e.AppVersion != "" {
		tags = append(tags, "version:"+e.AppVersion)
	}
	return dedupeTags(tags)
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// IntentFromTags returns the first intent:* tag value, or "".
func IntentFromTags(tags []string) string {
	for _, tag := range tags {
		if v, ok := strings.CutPrefix(tag, "intent:"); ok {
			return v
		}
	}
	return ""
}

// DetectSentiment distinguishes compliments from complaints in feedback
// text. Requests for help are never compliments no matter how politely they
// are phrased.
func DetectSentiment(text string) string {
	t := strings.ToLower(text)

	if containsAny(t,
		"accidentally", "accident", "refund", "help me", "can you help", "please help",
		"i'm sorry", "need help", "mistake", "wrong", "error", "problem", "issue") {
		return "neutral"
	}

	hasCompliment := containsAny(t,
		"love this", "love the", "great game", "awesome", "amazing game",
		"fantastic", "excellent", "perfect", "best game", "favorite game",
		"really enjoy", "enjoying", "so much fun", "addicted", "can't stop playing")
	hasIssue := containsAny(t,
		"however", "but", "unfortunately", "problem", "issue", "bug", "broken",
		"irritating", "annoying", "frustrating", "ridiculous", "terrible", "bad",
		"worst", "hate", "disappointed", "crash", "freeze", "stuck", "won't work",
		"can't", "cannot", "doesn't work", "not working", "too many", "too much")

	switch {
	case hasCompliment && hasIssue:
		return "mixed"
	case hasCompliment:
		return "positive"
	case hasIssue:
		return "negative"
	default:
		return "neutral"
	}
}

// InterpretHelpScoutTags maps tags already present on the conversation to an
// intent and extra derived tags. Beta feedback short-circuits for the same
// reason as in DeriveTags.
func InterpretHelpScoutTags(tagList []string) (intent string, extra []string) {
	names := make([]string, 0, len(tagList))
	for _, t := range tagList {
		names = append(names, strings.ToLower(strings.TrimSpace(t)))
	}
	has := func(keys ...string) bool {
		for _, n := range names {
			for _, k := range keys {
				if strings.Contains(n, k) {
					return true
				}
			}
		}
		return false
	}
	setIntent := func(v string) {
		if intent == "" {
			intent = v
		}
	}

	if has("beta", "feedback", "review", "opinion", "suggestion") {
		return "beta_feedback", nil
	}

	if has("store", "google play", "play store", "app store", "ios", "review:store") {
		extra = append(extra, "tag:store_issue")
		if has("login", "sign in", "log in", "can't login", "cannot login") {
			setIntent("account_access")
		} else if has("problem", "issue", "error", "not working") {
			setIntent("bug_report")
		}
	} else if has("energy", "monetization", "pay to win", "paywall", "expensive", "greedy", "cash grab", "ads") {
		setIntent("monetization_complaint")
	} else if has("too hard", "difficult", "impossible", "unfair", "frustrating", "bad design") {
		setIntent("gameplay_feedback")
	}

	if has("login problem", "login failed", "login error", "locked out", "can't access account", "password reset") {
		setIntent("account_access")
	}
	if has("progress_lost", "progress lost", "progress", "save lost", "rollback", "not saving", "lost progress", "reset", "went back", "losing progress") {
		extra = append(extra, "tag:progress_lost")
		setIntent("recover_progress")
	}

	if has("crash", "crashing", "force close", "not responding", "won't start", "won't open") {
		extra = append(extra, "tag:critical_crash")
		setIntent("bug_report")
	} else if has("item stuck", "stuck item", "item disappeared", "stuck on board", "item missing") {
		extra = append(extra, "tag:item_stuck")
		setIntent("bug_report")
	} else if has("stuck", "freeze", "freezing", "frozen", "stuck at") {
		extra = append(extra, "tag:app_freeze")
		setIntent("bug_report")
	} else if has("bug", "exception", "glitch") {
		setIntent("bug_report")
	}

	if has("purchase", "payment", "billing", "charged", "refund", "iap", "subscription") {
		extra = append(extra, "tag:purchase_issue")
		if has("cancel", "stop", "unsubscribe") {
			setIntent("delete_account")
		} else {
			setIntent("refund_request")
		}
	}
	if has("how_to", "how-to", "how to", "question", "help", "where is", "how do i", "how can i", "explain") {
		setIntent("how_to")
	}
	if has("device", "migration", "transfer", "restore purchase", "new phone", "new device", "switch device") {
		setIntent("device_migration")
	}
	if has("missing_item", "item missing", "lost item", "inventory", "item disappeared", "disappeared") {
		extra = append(extra, "tag:item_disappeared")
	}
	if has("slow", "lag", "laggy", "stutter", "fps", "performance", "freezing") {
		setIntent("performance_issue")
	}
	if has("delete account", "remove account", "delete my data", "gdpr", "ccpa") {
		setIntent("account_deletion")
	}
	if has("restart", "reinstall", "re-install") {
		extra = append(extra, "tag:restart_prompt")
	}
	if has("flowers", "flower") {
		extra = append(extra, "flowers")
	}
	if has("level", "lvl") {
		extra = append(extra, "tag:level_related")
	}
	return intent, extra
}

// Escalation adjusts a bucket after classification based on derived tags,
// categories, cluster repetition and the enriched root cause. It returns the
// final bucket and an optional human-readable reason.
func Escalate(bucket string, tags, categories []string, similarCount int, rootCause string) (string, string) {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	catSet := make(map[string]bool, len(categories))
	for _, c := range categories {
		catSet[c] = true
	}
	reason := ""

	if similarCount >= 10 {
		bucket = SeverityCritical
		reason = fmt.Sprintf("%d users affected by same issue", similarCount)
	} else if similarCount >= 5 && bucket != SeverityCritical && bucket != SeverityHigh {
		bucket = SeverityHigh
		reason = fmt.Sprintf("escalated to high: %d similar reports", similarCount)
	}

	switch {
	case tagSet["tag:critical_crash"] || tagSet["tag:item_stuck"]:
		bucket = SeverityHigh
	case tagSet["tag:app_freeze"]:
		// A freeze blocks play completely even though nothing crashed.
		bucket = SeverityHigh
	case catSet["crash"]:
		bucket = SeverityHigh
	}

	if containsAnyTag(tagSet, "crash", "crashing", "freeze", "freezing", "frozen", "force-close", "not-responding") {
		bucket = SeverityHigh
		reason = "escalated to high: app crash/freeze detected"
	} else if containsAnyTag(tagSet, "stuck", "loading", "infinite-loop") {
		rc := strings.ToLower(rootCause)
		if containsAny(rc, "app", "game", "loading", "screen", "launch") {
			bucket = SeverityHigh
			reason = "escalated to high: app stuck/loading issue"
		}
	}

	if tagSet["tag:item_disappeared"] && (bucket == SeverityLow || bucket == SeverityMedium) {
		bucket = SeverityHigh
	}
	if bucket == SeverityLow && (catSet["payment"] ||
		containsAnyTag(tagSet, "payment", "purchase", "charged", "refund", "billing", "subscription", "iap", "in-app-purchase")) {
		bucket = SeverityMedium
	}
	if bucket == SeverityLow && (catSet["progress_lost"] ||
		containsAnyTag(tagSet, "progress", "save", "lost", "reset", "rollback", "disappeared", "missing")) {
		bucket = SeverityMedium
	}
	if bucket == SeverityLow && tagSet["tag:store_issue"] {
		bucket = SeverityMedium
	}
	if bucket == SeverityLow && tagSet["intent:account_access"] {
		bucket = SeverityMedium
	}

	// Pure feedback is never more than low, whatever the keyword scoring said.
	if tagSet["intent:beta_feedback"] || tagSet["intent:monetization_complaint"] || tagSet["intent:gameplay_feedback"] {
		bucket = SeverityLow
	}
	return bucket, reason
}

func containsAnyTag(set map[string]bool, keys ...string) bool {
	for _, k := range keys {
		if set[k] {
			return true
		}
	}
	return false
}
