package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CorrectionSource supplies the stored reviewer corrections the learner
// builds its rules from. Implemented by the feedback store.
type CorrectionSource interface {
	ListTagCorrections(ctx context.Context) ([]StoredCorrection, error)
}

// StoredCorrection is one persisted correction joined with the conversation
// it corrected.
type StoredCorrection struct {
	Subject         string
	Text            string
	CorrectIntent   string
	CorrectSeverity string
}

// learnedRules is a snapshot of rules derived from all corrections.
type learnedRules struct {
	intentPhrases     map[string][]string // intent -> distinctive phrases
	severityOverrides map[string]string   // subject pattern -> severity
	exactMatches      map[string]subjectRule
}

type subjectRule struct {
	intent   string
	severity string
}

// LearnerStats reports the current rule counts, exposed on the dashboard.
type LearnerStats struct {
	LearnedIntents  int     `json:"total_learned_intents"`
	ExactMatches    int     `json:"total_exact_matches"`
	SeverityRules   int     `json:"total_severity_rules"`
	CacheAgeSeconds float64 `json:"cache_age_seconds"`
}

const (
	rulesTTL     = 5 * time.Minute
	maxPhrases   = 20
	phraseWords  = 3
	phraseMinLen = 15
	phraseMaxLen = 50
)

// Phrases too generic to be distinctive.
var phraseStoplist = map[string]bool{
	"the game is": true,
	"i have a":    true,
	"this is a":   true,
}

// Learner rebuilds correction rules from the store at most once per TTL and
// applies them to fresh classifications. Safe for concurrent use.
type Learner struct {
	source CorrectionSource
	now    func() time.Time

	mu        sync.Mutex
	rules     *learnedRules
	refreshed time.Time
}

func NewLearner(source CorrectionSource) *Learner {
	return &Learner{source: source, now: time.Now}
}

func (l *Learner) currentRules(ctx context.Context) *learnedRules {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rules != nil && l.now().Sub(l.refreshed) < rulesTTL {
		return l.rules
	}

	corrections, err := l.source.ListTagCorrections(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("loading corrections failed, reusing stale rules")
		if l.rules == nil {
			l.rules = emptyRules()
		}
		return l.rules
	}
	l.rules = buildRules(corrections)
	l.refreshed = l.now()
	log.Debug().Int("corrections", len(corrections)).
		Int("intents", len(l.rules.intentPhrases)).Msg("rebuilt learned correction rules")
	return l.rules
}

func emptyRules() *learnedRules {
	return &learnedRules{
		intentPhrases:     map[string][]string{},
		severityOverrides: map[string]string{},
		exactMatches:      map[string]subjectRule{},
	}
}

func buildRules(corrections []StoredCorrection) *learnedRules {
	r := emptyRules()
	phraseSets := map[string]map[string]bool{}

	for _, c := range corrections {
		subject := strings.ToLower(strings.TrimSpace(c.Subject))
		text := strings.ToLower(c.Subject + "\n" + c.Text)

		if c.CorrectIntent != "" {
			set := phraseSets[c.CorrectIntent]
			if set == nil {
				set = map[string]bool{}
				phraseSets[c.CorrectIntent] = set
			}
			for _, p := range distinctivePhrases(text) {
				set[p] = true
			}
			if subject != "" {
				r.exactMatches[subject] = subjectRule{intent: c.CorrectIntent, severity: c.CorrectSeverity}
			}
		}
		if c.CorrectSeverity != "" && subject != "" {
			r.severityOverrides[subject] = c.CorrectSeverity
		}
	}

	for intent, set := range phraseSets {
		phrases := make([]string, 0, len(set))
		for p := range set {
			phrases = append(phrases, p)
			if len(phrases) >= maxPhrases {
				break
			}
		}
		r.intentPhrases[intent] = phrases
	}
	return r
}

// distinctivePhrases extracts sliding three-word phrases of useful length.
func distinctivePhrases(text string) []string {
	words := strings.Fields(text)
	var out []string
	for i := 0; i+phraseWords <= len(words); i++ {
		phrase := strings.Join(words[i:i+phraseWords], " ")
		if len(phrase) <= phraseMinLen || len(phrase) >= phraseMaxLen {
			continue
		}
		if phraseStoplist[phrase] {
			continue
		}
		out = append(out, phrase)
	}
	return out
}

// Apply corrects a predicted intent and severity using learned rules. Exact
// subject matches win over phrase matches; unknown tickets pass through
// unchanged.
func (l *Learner) Apply(ctx context.Context, text, subject, predictedIntent, predictedSeverity string) (string, string) {
	rules := l.currentRules(ctx)

	textLower := strings.ToLower(text)
	subjectLower := strings.ToLower(strings.TrimSpace(subject))

	if m, ok := rules.exactMatches[subjectLower]; ok {
		intent, severity := predictedIntent, predictedSeverity
		if m.intent != "" {
			intent = m.intent
		}
		if m.severity != "" {
			severity = m.severity
		}
		return intent, severity
	}

	intent := predictedIntent
outer:
	for learned, phrases := range rules.intentPhrases {
		for _, p := range phrases {
			if strings.Contains(textLower, p) {
				intent = learned
				break outer
			}
		}
	}

	severity := predictedSeverity
	for pattern, s := range rules.severityOverrides {
		if strings.Contains(textLower, pattern) || strings.Contains(subjectLower, pattern) {
			severity = s
			break
		}
	}
	return intent, severity
}

// Stats snapshots the current rule counts without forcing a refresh.
func (l *Learner) Stats() LearnerStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := LearnerStats{}
	if l.rules != nil {
		st.LearnedIntents = len(l.rules.intentPhrases)
		st.ExactMatches = len(l.rules.exactMatches)
		st.SeverityRules = len(l.rules.severityOverrides)
		st.CacheAgeSeconds = l.now().Sub(l.refreshed).Seconds()
	}
	return st
}
