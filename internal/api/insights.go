package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
)

// dayAnchorHourUTC is where the "last 24 hours" window snaps to, so everyone
// looking at the inbox during a workday sees the same ticket set.
const dayAnchorHourUTC = 10

// windowStart returns the beginning of the requested window. hours==24 gets
// the anchored day window; anything else is a plain cutoff.
func windowStart(now time.Time, hours int) time.Time {
	if hours == 24 {
		start := time.Date(now.Year(), now.Month(), now.Day(), dayAnchorHourUTC, 0, 0, 0, time.UTC)
		if now.Before(start) {
			start = start.AddDate(0, 0, -1)
		}
		return start
	}
	if hours < 1 {
		hours = 1
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

// volume compares ticket inflow in the current window against the previous
// one of `compare` hours.
func (s *Server) volume(c echo.Context) error {
	ctx := c.Request().Context()
	hours := intQuery(c, "hours", 24, 1, 24*14)
	compare := intQuery(c, "compare", 24, 1, 24*14)

	now := time.Now().UTC()
	winStart := windowStart(now, hours)
	prevStart := winStart.Add(-time.Duration(compare) * time.Hour)

	cur, err := s.deps.Store.CountConversationsBetween(ctx, winStart, time.Time{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	prev, err := s.deps.Store.CountConversationsBetween(ctx, prevStart, winStart)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	delta := cur - prev
	var pct *float64
	if prev > 0 {
		v := float64(delta) / float64(prev) * 100.0
		pct = &v
	}
	return c.JSON(http.StatusOK, map[string]any{
		"current":   cur,
		"previous":  prev,
		"delta":     delta,
		"delta_pct": pct,
	})
}

// insightRec is one triaged conversation in the insights feed.
type insightRec struct {
	ConvID           int64           `json:"conv_id"`
	Number           int             `json:"number"`
	Subject          string          `json:"subject"`
	Text             string          `json:"text"`
	Categories       []string        `json:"categories"`
	Entities         triage.Entities `json:"entities"`
	SeverityScore    int             `json:"severity_score"`
	SeverityBucket   string          `json:"severity_bucket"`
	ClusterKey       string          `json:"cluster_key"`
	SimilarCount     int             `json:"similar_count"`
	SuggestedTags    []string        `json:"suggested_tags"`
	ExistingTags     []string        `json:"existing_tags"`
	Intent           string          `json:"intent,omitempty"`
	RootCause        string          `json:"root_cause,omitempty"`
	OneLiner         string          `json:"one_liner,omitempty"`
	CustomerName     string          `json:"customer_name,omitempty"`
	GameUserID       string          `json:"game_user_id,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
	HelpScoutLink    string          `json:"hs_link"`
	IsDismissed      bool            `json:"is_dismissed"`
	AgentReplied     bool            `json:"agent_replied_status"`
	EscalationReason string          `json:"escalation_reason,omitempty"`
}

type nameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type clusterMeta struct {
	title    string
	severity string
	lastSeen time.Time
}

// insights is the triage inbox feed: per-conversation classification with
// cluster escalation, plus the aggregate breakdowns the dashboard charts.
// Read-only; nothing is written back to Help Scout.
func (s *Server) insights(c echo.Context) error {
	ctx := c.Request().Context()
	hours := intQuery(c, "hours", 24, 1, 24*14)
	limit := intQuery(c, "limit", 100, 1, 1000)
	page := intQuery(c, "page", 1, 1, 1000)
	pageSize := intQuery(c, "page_size", limit, 1, 1000)
	allWindow := c.QueryParam("all") == "1"
	minNumber := intQuery(c, "min_number", 0, 0, 1<<30)

	convs, err := s.deps.Store.ListConversations(ctx, 2000)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	now := time.Now().UTC()
	winStart := windowStart(now, hours)
	inWindow := make([]*store.Conversation, 0, len(convs))
	for _, cv := range convs {
		if !allWindow && cv.UpdatedAt.Before(winStart) {
			continue
		}
		if minNumber > 0 && cv.Number <= minNumber {
			continue
		}
		inWindow = append(inWindow, cv)
	}

	dismissed := map[int64]bool{}
	if ids, err := s.deps.Store.DismissedConversationIDs(ctx); err == nil {
		for _, id := range ids {
			dismissed[id] = true
		}
	}

	// First pass over the whole window: cluster sizes and category totals,
	// independent of paging, so escalation sees every sibling report.
	clusterCounts := map[string]int{}
	clusters := map[string]clusterMeta{}
	catTotals := map[string]int{}
	for _, cv := range inWindow {
		raw := strings.TrimSpace(cv.Subject + "\n" + cv.LastText)
		entities := triage.ExtractEntities(raw)
		cats, ruleScore := triage.Categorize(raw)
		for _, cat := range cats {
			if cat != "uncategorized" && cat != "device" {
				catTotals[cat]++
			}
		}
		ck := triage.ClusterKey(raw, entities)
		clusterCounts[ck]++
		meta, ok := clusters[ck]
		if !ok {
			bucket := triage.BucketFromScore(triage.ComputeSeverity(raw, entities, ruleScore))
			meta = clusterMeta{title: fallbackTitle(cv.Subject, raw), severity: bucket}
		}
		if cv.UpdatedAt.After(meta.lastSeen) {
			meta.lastSeen = cv.UpdatedAt
		}
		clusters[ck] = meta
	}

	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Number > inWindow[j].Number })
	total := len(inWindow)
	offset := (page - 1) * pageSize
	if offset > total {
		offset = total
	}
	pageRows := inWindow[offset:min(offset+pageSize, total)]

	intentTotals := map[string]int{}
	tagTotals := map[string]int{}
	platformTotals := map[string]int{}
	severityTotals := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0}
	replied, unreplied := 0, 0

	recs := make([]insightRec, 0, len(pageRows))
	for _, cv := range pageRows {
		raw := strings.TrimSpace(cv.Subject + "\n" + cv.LastText)
		entities := triage.ExtractEntities(raw)
		cats, ruleScore := triage.Categorize(raw)
		score := triage.ComputeSeverity(raw, entities, ruleScore)
		bucket := triage.BucketFromScore(score)
		ck := triage.ClusterKey(raw, entities)
		tags := triage.DeriveTags(raw, entities)

		var existing []string
		if cv.Tags != "" {
			existing = strings.Split(cv.Tags, ",")
		}
		agentReplied := false
		for _, t := range existing {
			if strings.TrimSpace(t) == "agent:replied" {
				agentReplied = true
			}
		}

		rec := insightRec{
			ConvID:        cv.ID,
			Number:        cv.Number,
			Subject:       cv.Subject,
			Text:          cv.LastText,
			Categories:    cats,
			Entities:      entities,
			SeverityScore: score,
			ClusterKey:    ck,
			SimilarCount:  clusterCounts[ck],
			ExistingTags:  existing,
			Intent:        triage.IntentFromTags(tags),
			CustomerName:  cv.CustomerName,
			GameUserID:    cv.GameUserID,
			UpdatedAt:     cv.UpdatedAt,
			HelpScoutLink: "https://secure.helpscout.net/conversation/" + strconv.FormatInt(cv.ID, 10),
			IsDismissed:   dismissed[cv.ID],
			AgentReplied:  agentReplied,
		}

		// Persisted enrichment wins over rule-derived classification; it is
		// the LLM's (possibly corrected) verdict for this exact content.
		if e, err := s.deps.Store.GetEnrichment(ctx, cv.ID); err == nil {
			if e.Intent != "" {
				rec.Intent = e.Intent
			}
			rec.RootCause = e.OneLiner
			rec.OneLiner = e.Summary
		}

		rec.SeverityBucket, rec.EscalationReason = triage.Escalate(bucket, tags, cats, clusterCounts[ck], rec.RootCause)
		rec.SuggestedTags = append([]string{"sev:" + rec.SeverityBucket}, tags...)

		if rec.Intent != "" {
			intentTotals[rec.Intent]++
		}
		for _, t := range tags {
			if strings.HasPrefix(t, "tag:") || t == "flowers" {
				tagTotals[t]++
			}
		}
		if entities.Platform != "" {
			platformTotals[entities.Platform]++
		}
		severityTotals[rec.SeverityBucket]++
		if agentReplied {
			replied++
		} else {
			unreplied++
		}
		recs = append(recs, rec)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"recommendations": recs,
		"total":           total,
		"page":            page,
		"page_size":       pageSize,
		"replied_count":   replied,
		"unreplied_count": unreplied,
		"issue_analysis": map[string]any{
			"categories": sortedCounts(catTotals, 0),
			"intents":    sortedCounts(intentTotals, 0),
			"tags":       sortedCounts(tagTotals, 0),
			"platforms":  sortedCounts(platformTotals, 0),
			"severities": severityList(severityTotals),
			"clusters":   sortedCounts(clusterCounts, 5),
		},
		"priority_issue": priorityIssue(clusterCounts, clusters, now),
	})
}

// priorityIssue picks the cluster with the highest severity-weighted count,
// boosting clusters active in the last six hours.
func priorityIssue(counts map[string]int, meta map[string]clusterMeta, now time.Time) map[string]any {
	weights := map[string]float64{"critical": 8, "high": 4, "medium": 2, "low": 1}
	bestID := ""
	bestScore := -1.0
	for ck, n := range counts {
		m := meta[ck]
		w, ok := weights[m.severity]
		if !ok {
			w = 2
		}
		score := float64(n) * w
		if !m.lastSeen.IsZero() && now.Sub(m.lastSeen) <= 6*time.Hour {
			score *= 1.5
		}
		if score > bestScore {
			bestScore = score
			bestID = ck
		}
	}
	if bestID == "" {
		return nil
	}
	m := meta[bestID]
	return map[string]any{
		"id":          bestID,
		"title":       m.title,
		"severity":    m.severity,
		"occurrences": counts[bestID],
		"last_seen":   m.lastSeen,
	}
}

func sortedCounts(m map[string]int, limit int) []nameCount {
	out := make([]nameCount, 0, len(m))
	for k, v := range m {
		out = append(out, nameCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func severityList(m map[string]int) []nameCount {
	out := make([]nameCount, 0, 4)
	for _, b := range []string{"critical", "high", "medium", "low"} {
		out = append(out, nameCount{Name: b, Count: m[b]})
	}
	return out
}

func fallbackTitle(subject, raw string) string {
	if subject != "" {
		return subject
	}
	if len(raw) > 60 {
		return raw[:60] + "..."
	}
	return raw
}

