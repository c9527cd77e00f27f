package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
)

// preview runs the classification stack on arbitrary text without touching
// Help Scout or the database. Handy for tuning rules.
func (s *Server) preview(c echo.Context) error {
	text := strings.TrimSpace(c.QueryParam("text"))
	entities := triage.ExtractEntities(text)
	cats, ruleScore := triage.Categorize(text)

	var llm *enrich.Enrichment
	if s.deps.Enricher.Enabled() && text != "" {
		out, err := s.deps.Enricher.Enrich(c.Request().Context(), text, nil)
		if err == nil {
			llm = &out
		} else {
			log.Warn().Err(err).Msg("preview enrichment failed")
		}
	}

	cluster := triage.ClusterKey(text, entities)
	z, cusum := s.deps.Anomaly.UpdateAndScore(cluster)
	score := triage.ComputeSeverity(text, entities, ruleScore)
	bucket := s.deps.Thresholds.Bucketize(score, z, cusum)
	if bucket == "" {
		bucket = triage.BucketFromScore(score)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"entities":       entities,
		"categories":     cats,
		"rule_score":     ruleScore,
		"severity_score": score,
		"bucket":         bucket,
		"z":              z,
		"cusum":          cusum,
		"cluster_key":    cluster,
		"tags":           triage.DeriveTags(text, entities),
		"llm":            llm,
	})
}

// poll is the dashboard's update feed: events published after last_id.
func (s *Server) poll(c echo.Context) error {
	events := s.deps.Hub.Since(c.QueryParam("last_id"))
	return c.JSON(http.StatusOK, map[string]any{
		"ok":        true,
		"updates":   events,
		"timestamp": time.Now().UTC(),
	})
}

var allIncidentStatuses = []string{
	store.IncidentOpen, store.IncidentAck, store.IncidentMuted, store.IncidentResolved,
}

// stats summarizes incidents by status and severity bucket.
func (s *Server) stats(c echo.Context) error {
	incidents, err := s.deps.Store.ListIncidents(c.Request().Context(), allIncidentStatuses, 1000)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	byStatus := map[string]int{}
	byBucket := map[string]int{}
	for _, st := range allIncidentStatuses {
		byStatus[st] = 0
	}
	for _, b := range []string{"critical", "high", "medium", "low"} {
		byBucket[b] = 0
	}
	for _, inc := range incidents {
		byStatus[inc.Status]++
		byBucket[inc.SeverityBucket]++
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":     len(incidents),
		"by_status": byStatus,
		"by_bucket": byBucket,
	})
}

func (s *Server) listIncidents(c echo.Context) error {
	limit := intQuery(c, "limit", 50, 1, 200)
	var statuses []string
	if raw := c.QueryParam("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	} else {
		statuses = allIncidentStatuses
	}
	incidents, err := s.deps.Store.ListIncidents(c.Request().Context(), statuses, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"incidents": incidents})
}

func (s *Server) listConversations(c echo.Context) error {
	limit := intQuery(c, "limit", 200, 1, 2000)
	convs, err := s.deps.Store.ListConversations(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	type row struct {
		ID        int64     `json:"id"`
		Number    int       `json:"number"`
		Subject   string    `json:"subject"`
		LastText  string    `json:"last_text"`
		Tags      []string  `json:"tags"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	rows := make([]row, 0, len(convs))
	for _, cv := range convs {
		var tags []string
		if cv.Tags != "" {
			tags = strings.Split(cv.Tags, ",")
		}
		rows = append(rows, row{
			ID: cv.ID, Number: cv.Number, Subject: cv.Subject,
			LastText: cv.LastText, Tags: tags, UpdatedAt: cv.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": rows})
}

// dashboard aggregates severity, intent and volume views in one call.
func (s *Server) dashboard(c echo.Context) error {
	ctx := c.Request().Context()
	hours := intQuery(c, "hours", 24, 1, 24*14)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	severity, err := s.deps.Store.SeverityCounts(ctx, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	intents, err := s.deps.Store.IntentCounts(ctx, since, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	volume, err := s.deps.Store.VolumeSeries(ctx, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	incidents, err := s.deps.Store.ListIncidents(ctx, store.OpenishStatuses, 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := map[string]any{
		"since":          since,
		"severity":       severity,
		"intents":        intents,
		"volume":         volume,
		"open_incidents": incidents,
	}
	if s.deps.Learner != nil {
		resp["learning"] = s.deps.Learner.Stats()
	}
	return c.JSON(http.StatusOK, resp)
}

type feedbackRequest struct {
	ConvID          int64  `json:"conv_id" query:"conv_id"`
	CorrectIntent   string `json:"correct_intent" query:"correct_intent"`
	CorrectSeverity string `json:"correct_severity" query:"correct_severity"`
	Notes           string `json:"notes" query:"notes"`
}

// ticketFeedback records a tag correction and immediately rewrites the
// stored enrichment, so the dashboard reflects the fix without waiting for
// the learner's next refresh.
func (s *Server) ticketFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil || req.ConvID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "conv_id required")
	}
	ctx := c.Request().Context()

	var updated *store.Enrichment
	if e, err := s.deps.Store.GetEnrichment(ctx, req.ConvID); err == nil {
		if req.CorrectIntent != "" {
			e.Intent = req.CorrectIntent
		}
		if req.CorrectSeverity != "" {
			e.SeverityBucket = req.CorrectSeverity
		}
		e.LastEnrichedAt = time.Now().UTC()
		if err := s.deps.Store.UpsertEnrichment(ctx, e); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		updated = e
	}

	var ticketNumber int64
	if conv, err := s.deps.Store.GetConversation(ctx, req.ConvID); err == nil {
		ticketNumber = int64(conv.Number)
	}

	data, _ := json.Marshal(map[string]string{
		"correct_intent":   req.CorrectIntent,
		"correct_severity": req.CorrectSeverity,
		"notes":            req.Notes,
	})
	fb := &store.Feedback{
		ConversationID: req.ConvID,
		TicketNumber:   ticketNumber,
		ActionType:     store.FeedbackTagCorrection,
		Data:           string(data),
	}
	if err := s.deps.Store.CreateFeedback(ctx, fb); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "updated_ticket": updated})
}

type markSeenRequest struct {
	ConvID int64  `json:"conv_id" query:"conv_id"`
	Action string `json:"action" query:"action"`
}

func (s *Server) markTicketSeen(c echo.Context) error {
	var req markSeenRequest
	if err := c.Bind(&req); err != nil || req.ConvID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "conv_id required")
	}
	action := req.Action
	if action == "" {
		action = store.FeedbackDismissed
	}
	fb := &store.Feedback{ConversationID: req.ConvID, ActionType: action}
	if err := s.deps.Store.CreateFeedback(c.Request().Context(), fb); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// unmarkTicket returns a dismissed ticket to the inbox by clearing its
// seen/dismissed feedback rows.
func (s *Server) unmarkTicket(c echo.Context) error {
	var req markSeenRequest
	if err := c.Bind(&req); err != nil || req.ConvID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "conv_id required")
	}
	if err := s.deps.Store.ClearFeedback(c.Request().Context(), req.ConvID, store.DismissalActions); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// dismissedTickets lists the conversation ids the inbox should render as done.
func (s *Server) dismissedTickets(c echo.Context) error {
	ids, err := s.deps.Store.DismissedConversationIDs(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"dismissed": ids})
}

// feedbackSummary aggregates the correction history so reviewers can spot
// where the classifier drifts.
func (s *Server) feedbackSummary(c echo.Context) error {
	corrections, err := s.deps.Store.ListTagCorrections(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	intentDist := map[string]int{}
	severityDist := map[string]int{}
	for _, corr := range corrections {
		if corr.CorrectIntent != "" {
			intentDist[corr.CorrectIntent]++
		}
		if corr.CorrectSeverity != "" {
			severityDist[corr.CorrectSeverity]++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total_corrections":     len(corrections),
		"intent_distribution":   intentDist,
		"severity_distribution": severityDist,
	})
}

func (s *Server) learningStats(c echo.Context) error {
	if s.deps.Learner == nil {
		return c.JSON(http.StatusOK, map[string]any{"status": "disabled"})
	}
	stats := s.deps.Learner.Stats()
	status := "waiting_for_feedback"
	if stats.LearnedIntents > 0 || stats.ExactMatches > 0 {
		status = "active"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":                status,
		"total_learned_intents": stats.LearnedIntents,
		"total_exact_matches":   stats.ExactMatches,
		"total_severity_rules":  stats.SeverityRules,
		"cache_age_seconds":     stats.CacheAgeSeconds,
	})
}

func (s *Server) backfill(c echo.Context) error {
	pages := intQuery(c, "pages", 1, 1, 50)
	if err := s.deps.Queue.EnqueueBackfill(c.Request().Context(), pages); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "pages": pages})
}

func (s *Server) reindexVectors(c echo.Context) error {
	if !s.deps.Indexer.Enabled() {
		return echo.NewHTTPError(http.StatusBadRequest, "vector indexing not configured")
	}
	limit := intQuery(c, "limit", 2000, 1, 10000)
	if err := s.deps.Queue.EnqueueReindex(c.Request().Context(), limit); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "limit": limit})
}

func (s *Server) vectorSearch(c echo.Context) error {
	if !s.deps.Indexer.Enabled() {
		return c.JSON(http.StatusOK, map[string]any{"matches": []any{}, "note": "vector search disabled"})
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	topK := intQuery(c, "top_k", 10, 1, 100)
	matches, err := s.deps.Indexer.Search(c.Request().Context(), q, topK)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}
