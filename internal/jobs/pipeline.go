// Package jobs runs the triage pipeline on a River job queue backed by the
// same Postgres instance as the stores.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
	"github.com/Dotan-Peleh/hs-automation/internal/helpscout"
	"github.com/Dotan-Peleh/hs-automation/internal/notify"
	slackalert "github.com/Dotan-Peleh/hs-automation/internal/slack"
	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
	"github.com/Dotan-Peleh/hs-automation/internal/vector"
)

// HelpScoutAPI is the slice of the Help Scout client the pipeline uses.
type HelpScoutAPI interface {
	FetchConversation(ctx context.Context, id int64) (*helpscout.Conversation, error)
	ListConversations(ctx context.Context, page int) (*helpscout.ConversationPage, error)
	EnsureTags(ctx context.Context, convID int64, tags []string) error
}

// Pipeline is the end-to-end triage flow for one conversation: fetch,
// extract, classify, enrich, score, persist, alert, index.
type Pipeline struct {
	store      store.Store
	hs         HelpScoutAPI
	enricher   *enrich.Enricher
	learner    *enrich.Learner
	alerts     *slackalert.Notifier
	indexer    *vector.Indexer
	anomaly    *triage.AnomalyDetector
	thresholds triage.Thresholds
	hub        *notify.Hub
	now        func() time.Time
}

// PipelineDeps bundles the collaborators; optional ones may be nil and the
// corresponding stage becomes a no-op.
type PipelineDeps struct {
	Store      store.Store
	HelpScout  HelpScoutAPI
	Enricher   *enrich.Enricher
	Learner    *enrich.Learner
	Alerts     *slackalert.Notifier
	Indexer    *vector.Indexer
	Anomaly    *triage.AnomalyDetector
	Thresholds triage.Thresholds
	Hub        *notify.Hub
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	anomaly := deps.Anomaly
	if anomaly == nil {
		anomaly = triage.NewAnomalyDetector(triage.DefaultAnomalyWindow)
	}
	th := deps.Thresholds
	if th == (triage.Thresholds{}) {
		th = triage.DefaultThresholds()
	}
	return &Pipeline{
		store:      deps.Store,
		hs:         deps.HelpScout,
		enricher:   deps.Enricher,
		learner:    deps.Learner,
		alerts:     deps.Alerts,
		indexer:    deps.Indexer,
		anomaly:    anomaly,
		thresholds: th,
		hub:        deps.Hub,
		now:        time.Now,
	}
}

// ProcessConversation is the webhook-triggered entry point.
func (p *Pipeline) ProcessConversation(ctx context.Context, convID int64) error {
	conv, err := p.hs.FetchConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("fetch conversation %d: %w", convID, err)
	}

	text := helpscout.ExtractText(conv)
	tagNames := conv.TagNames()
	agentReplied := helpscout.AgentReplied(conv)
	if agentReplied && !containsTag(tagNames, "agent:replied") {
		tagNames = append(tagNames, "agent:replied")
	}
	gameUserID := helpscout.ExtractGameUserID(text)
	customerName := strings.TrimSpace(conv.PrimaryCustomer.FirstName + " " + conv.PrimaryCustomer.LastName)

	updatedAt := conv.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = p.now().UTC()
	}
	record := &store.Conversation{
		ID:           conv.ID,
		Number:       conv.Number,
		Subject:      conv.Subject,
		LastText:     text,
		Tags:         strings.Join(tagNames, ","),
		CustomerName: customerName,
		FirstName:    conv.PrimaryCustomer.FirstName,
		LastName:     conv.PrimaryCustomer.LastName,
		GameUserID:   gameUserID,
		UpdatedAt:    updatedAt,
	}
	if err := p.store.UpsertConversation(ctx, record); err != nil {
		return fmt.Errorf("upsert conversation %d: %w", convID, err)
	}

	raw := strings.TrimSpace(conv.Subject + "\n" + text)
	hash := enrich.ContentHash(raw)

	cached, err := p.store.GetEnrichment(ctx, convID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load enrichment %d: %w", convID, err)
	}
	if cached != nil && cached.Intent != "" && cached.ContentHash == hash {
		log.Debug().Int64("conv_id", convID).Msg("enrichment cache hit, skipping")
		return nil
	}

	result, err := p.triageTicket(ctx, conv, raw, tagNames)
	if err != nil {
		return err
	}

	if err := p.persist(ctx, conv, hash, result); err != nil {
		return err
	}
	p.hub.Publish("new_message", map[string]any{
		"conv_id": convID,
		"number":  conv.Number,
		"subject": conv.Subject,
	})

	p.applyHelpScoutTags(ctx, conv, result)
	p.maybeAlert(ctx, conv, record, result, agentReplied)
	p.indexer.IndexConversation(ctx, record)
	return nil
}

// triageResult carries everything computed for one ticket.
type triageResult struct {
	enrichment enrich.Enrichment
	entities   triage.Entities
	categories []string
	tags       []string
	clusterKey string
	score      int
	bucket     string
	reason     string
	z          float64
	cusum      float64
	llmUsed    bool
}

func (p *Pipeline) triageTicket(ctx context.Context, conv *helpscout.Conversation, raw string, hsTags []string) (*triageResult, error) {
	res := &triageResult{}

	res.enrichment = p.enrichText(ctx, raw)
	res.llmUsed = res.enrichment.Intent != ""

	if !res.llmUsed {
		// Enrichment unavailable: do not trust keyword scores alone,
		// park the ticket at medium for a human look.
		res.bucket = triage.SeverityMedium
		res.score = 30
		res.clusterKey = triage.ClusterKey(raw, triage.Entities{})
		res.z, res.cusum = p.anomaly.UpdateAndScore(res.clusterKey)
		res.categories = []string{"uncategorized"}
		res.reason = "enrichment unavailable"
		return res, nil
	}

	res.entities = triage.ExtractEntities(raw)
	cats, ruleScore := triage.Categorize(raw)
	res.categories = cats
	res.score = triage.ComputeSeverity(raw, res.entities, ruleScore)
	res.clusterKey = triage.ClusterKey(raw, res.entities)
	res.z, res.cusum = p.anomaly.UpdateAndScore(res.clusterKey)

	res.bucket = p.thresholds.Bucketize(res.score, res.z, res.cusum)
	if res.bucket == "" {
		res.bucket = triage.BucketFromScore(res.score)
	}

	res.tags = triage.DeriveTags(raw, res.entities)
	if hsIntent, extra := triage.InterpretHelpScoutTags(hsTags); hsIntent != "" {
		res.enrichment.Intent = hsIntent
		res.tags = append(res.tags, extra...)
	}

	if b := p.severityOverride(ctx, res.enrichment.Intent, res.enrichment.RootCause, raw); b != "" {
		res.bucket = b
	}

	if p.learner != nil {
		intent, bucket := p.learner.Apply(ctx, raw, conv.Subject, res.enrichment.Intent, res.bucket)
		res.enrichment.Intent = intent
		res.bucket = bucket
	}

	since := p.now().Add(-48 * time.Hour)
	similar, err := p.store.CountClusterEvents(ctx, res.clusterKey, since)
	if err != nil {
		log.Warn().Err(err).Msg("cluster volume lookup failed")
	}
	res.bucket, res.reason = triage.Escalate(res.bucket, res.tags, res.categories, similar, res.enrichment.RootCause)

	// Empty and unreadable tickets never page anyone.
	if res.enrichment.Intent == "incomplete_ticket" || res.enrichment.Intent == "unreadable" {
		res.bucket = triage.SeverityLow
	}
	return res, nil
}

// enrichText runs the LLM with the stored tag corrections as few-shot
// examples. Failures degrade to no enrichment rather than failing the job.
func (p *Pipeline) enrichText(ctx context.Context, raw string) enrich.Enrichment {
	if !p.enricher.Enabled() || raw == "" {
		return enrich.Enrichment{}
	}
	var corrections []enrich.Correction
	if stored, err := p.store.ListTagCorrections(ctx); err == nil {
		for _, c := range stored {
			corrections = append(corrections, enrich.Correction{
				Text:            strings.TrimSpace(c.Subject + "\n" + c.Text),
				CorrectIntent:   c.CorrectIntent,
				CorrectSeverity: c.CorrectSeverity,
			})
		}
	}
	out, err := p.enricher.Enrich(ctx, raw, corrections)
	if err != nil {
		log.Warn().Err(err).Msg("enrichment failed, defaulting severity to medium")
		return enrich.Enrichment{}
	}
	return out
}

// severityOverride maps intent and root cause onto a bucket, overriding the
// keyword score. Returns "" when no override applies.
func (p *Pipeline) severityOverride(ctx context.Context, intent, rootCause, raw string) string {
	lowRaw := strings.ToLower(raw)
	rootCause = strings.ToLower(rootCause)

	override := ""
	switch {
	case intent == "crash_report":
		override = triage.SeverityHigh
	case intent == "billing_issue" || intent == "missing_purchase_reward":
		switch {
		case strings.Contains(lowRaw, "charge twice") || strings.Contains(lowRaw, "double charge"):
			override = triage.SeverityHigh
		case strings.Contains(rootCause, "refund"):
			override = triage.SeverityMedium
		default:
			override = triage.SeverityHigh
		}
	case intent == "lost_progress":
		override = triage.SeverityHigh
	case strings.Contains(rootCause, "app freezing/stuck"):
		override = triage.SeverityMedium
	case intent == "bug_report" && strings.Contains(rootCause, "gameplay"):
		override = p.bucketByRecentBugVolume(ctx)
	case intent == "delete_account", intent == "question", intent == "feedback", intent == "offerwall_issue":
		override = triage.SeverityLow
	}

	if strings.Contains(lowRaw, "can't play") || strings.Contains(lowRaw, "unable to play") {
		override = triage.SeverityHigh
	}
	return override
}

// bucketByRecentBugVolume grades a gameplay bug by how many bug reports came
// in over the last two days.
func (p *Pipeline) bucketByRecentBugVolume(ctx context.Context) string {
	since := p.now().Add(-48 * time.Hour)
	counts, err := p.store.IntentCounts(ctx, since, 50)
	if err != nil {
		log.Warn().Err(err).Msg("recent bug volume lookup failed")
		return triage.SeverityLow
	}
	for _, c := range counts {
		if c.Intent != "bug_report" {
			continue
		}
		switch {
		case c.Count >= 5:
			return triage.SeverityHigh
		case c.Count >= 3:
			return triage.SeverityMedium
		}
	}
	return triage.SeverityLow
}

func (p *Pipeline) persist(ctx context.Context, conv *helpscout.Conversation, hash string, res *triageResult) error {
	e := &store.Enrichment{
		ConvID:         conv.ID,
		ContentHash:    hash,
		Summary:        res.enrichment.Summary,
		Categories:     strings.Join(res.categories, ","),
		Platform:       res.entities.Platform,
		AppVersion:     res.entities.AppVersion,
		Level:          res.entities.Level,
		Intent:         res.enrichment.Intent,
		OneLiner:       res.enrichment.RootCause,
		SeverityBucket: res.bucket,
		SeverityScore:  res.score,
		LastEnrichedAt: p.now().UTC(),
	}
	if err := p.store.UpsertEnrichment(ctx, e); err != nil {
		return fmt.Errorf("upsert enrichment %d: %w", conv.ID, err)
	}

	z, cusum := res.z, res.cusum
	dayStart := p.now().UTC().Truncate(24 * time.Hour)
	ev := &store.TicketEvent{
		ConvID:         conv.ID,
		Number:         conv.Number,
		Subject:        conv.Subject,
		ClusterKey:     res.clusterKey,
		SeverityBucket: res.bucket,
		SeverityScore:  res.score,
		ZScore:         &z,
		Cusum:          &cusum,
		Intent:         res.enrichment.Intent,
		Categories:     strings.Join(res.categories, ","),
		Tags:           strings.Join(res.tags, ","),
		Platform:       res.entities.Platform,
		AppVersion:     res.entities.AppVersion,
		Level:          res.entities.Level,
		OneLiner:       res.enrichment.RootCause,
		Summary:        res.enrichment.Summary,
		DayStart:       &dayStart,
		CreatedAt:      p.now().UTC(),
	}
	if err := p.store.RecordTicketEvent(ctx, ev); err != nil {
		return fmt.Errorf("record ticket event %d: %w", conv.ID, err)
	}

	if res.bucket == triage.SeverityHigh || res.bucket == triage.SeverityCritical {
		if err := p.openOrBumpIncident(ctx, res); err != nil {
			log.Warn().Err(err).Str("cluster", res.clusterKey).Msg("incident upsert failed")
		}
	}
	return nil
}

// openOrBumpIncident keeps one live incident per cluster: the first severe
// ticket opens it and posts the parent alert, later ones bump severity and
// append a thread update.
func (p *Pipeline) openOrBumpIncident(ctx context.Context, res *triageResult) error {
	inc, err := p.store.UpsertOpenIncident(ctx, res.clusterKey, res.bucket, res.score)
	if err != nil {
		return err
	}
	if inc.SlackThreadTS == "" {
		channel, ts, err := p.alerts.PostIncident(ctx, inc, res.categories, res.entities, res.z, res.cusum, res.enrichment.Summary)
		if err != nil {
			return err
		}
		if ts == "" {
			return nil
		}
		return p.store.SetIncidentThread(ctx, inc.ID, channel, ts)
	}
	return p.alerts.PostIncidentUpdate(ctx, inc, res.z, res.cusum)
}

// applyHelpScoutTags writes the triage verdict back onto the conversation so
// agents see it inside Help Scout.
func (p *Pipeline) applyHelpScoutTags(ctx context.Context, conv *helpscout.Conversation, res *triageResult) {
	tags := []string{"triaged", "sev:" + res.bucket}
	if res.enrichment.Intent != "" {
		tags = append(tags, "intent:"+res.enrichment.Intent)
	}
	if err := p.hs.EnsureTags(ctx, conv.ID, tags); err != nil {
		log.Warn().Err(err).Int64("conv_id", conv.ID).Msg("help scout tag writeback failed")
	}
}

// maybeAlert posts the per-ticket Slack message unless an agent already
// replied, in which case nobody needs the ping.
func (p *Pipeline) maybeAlert(ctx context.Context, conv *helpscout.Conversation, record *store.Conversation, res *triageResult, agentReplied bool) {
	if agentReplied {
		log.Debug().Int("number", conv.Number).Msg("agent already replied, skipping alert")
		return
	}
	if res.enrichment.Intent == "" {
		return
	}

	tags := append([]string(nil), res.enrichment.Tags...)
	switch res.enrichment.Intent {
	case "delete_account":
		tags = append(tags, "🚨 DELETE_REQUEST")
	case "incomplete_ticket":
		tags = append(tags, "📭 EMPTY_TICKET")
	case "unreadable":
		tags = append(tags, "❓ UNREADABLE")
	case "offerwall_issue":
		tags = append(tags, "🎁 OfferWall")
	}

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = conv.UpdatedAt
	}
	_, err := p.alerts.SendTicketAlert(ctx, slackalert.TicketAlert{
		Number:       conv.Number,
		Subject:      fallback(conv.Subject, "No subject"),
		Severity:     fallback(res.bucket, triage.SeverityLow),
		Intent:       res.enrichment.Intent,
		RootCause:    res.enrichment.RootCause,
		Summary:      fallback(res.enrichment.Summary, "No summary"),
		Tags:         tags,
		HelpScoutURL: fmt.Sprintf("https://secure.helpscout.net/conversation/%d", conv.ID),
		CustomerName: record.CustomerName,
		GameUserID:   record.GameUserID,
		Platform:     res.entities.Platform,
		Device:       res.entities.Device,
		CreatedAt:    createdAt,
	})
	if err != nil {
		log.Warn().Err(err).Int("number", conv.Number).Msg("ticket alert failed")
	}
}

// Backfill walks the mailbox page by page, processing every conversation.
// Returns how many conversations were handled.
func (p *Pipeline) Backfill(ctx context.Context, maxPages int) (int, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	processed := 0
	for page := 1; page <= maxPages; page++ {
		pg, err := p.hs.ListConversations(ctx, page)
		if err != nil {
			return processed, fmt.Errorf("list conversations page %d: %w", page, err)
		}
		if len(pg.Embedded.Conversations) == 0 {
			break
		}
		for i := range pg.Embedded.Conversations {
			id := pg.Embedded.Conversations[i].ID
			if err := p.ProcessConversation(ctx, id); err != nil {
				log.Warn().Err(err).Int64("conv_id", id).Msg("backfill: conversation failed")
				continue
			}
			processed++
		}
		if page >= pg.Page.TotalPages {
			break
		}
	}
	log.Info().Int("processed", processed).Msg("backfill complete")
	return processed, nil
}

// VectorIndexingEnabled reports whether the embeddings/Pinecone pair is
// configured. Callers use it to skip scheduling reindex work entirely.
func (p *Pipeline) VectorIndexingEnabled() bool { return p.indexer.Enabled() }

// ReindexVectors re-embeds the most recently updated conversations. Without
// a configured indexer it is a no-op, not an error: a reindex job left over
// from an earlier configuration must not retry forever.
func (p *Pipeline) ReindexVectors(ctx context.Context, limit int) (int, error) {
	if !p.indexer.Enabled() {
		log.Debug().Msg("vector reindex skipped: indexing not configured")
		return 0, nil
	}
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	convs, err := p.store.ListConversations(ctx, limit)
	if err != nil {
		return 0, err
	}
	batch := make([]store.Conversation, 0, len(convs))
	for _, c := range convs {
		batch = append(batch, *c)
	}
	return p.indexer.Reindex(ctx, batch)
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
