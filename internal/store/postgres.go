package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) UpsertConversation(ctx context.Context, c *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO hs_conversation (id, number, subject, last_text, tags, customer_name, first_name, last_name, game_user_id, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
        ON CONFLICT (id) DO UPDATE SET
            number = EXCLUDED.number,
            subject = EXCLUDED.subject,
            last_text = EXCLUDED.last_text,
            tags = EXCLUDED.tags,
            customer_name = EXCLUDED.customer_name,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            game_user_id = EXCLUDED.game_user_id,
            updated_at = now()
    `, c.ID, c.Number, c.Subject, c.LastText, c.Tags, c.CustomerName, c.FirstName, c.LastName, c.GameUserID)
	return err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, coalesce(number,0), coalesce(subject,''), coalesce(last_text,''), coalesce(tags,''),
               coalesce(customer_name,''), coalesce(first_name,''), coalesce(last_name,''), coalesce(game_user_id,''), updated_at
        FROM hs_conversation WHERE id=$1
    `, id)
	return scanConversation(row)
}

func (s *PostgresStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, coalesce(number,0), coalesce(subject,''), coalesce(last_text,''), coalesce(tags,''),
               coalesce(customer_name,''), coalesce(first_name,''), coalesce(last_name,''), coalesce(game_user_id,''), updated_at
        FROM hs_conversation ORDER BY updated_at DESC LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountConversationsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	var err error
	if to.IsZero() {
		err = s.db.QueryRowContext(ctx, `
            SELECT count(*) FROM hs_conversation WHERE updated_at >= $1
        `, from).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `
            SELECT count(*) FROM hs_conversation WHERE updated_at >= $1 AND updated_at < $2
        `, from, to).Scan(&n)
	}
	return n, err
}

func scanConversation(scanner interface{ Scan(dest ...any) error }) (*Conversation, error) {
	var c Conversation
	err := scanner.Scan(&c.ID, &c.Number, &c.Subject, &c.LastText, &c.Tags,
		&c.CustomerName, &c.FirstName, &c.LastName, &c.GameUserID, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, e *Enrichment) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO hs_enrichment (conv_id, content_hash, summary, categories, platform, app_version, level,
                                   intent, one_liner, severity_bucket, severity_score, last_enriched_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
        ON CONFLICT (conv_id) DO UPDATE SET
            content_hash = EXCLUDED.content_hash,
            summary = EXCLUDED.summary,
            categories = EXCLUDED.categories,
            platform = EXCLUDED.platform,
            app_version = EXCLUDED.app_version,
            level = EXCLUDED.level,
            intent = EXCLUDED.intent,
            one_liner = EXCLUDED.one_liner,
            severity_bucket = EXCLUDED.severity_bucket,
            severity_score = EXCLUDED.severity_score,
            last_enriched_at = now()
    `, e.ConvID, e.ContentHash, e.Summary, e.Categories, e.Platform, e.AppVersion, e.Level,
		e.Intent, e.OneLiner, e.SeverityBucket, e.SeverityScore)
	return err
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, convID int64) (*Enrichment, error) {
	var e Enrichment
	var level sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
        SELECT conv_id, coalesce(content_hash,''), coalesce(summary,''), coalesce(categories,''),
               coalesce(platform,''), coalesce(app_version,''), level, coalesce(intent,''),
               coalesce(one_liner,''), coalesce(severity_bucket,''), coalesce(severity_score,0), last_enriched_at
        FROM hs_enrichment WHERE conv_id=$1
    `, convID).Scan(&e.ConvID, &e.ContentHash, &e.Summary, &e.Categories, &e.Platform, &e.AppVersion,
		&level, &e.Intent, &e.OneLiner, &e.SeverityBucket, &e.SeverityScore, &e.LastEnrichedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if level.Valid {
		v := int(level.Int64)
		e.Level = &v
	}
	return &e, nil
}

// UpsertOpenIncident relies on the partial unique index over open-ish
// incidents, so insert-or-update is a single atomic statement.
func (s *PostgresStore) UpsertOpenIncident(ctx context.Context, clusterKey, bucket string, score int) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO incident (cluster_key, signature, status, severity_bucket, severity_score)
        VALUES ($1, $1, 'open', $2, $3)
        ON CONFLICT (cluster_key) WHERE status IN ('open','ack','muted') DO UPDATE SET
            severity_bucket = EXCLUDED.severity_bucket,
            severity_score = EXCLUDED.severity_score,
            last_update = now()
        RETURNING id, signature, status, severity_bucket, severity_score, cluster_key,
                  coalesce(slack_channel_id,''), coalesce(slack_thread_ts,''), first_seen, last_update
    `, clusterKey, bucket, score)
	return scanIncident(row)
}

func (s *PostgresStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, signature, status, severity_bucket, severity_score, cluster_key,
               coalesce(slack_channel_id,''), coalesce(slack_thread_ts,''), first_seen, last_update
        FROM incident WHERE id=$1
    `, id)
	return scanIncident(row)
}

func (s *PostgresStore) FindIncidentByThread(ctx context.Context, channelID, threadTS string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, signature, status, severity_bucket, severity_score, cluster_key,
               coalesce(slack_channel_id,''), coalesce(slack_thread_ts,''), first_seen, last_update
        FROM incident WHERE slack_channel_id=$1 AND slack_thread_ts=$2
        ORDER BY last_update DESC LIMIT 1
    `, channelID, threadTS)
	return scanIncident(row)
}

func (s *PostgresStore) SetIncidentThread(ctx context.Context, id int64, channelID, threadTS string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE incident SET slack_channel_id=$1, slack_thread_ts=$2, last_update=now() WHERE id=$3
    `, channelID, threadTS, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateIncidentStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE incident SET status=$1, last_update=now() WHERE id=$2
    `, status, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) ListIncidents(ctx context.Context, statuses []string, limit int) ([]*Incident, error) {
	if len(statuses) == 0 {
		statuses = OpenishStatuses
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, signature, status, severity_bucket, severity_score, cluster_key,
               coalesce(slack_channel_id,''), coalesce(slack_thread_ts,''), first_seen, last_update
        FROM incident WHERE status = ANY($1) ORDER BY last_update DESC LIMIT $2
    `, pq.Array(statuses), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func scanIncident(scanner interface{ Scan(dest ...any) error }) (*Incident, error) {
	var inc Incident
	err := scanner.Scan(&inc.ID, &inc.Signature, &inc.Status, &inc.SeverityBucket, &inc.SeverityScore,
		&inc.ClusterKey, &inc.SlackChannelID, &inc.SlackThreadTS, &inc.FirstSeen, &inc.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (s *PostgresStore) RecordTicketEvent(ctx context.Context, ev *TicketEvent) error {
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO ticket_event (conv_id, number, subject, cluster_key, severity_bucket, severity_score,
                                  z_score, cusum, impact, intent, categories, tags, platform, app_version,
                                  level, one_liner, summary, day_start)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
        RETURNING id, created_at
    `, ev.ConvID, ev.Number, ev.Subject, ev.ClusterKey, ev.SeverityBucket, ev.SeverityScore,
		ev.ZScore, ev.Cusum, ev.Impact, ev.Intent, ev.Categories, ev.Tags, ev.Platform, ev.AppVersion,
		ev.Level, ev.OneLiner, ev.Summary, ev.DayStart,
	).Scan(&ev.ID, &ev.CreatedAt)
	return err
}

func (s *PostgresStore) ListRecentEvents(ctx context.Context, since time.Time, limit int) ([]*TicketEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conv_id, coalesce(number,0), coalesce(subject,''), cluster_key, severity_bucket, severity_score,
               z_score, cusum, coalesce(impact,''), coalesce(intent,''), coalesce(categories,''), coalesce(tags,''),
               coalesce(platform,''), coalesce(app_version,''), level, coalesce(one_liner,''), coalesce(summary,''),
               day_start, created_at
        FROM ticket_event WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2
    `, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*TicketEvent, 0)
	for rows.Next() {
		var ev TicketEvent
		var level sql.NullInt64
		var z, cus sql.NullFloat64
		var dayStart sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.ConvID, &ev.Number, &ev.Subject, &ev.ClusterKey, &ev.SeverityBucket,
			&ev.SeverityScore, &z, &cus, &ev.Impact, &ev.Intent, &ev.Categories, &ev.Tags,
			&ev.Platform, &ev.AppVersion, &level, &ev.OneLiner, &ev.Summary, &dayStart, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if z.Valid {
			ev.ZScore = &z.Float64
		}
		if cus.Valid {
			ev.Cusum = &cus.Float64
		}
		if level.Valid {
			v := int(level.Int64)
			ev.Level = &v
		}
		if dayStart.Valid {
			ev.DayStart = &dayStart.Time
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountClusterEvents(ctx context.Context, clusterKey string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
        SELECT count(*) FROM ticket_event WHERE cluster_key=$1 AND created_at >= $2
    `, clusterKey, since).Scan(&n)
	return n, err
}

func (s *PostgresStore) SeverityCounts(ctx context.Context, since time.Time) ([]SeverityCount, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT severity_bucket, count(*) FROM ticket_event
        WHERE created_at >= $1 GROUP BY severity_bucket ORDER BY count(*) DESC
    `, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SeverityCount, 0)
	for rows.Next() {
		var sc SeverityCount
		if err := rows.Scan(&sc.Bucket, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IntentCounts(ctx context.Context, since time.Time, limit int) ([]IntentCount, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT coalesce(intent,''), count(*) FROM ticket_event
        WHERE created_at >= $1 AND intent IS NOT NULL AND intent <> ''
        GROUP BY intent ORDER BY count(*) DESC LIMIT $2
    `, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]IntentCount, 0)
	for rows.Next() {
		var ic IntentCount
		if err := rows.Scan(&ic.Intent, &ic.Count); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

func (s *PostgresStore) VolumeSeries(ctx context.Context, since time.Time) ([]VolumePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT date_trunc('day', created_at) AS day, count(*) FROM ticket_event
        WHERE created_at >= $1 GROUP BY day ORDER BY day
    `, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]VolumePoint, 0)
	for rows.Next() {
		var vp VolumePoint
		if err := rows.Scan(&vp.Day, &vp.Count); err != nil {
			return nil, err
		}
		out = append(out, vp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateFeedback(ctx context.Context, fb *Feedback) error {
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO ticket_feedback (conversation_id, ticket_number, action_type, feedback_data)
        VALUES ($1,$2,$3,$4) RETURNING id, created_at
    `, fb.ConversationID, fb.TicketNumber, fb.ActionType, fb.Data).Scan(&fb.ID, &fb.CreatedAt)
	return err
}

func (s *PostgresStore) ListFeedback(ctx context.Context, convID int64) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, coalesce(ticket_number,0), action_type, coalesce(feedback_data,''), created_at
        FROM ticket_feedback WHERE conversation_id=$1 ORDER BY created_at DESC
    `, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Feedback, 0)
	for rows.Next() {
		var fb Feedback
		if err := rows.Scan(&fb.ID, &fb.ConversationID, &fb.TicketNumber, &fb.ActionType, &fb.Data, &fb.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &fb)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClearFeedback(ctx context.Context, convID int64, actionTypes []string) error {
	if len(actionTypes) == 0 {
		actionTypes = DismissalActions
	}
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM ticket_feedback WHERE conversation_id=$1 AND action_type = ANY($2)
    `, convID, pq.Array(actionTypes))
	return err
}

func (s *PostgresStore) DismissedConversationIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT DISTINCT conversation_id FROM ticket_feedback WHERE action_type = ANY($1)
    `, pq.Array(DismissalActions))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListTagCorrections joins corrections with their conversations so the
// learner can mine phrases from the corrected text.
func (s *PostgresStore) ListTagCorrections(ctx context.Context) ([]enrich.StoredCorrection, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT coalesce(c.subject,''), coalesce(c.last_text,''), coalesce(f.feedback_data,'')
        FROM ticket_feedback f
        JOIN hs_conversation c ON c.id = f.conversation_id
        WHERE f.action_type = 'tag_correction'
        ORDER BY f.created_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]enrich.StoredCorrection, 0)
	for rows.Next() {
		var subject, text, data string
		if err := rows.Scan(&subject, &text, &data); err != nil {
			return nil, err
		}
		var payload struct {
			CorrectIntent   string `json:"correct_intent"`
			CorrectSeverity string `json:"correct_severity"`
		}
		if data != "" {
			// Malformed feedback payloads are skipped, not fatal.
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				continue
			}
		}
		out = append(out, enrich.StoredCorrection{
			Subject:         subject,
			Text:            text,
			CorrectIntent:   payload.CorrectIntent,
			CorrectSeverity: payload.CorrectSeverity,
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOAuthToken(ctx context.Context) (*OAuthToken, error) {
	var t OAuthToken
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx, `
        SELECT coalesce(access_token,''), coalesce(refresh_token,''), expires_at
        FROM hs_oauth_token ORDER BY id DESC LIMIT 1
    `).Scan(&t.AccessToken, &t.RefreshToken, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	return &t, nil
}

// SaveOAuthToken keeps a single row, replacing any previous credential.
func (s *PostgresStore) SaveOAuthToken(ctx context.Context, t *OAuthToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hs_oauth_token`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO hs_oauth_token (access_token, refresh_token, expires_at) VALUES ($1,$2,$3)
    `, t.AccessToken, t.RefreshToken, t.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var (
	_ Store                   = (*PostgresStore)(nil)
	_ enrich.CorrectionSource = (*PostgresStore)(nil)
)
