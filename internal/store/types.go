package store

import "time"

// Incident lifecycle statuses. An incident is "open-ish" until resolved;
// the unique index on cluster_key only applies to open-ish rows.
const (
	IncidentOpen     = "open"
	IncidentAck      = "ack"
	IncidentMuted    = "muted"
	IncidentResolved = "resolved"
)

// OpenishStatuses are the statuses under which a cluster's incident is
// still live and must not be duplicated.
var OpenishStatuses = []string{IncidentOpen, IncidentAck, IncidentMuted}

// Conversation mirrors the Help Scout conversation fields we keep.
type Conversation struct {
	ID           int64     `json:"id"`
	Number       int       `json:"number"`
	Subject      string    `json:"subject"`
	LastText     string    `json:"last_text"`
	Tags         string    `json:"tags"` // comma-separated
	CustomerName string    `json:"customer_name"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	GameUserID   string    `json:"game_user_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Enrichment is the persisted classification for one conversation. The
// content hash lets the pipeline skip re-enriching unchanged text.
type Enrichment struct {
	ConvID         int64     `json:"conv_id"`
	ContentHash    string    `json:"content_hash"`
	Summary        string    `json:"summary"`
	Categories     string    `json:"categories"` // comma-separated
	Platform       string    `json:"platform"`
	AppVersion     string    `json:"app_version"`
	Level          *int      `json:"level"`
	Intent         string    `json:"intent"`
	OneLiner       string    `json:"one_liner"`
	SeverityBucket string    `json:"severity_bucket"`
	SeverityScore  int       `json:"severity_score"`
	LastEnrichedAt time.Time `json:"last_enriched_at"`
}

// Incident groups repeated reports of the same cluster into one alert
// thread with a lifecycle.
type Incident struct {
	ID             int64     `json:"id"`
	Signature      string    `json:"signature"`
	Status         string    `json:"status"`
	SeverityBucket string    `json:"severity_bucket"`
	SeverityScore  int       `json:"severity_score"`
	ClusterKey     string    `json:"cluster_key"`
	SlackChannelID string    `json:"slack_channel_id,omitempty"`
	SlackThreadTS  string    `json:"slack_thread_ts,omitempty"`
	FirstSeen      time.Time `json:"first_seen"`
	LastUpdate     time.Time `json:"last_update"`
}

// TicketEvent is the append-only record of one processed ticket, the basis
// for volume charts and anomaly history.
type TicketEvent struct {
	ID             int64      `json:"id"`
	ConvID         int64      `json:"conv_id"`
	Number         int        `json:"number"`
	Subject        string     `json:"subject"`
	ClusterKey     string     `json:"cluster_key"`
	SeverityBucket string     `json:"severity_bucket"`
	SeverityScore  int        `json:"severity_score"`
	ZScore         *float64   `json:"z_score"`
	Cusum          *float64   `json:"cusum"`
	Impact         string     `json:"impact,omitempty"`
	Intent         string     `json:"intent,omitempty"`
	Categories     string     `json:"categories,omitempty"`
	Tags           string     `json:"tags,omitempty"`
	Platform       string     `json:"platform,omitempty"`
	AppVersion     string     `json:"app_version,omitempty"`
	Level          *int       `json:"level"`
	OneLiner       string     `json:"one_liner,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	DayStart       *time.Time `json:"day_start,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Feedback action types.
const (
	FeedbackSeen          = "seen"
	FeedbackDismissed     = "dismissed"
	FeedbackTagCorrection = "tag_correction"
)

// DismissalActions are the feedback actions that hide a ticket from the
// triage inbox.
var DismissalActions = []string{FeedbackSeen, FeedbackDismissed}

// Feedback is a reviewer action on a triaged ticket. For tag corrections,
// Data holds JSON with correct_intent / correct_severity / notes.
type Feedback struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	TicketNumber   int64     `json:"ticket_number,omitempty"`
	ActionType     string    `json:"action_type"`
	Data           string    `json:"feedback_data,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// OAuthToken is the single persisted Help Scout OAuth credential.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SeverityCount is one row of the dashboard severity breakdown.
type SeverityCount struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// IntentCount is one row of the dashboard intent breakdown.
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

// VolumePoint is one bucket of the ticket volume series.
type VolumePoint struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}
