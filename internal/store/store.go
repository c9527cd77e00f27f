// Package store persists conversations, enrichments, incidents, ticket
// events and feedback in Postgres, with an in-memory twin for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence surface the pipeline and API run against.
type Store interface {
	UpsertConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	// CountConversationsBetween counts conversations updated in [from, to).
	// A zero `to` means no upper bound.
	CountConversationsBetween(ctx context.Context, from, to time.Time) (int, error)

	UpsertEnrichment(ctx context.Context, e *Enrichment) error
	GetEnrichment(ctx context.Context, convID int64) (*Enrichment, error)

	// UpsertOpenIncident creates an open incident for the cluster or bumps
	// the severity and last_update of the existing open-ish one. Atomic:
	// concurrent callers for the same cluster yield one incident.
	UpsertOpenIncident(ctx context.Context, clusterKey, bucket string, score int) (*Incident, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	FindIncidentByThread(ctx context.Context, channelID, threadTS string) (*Incident, error)
	SetIncidentThread(ctx context.Context, id int64, channelID, threadTS string) error
	UpdateIncidentStatus(ctx context.Context, id int64, status string) error
	ListIncidents(ctx context.Context, statuses []string, limit int) ([]*Incident, error)

	RecordTicketEvent(ctx context.Context, ev *TicketEvent) error
	ListRecentEvents(ctx context.Context, since time.Time, limit int) ([]*TicketEvent, error)
	CountClusterEvents(ctx context.Context, clusterKey string, since time.Time) (int, error)
	SeverityCounts(ctx context.Context, since time.Time) ([]SeverityCount, error)
	IntentCounts(ctx context.Context, since time.Time, limit int) ([]IntentCount, error)
	VolumeSeries(ctx context.Context, since time.Time) ([]VolumePoint, error)

	CreateFeedback(ctx context.Context, fb *Feedback) error
	ListFeedback(ctx context.Context, convID int64) ([]*Feedback, error)
	// ClearFeedback removes a conversation's feedback rows of the given
	// action types (un-dismissing a ticket).
	ClearFeedback(ctx context.Context, convID int64, actionTypes []string) error
	// DismissedConversationIDs lists conversations a reviewer marked seen
	// or dismissed.
	DismissedConversationIDs(ctx context.Context) ([]int64, error)
	ListTagCorrections(ctx context.Context) ([]enrich.StoredCorrection, error)

	GetOAuthToken(ctx context.Context) (*OAuthToken, error)
	SaveOAuthToken(ctx context.Context, t *OAuthToken) error
}
