package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
)

// InMemoryStore is a threadsafe in-memory Store used by tests and preview
// runs. Semantics match PostgresStore, including the one-open-incident-per-
// cluster rule.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[int64]*Conversation
	enrichments   map[int64]*Enrichment
	incidents     []*Incident
	events        []*TicketEvent
	feedback      []*Feedback
	token         *OAuthToken
	nextID        int64
	now           func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[int64]*Conversation),
		enrichments:   make(map[int64]*Enrichment),
		nextID:        1,
		now:           time.Now,
	}
}

func (s *InMemoryStore) UpsertConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.UpdatedAt = s.now()
	s.conversations[c.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, limit int) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) CountConversationsBetween(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.conversations {
		if c.UpdatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !c.UpdatedAt.Before(to) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *InMemoryStore) UpsertEnrichment(_ context.Context, e *Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.LastEnrichedAt = s.now()
	s.enrichments[e.ConvID] = &cp
	return nil
}

func (s *InMemoryStore) GetEnrichment(_ context.Context, convID int64) (*Enrichment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrichments[convID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func isOpenish(status string) bool {
	for _, st := range OpenishStatuses {
		if st == status {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) UpsertOpenIncident(_ context.Context, clusterKey, bucket string, score int) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inc := range s.incidents {
		if inc.ClusterKey == clusterKey && isOpenish(inc.Status) {
			inc.SeverityBucket = bucket
			inc.SeverityScore = score
			inc.LastUpdate = s.now()
			cp := *inc
			return &cp, nil
		}
	}
	inc := &Incident{
		ID:             s.nextID,
		Signature:      clusterKey,
		Status:         IncidentOpen,
		SeverityBucket: bucket,
		SeverityScore:  score,
		ClusterKey:     clusterKey,
		FirstSeen:      s.now(),
		LastUpdate:     s.now(),
	}
	s.nextID++
	s.incidents = append(s.incidents, inc)
	cp := *inc
	return &cp, nil
}

func (s *InMemoryStore) GetIncident(_ context.Context, id int64) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents {
		if inc.ID == id {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindIncidentByThread(_ context.Context, channelID, threadTS string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.incidents) - 1; i >= 0; i-- {
		inc := s.incidents[i]
		if inc.SlackChannelID == channelID && inc.SlackThreadTS == threadTS {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) SetIncidentThread(_ context.Context, id int64, channelID, threadTS string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range s.incidents {
		if inc.ID == id {
			inc.SlackChannelID = channelID
			inc.SlackThreadTS = threadTS
			inc.LastUpdate = s.now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) UpdateIncidentStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range s.incidents {
		if inc.ID == id {
			inc.Status = status
			inc.LastUpdate = s.now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) ListIncidents(_ context.Context, statuses []string, limit int) ([]*Incident, error) {
	if len(statuses) == 0 {
		statuses = OpenishStatuses
	}
	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Incident, 0)
	for _, inc := range s.incidents {
		if want[inc.Status] {
			cp := *inc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdate.After(out[j].LastUpdate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) RecordTicketEvent(_ context.Context, ev *TicketEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID
	s.nextID++
	ev.CreatedAt = s.now()
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

func (s *InMemoryStore) ListRecentEvents(_ context.Context, since time.Time, limit int) ([]*TicketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TicketEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].CreatedAt.Before(since) {
			continue
		}
		cp := *s.events[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountClusterEvents(_ context.Context, clusterKey string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.events {
		if ev.ClusterKey == clusterKey && !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) SeverityCounts(_ context.Context, since time.Time) ([]SeverityCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, ev := range s.events {
		if !ev.CreatedAt.Before(since) {
			counts[ev.SeverityBucket]++
		}
	}
	out := make([]SeverityCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, SeverityCount{Bucket: b, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (s *InMemoryStore) IntentCounts(_ context.Context, since time.Time, limit int) ([]IntentCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, ev := range s.events {
		if ev.Intent != "" && !ev.CreatedAt.Before(since) {
			counts[ev.Intent]++
		}
	}
	out := make([]IntentCount, 0, len(counts))
	for in, n := range counts {
		out = append(out, IntentCount{Intent: in, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) VolumeSeries(_ context.Context, since time.Time) ([]VolumePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[time.Time]int{}
	for _, ev := range s.events {
		if !ev.CreatedAt.Before(since) {
			counts[ev.CreatedAt.Truncate(24*time.Hour)]++
		}
	}
	out := make([]VolumePoint, 0, len(counts))
	for day, n := range counts {
		out = append(out, VolumePoint{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *InMemoryStore) CreateFeedback(_ context.Context, fb *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb.ID = s.nextID
	s.nextID++
	fb.CreatedAt = s.now()
	cp := *fb
	s.feedback = append(s.feedback, &cp)
	return nil
}

func (s *InMemoryStore) ListFeedback(_ context.Context, convID int64) ([]*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Feedback, 0)
	for i := len(s.feedback) - 1; i >= 0; i-- {
		if s.feedback[i].ConversationID == convID {
			cp := *s.feedback[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ClearFeedback(_ context.Context, convID int64, actionTypes []string) error {
	if len(actionTypes) == 0 {
		actionTypes = DismissalActions
	}
	drop := make(map[string]bool, len(actionTypes))
	for _, a := range actionTypes {
		drop[a] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.feedback[:0]
	for _, fb := range s.feedback {
		if fb.ConversationID == convID && drop[fb.ActionType] {
			continue
		}
		kept = append(kept, fb)
	}
	s.feedback = kept
	return nil
}

func (s *InMemoryStore) DismissedConversationIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int64]bool{}
	out := make([]int64, 0)
	for _, fb := range s.feedback {
		if (fb.ActionType == FeedbackSeen || fb.ActionType == FeedbackDismissed) && !seen[fb.ConversationID] {
			seen[fb.ConversationID] = true
			out = append(out, fb.ConversationID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *InMemoryStore) ListTagCorrections(_ context.Context) ([]enrich.StoredCorrection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]enrich.StoredCorrection, 0)
	for _, fb := range s.feedback {
		if fb.ActionType != FeedbackTagCorrection {
			continue
		}
		var payload struct {
			CorrectIntent   string `json:"correct_intent"`
			CorrectSeverity string `json:"correct_severity"`
		}
		if fb.Data != "" {
			if err := json.Unmarshal([]byte(fb.Data), &payload); err != nil {
				continue
			}
		}
		var subject, text string
		if c, ok := s.conversations[fb.ConversationID]; ok {
			subject = c.Subject
			text = c.LastText
		}
		out = append(out, enrich.StoredCorrection{
			Subject:         strings.TrimSpace(subject),
			Text:            text,
			CorrectIntent:   payload.CorrectIntent,
			CorrectSeverity: payload.CorrectSeverity,
		})
	}
	return out, nil
}

func (s *InMemoryStore) GetOAuthToken(_ context.Context) (*OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, ErrNotFound
	}
	cp := *s.token
	return &cp, nil
}

func (s *InMemoryStore) SaveOAuthToken(_ context.Context, t *OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.token = &cp
	return nil
}

var _ Store = (*InMemoryStore)(nil)
