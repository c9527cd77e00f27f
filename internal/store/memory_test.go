package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertConversationOverwrites(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertConversation(ctx, &Conversation{ID: 1, Subject: "first"}))
	require.NoError(t, s.UpsertConversation(ctx, &Conversation{ID: 1, Subject: "second", Tags: "crash"}))

	c, err := s.GetConversation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", c.Subject)
	assert.Equal(t, "crash", c.Tags)

	_, err = s.GetConversation(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertOpenIncidentReusesOpenish(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first, err := s.UpsertOpenIncident(ctx, "cluster-1", "medium", 30)
	require.NoError(t, err)
	assert.Equal(t, IncidentOpen, first.Status)

	require.NoError(t, s.UpdateIncidentStatus(ctx, first.ID, IncidentAck))

	second, err := s.UpsertOpenIncident(ctx, "cluster-1", "high", 60)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "acked incident is still live and must be reused")
	assert.Equal(t, "high", second.SeverityBucket)
	assert.Equal(t, 60, second.SeverityScore)
}

func TestUpsertOpenIncidentNewAfterResolve(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first, err := s.UpsertOpenIncident(ctx, "cluster-1", "medium", 30)
	require.NoError(t, err)
	require.NoError(t, s.UpdateIncidentStatus(ctx, first.ID, IncidentResolved))

	second, err := s.UpsertOpenIncident(ctx, "cluster-1", "medium", 30)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "resolved incidents do not block a new one")
}

func TestFindIncidentByThread(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	inc, err := s.UpsertOpenIncident(ctx, "c", "high", 50)
	require.NoError(t, err)
	require.NoError(t, s.SetIncidentThread(ctx, inc.ID, "C123", "1700000000.1"))

	found, err := s.FindIncidentByThread(ctx, "C123", "1700000000.1")
	require.NoError(t, err)
	assert.Equal(t, inc.ID, found.ID)

	_, err = s.FindIncidentByThread(ctx, "C123", "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTicketEventQueries(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		base = base.Add(time.Hour)
		require.NoError(t, s.RecordTicketEvent(ctx, &TicketEvent{
			ConvID: int64(i), ClusterKey: "k1", SeverityBucket: "high", Intent: "bug_report",
		}))
	}
	base = base.Add(time.Hour)
	require.NoError(t, s.RecordTicketEvent(ctx, &TicketEvent{
		ConvID: 9, ClusterKey: "k2", SeverityBucket: "low", Intent: "feedback",
	}))

	n, err := s.CountClusterEvents(ctx, "k1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := s.ListRecentEvents(ctx, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(9), events[0].ConvID, "most recent first")

	sev, err := s.SeverityCounts(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SeverityCount{Bucket: "high", Count: 3}, sev[0])

	intents, err := s.IntentCounts(ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Equal(t, IntentCount{Intent: "bug_report", Count: 3}, intents[0])
}

func TestCountConversationsBetween(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{0, 2 * time.Hour, 30 * time.Hour} {
		at := base.Add(-age)
		s.now = func() time.Time { return at }
		require.NoError(t, s.UpsertConversation(ctx, &Conversation{ID: int64(i + 1)}))
	}

	n, err := s.CountConversationsBetween(ctx, base.Add(-24*time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "zero upper bound counts everything since `from`")

	n, err = s.CountConversationsBetween(ctx, base.Add(-24*time.Hour), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "upper bound is exclusive")
}

func TestDismissalLifecycle(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateFeedback(ctx, &Feedback{ConversationID: 10, ActionType: FeedbackDismissed}))
	require.NoError(t, s.CreateFeedback(ctx, &Feedback{ConversationID: 11, ActionType: FeedbackSeen}))
	require.NoError(t, s.CreateFeedback(ctx, &Feedback{ConversationID: 11, ActionType: FeedbackTagCorrection, Data: `{"correct_intent":"bug_report"}`}))

	ids, err := s.DismissedConversationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, ids)

	require.NoError(t, s.ClearFeedback(ctx, 11, DismissalActions))
	ids, err = s.DismissedConversationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids)

	// Corrections survive an unmark; only seen/dismissed rows are cleared.
	fbs, err := s.ListFeedback(ctx, 11)
	require.NoError(t, err)
	require.Len(t, fbs, 1)
	assert.Equal(t, FeedbackTagCorrection, fbs[0].ActionType)
}

func TestListTagCorrections(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertConversation(ctx, &Conversation{ID: 7, Subject: "Crash on level 5", LastText: "game crashed at level 5"}))
	require.NoError(t, s.CreateFeedback(ctx, &Feedback{
		ConversationID: 7, ActionType: FeedbackTagCorrection,
		Data: `{"correct_intent":"crash_report","correct_severity":"high"}`,
	}))
	require.NoError(t, s.CreateFeedback(ctx, &Feedback{ConversationID: 7, ActionType: FeedbackSeen}))

	corrections, err := s.ListTagCorrections(ctx)
	require.NoError(t, err)
	require.Len(t, corrections, 1, "only tag_correction actions are learning input")
	assert.Equal(t, "crash_report", corrections[0].CorrectIntent)
	assert.Equal(t, "Crash on level 5", corrections[0].Subject)
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, err := s.GetOAuthToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveOAuthToken(ctx, &OAuthToken{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}))

	tok, err := s.GetOAuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, exp, tok.ExpiresAt)
}
