package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dotan-Peleh/hs-automation/internal/notify"
	"github.com/Dotan-Peleh/hs-automation/internal/store"
)

type fakeQueue struct {
	conversations []int64
	backfills     []int
	reindexes     []int
}

func (f *fakeQueue) EnqueueConversation(_ context.Context, convID int64) error {
	f.conversations = append(f.conversations, convID)
	return nil
}

func (f *fakeQueue) EnqueueBackfill(_ context.Context, maxPages int) error {
	f.backfills = append(f.backfills, maxPages)
	return nil
}

func (f *fakeQueue) EnqueueReindex(_ context.Context, limit int) error {
	f.reindexes = append(f.reindexes, limit)
	return nil
}

func newTestServer(t *testing.T, secret string) (*Server, *store.InMemoryStore, *fakeQueue) {
	t.Helper()
	st := store.NewInMemoryStore()
	q := &fakeQueue{}
	s := NewServer("127.0.0.1", 0, Deps{
		Store:           st,
		Queue:           q,
		Hub:             notify.NewHub(),
		HelpScoutSecret: secret,
	})
	return s, st, q
}

func doRequest(s *Server, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if header != nil {
		req.Header = header
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(s, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func hsSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookEnqueuesConversation(t *testing.T) {
	s, _, q := newTestServer(t, "whsecret")
	body := []byte(`{"id": 4217, "type": "conversation"}`)

	h := http.Header{}
	h.Set("X-HelpScout-Signature", hsSignature("whsecret", body))
	rec := doRequest(s, http.MethodPost, "/helpscout/webhook", body, h)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{4217}, q.conversations)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s, _, q := newTestServer(t, "whsecret")
	body := []byte(`{"id": 4217}`)

	h := http.Header{}
	h.Set("X-HelpScout-Signature", hsSignature("other-secret", body))
	rec := doRequest(s, http.MethodPost, "/helpscout/webhook", body, h)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, q.conversations)
}

func TestWebhookWithoutSecretSkipsVerification(t *testing.T) {
	s, _, q := newTestServer(t, "")
	rec := doRequest(s, http.MethodPost, "/helpscout/webhook", []byte(`{"id": 9}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{9}, q.conversations)
}

func TestWebhookIgnoresUnknownPayload(t *testing.T) {
	s, _, q := newTestServer(t, "")
	rec := doRequest(s, http.MethodPost, "/helpscout/webhook", []byte(`{"ping": true}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, q.conversations, "non-conversation pings are acknowledged, not queued")
}

func TestPreviewClassifiesText(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	target := "/admin/preview?text=" + url.QueryEscape("Game crash on level 42, android v2.15.3, cannot play")
	rec := doRequest(s, http.MethodGet, target, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Categories    []string `json:"categories"`
		SeverityScore int      `json:"severity_score"`
		Bucket        string   `json:"bucket"`
		ClusterKey    string   `json:"cluster_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Categories, "bug")
	assert.NotEmpty(t, out.Bucket)
	assert.Len(t, out.ClusterKey, 32)
	assert.Greater(t, out.SeverityScore, 0)
}

func TestTicketFeedbackUpdatesEnrichmentAndStoresCorrection(t *testing.T) {
	s, st, _ := newTestServer(t, "")
	ctx := context.Background()

	require.NoError(t, st.UpsertConversation(ctx, &store.Conversation{
		ID: 55, Number: 1055, Subject: "Wrong tag", LastText: "some text", UpdatedAt: time.Now(),
	}))
	require.NoError(t, st.UpsertEnrichment(ctx, &store.Enrichment{
		ConvID: 55, Intent: "feedback", SeverityBucket: "low",
	}))

	body := []byte(`{"conv_id": 55, "correct_intent": "bug_report", "correct_severity": "high"}`)
	h := http.Header{}
	h.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(s, http.MethodPost, "/admin/ticket/feedback", body, h)
	require.Equal(t, http.StatusOK, rec.Code)

	e, err := st.GetEnrichment(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, "bug_report", e.Intent)
	assert.Equal(t, "high", e.SeverityBucket)

	corrections, err := st.ListTagCorrections(ctx)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, "bug_report", corrections[0].CorrectIntent)
}

func TestStatsCountsIncidents(t *testing.T) {
	s, st, _ := newTestServer(t, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.UpsertOpenIncident(ctx, fmt.Sprintf("cluster-%d", i), "high", 50)
		require.NoError(t, err)
	}
	inc, err := st.UpsertOpenIncident(ctx, "cluster-resolved", "low", 10)
	require.NoError(t, err)
	require.NoError(t, st.UpdateIncidentStatus(ctx, inc.ID, store.IncidentResolved))

	rec := doRequest(s, http.MethodGet, "/admin/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
		ByBucket map[string]int `json:"by_bucket"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 3, out.ByStatus["open"])
	assert.Equal(t, 1, out.ByStatus["resolved"])
	assert.Equal(t, 3, out.ByBucket["high"])
}

func TestBackfillEnqueues(t *testing.T) {
	s, _, q := newTestServer(t, "")
	rec := doRequest(s, http.MethodPost, "/admin/backfill?pages=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{3}, q.backfills)

	// browser-friendly GET triggers the same enqueue
	rec = doRequest(s, http.MethodGet, "/admin/backfill?pages=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{3, 2}, q.backfills)
}

func TestVolumeComparesWindows(t *testing.T) {
	s, st, _ := newTestServer(t, "")
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, st.UpsertConversation(ctx, &store.Conversation{ID: id}))
	}

	rec := doRequest(s, http.MethodGet, "/admin/volume?hours=1&compare=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Current  int      `json:"current"`
		Previous int      `json:"previous"`
		Delta    int      `json:"delta"`
		DeltaPct *float64 `json:"delta_pct"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.Current)
	assert.Equal(t, 0, out.Previous)
	assert.Equal(t, 3, out.Delta)
	assert.Nil(t, out.DeltaPct, "percentage is undefined against an empty previous window")
}

func TestInsightsFeed(t *testing.T) {
	s, st, _ := newTestServer(t, "")
	ctx := context.Background()

	require.NoError(t, st.UpsertConversation(ctx, &store.Conversation{
		ID: 1, Number: 2001, Subject: "Game crashes on level 42",
		LastText: "the app crash happens every time, android v2.15.3",
	}))
	require.NoError(t, st.UpsertConversation(ctx, &store.Conversation{
		ID: 2, Number: 2002, Subject: "Love the game",
		LastText: "just wanted to say this is the best game ever",
	}))
	require.NoError(t, st.CreateFeedback(ctx, &store.Feedback{
		ConversationID: 2, ActionType: store.FeedbackDismissed,
	}))

	rec := doRequest(s, http.MethodGet, "/admin/insights?hours=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Recommendations []struct {
			ConvID         int64    `json:"conv_id"`
			Number         int      `json:"number"`
			SeverityBucket string   `json:"severity_bucket"`
			SuggestedTags  []string `json:"suggested_tags"`
			IsDismissed    bool     `json:"is_dismissed"`
		} `json:"recommendations"`
		Total         int `json:"total"`
		IssueAnalysis struct {
			Severities []struct {
				Name  string `json:"name"`
				Count int    `json:"count"`
			} `json:"severities"`
		} `json:"issue_analysis"`
		PriorityIssue map[string]any `json:"priority_issue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Total)
	require.Len(t, out.Recommendations, 2)

	// newest ticket number first
	assert.Equal(t, 2002, out.Recommendations[0].Number)
	assert.True(t, out.Recommendations[0].IsDismissed, "dismissed tickets stay visible, marked done")

	crash := out.Recommendations[1]
	assert.Equal(t, "high", crash.SeverityBucket, "crash reports escalate to high")
	assert.Contains(t, crash.SuggestedTags, "sev:high")
	assert.Contains(t, crash.SuggestedTags, "intent:bug_report")
	assert.NotNil(t, out.PriorityIssue)
}

func TestInsightsPaging(t *testing.T) {
	s, st, _ := newTestServer(t, "")
	ctx := context.Background()
	for id := int64(1); id <= 5; id++ {
		require.NoError(t, st.UpsertConversation(ctx, &store.Conversation{
			ID: id, Number: 3000 + int(id), Subject: "bug report", LastText: "found a bug",
		}))
	}

	rec := doRequest(s, http.MethodGet, "/admin/insights?hours=1&page=2&page_size=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Recommendations []struct {
			Number int `json:"number"`
		} `json:"recommendations"`
		Total int `json:"total"`
		Page  int `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 2, out.Page)
	require.Len(t, out.Recommendations, 2)
	assert.Equal(t, 3003, out.Recommendations[0].Number)
	assert.Equal(t, 3002, out.Recommendations[1].Number)
}

func TestUnmarkAndDismissedList(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	h := http.Header{}
	h.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(s, http.MethodPost, "/admin/ticket/mark_seen", []byte(`{"conv_id": 77}`), h)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/admin/ticket/dismissed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Dismissed []int64 `json:"dismissed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []int64{77}, out.Dismissed)

	h = http.Header{}
	h.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = doRequest(s, http.MethodPost, "/admin/ticket/unmark", []byte(`{"conv_id": 77}`), h)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/admin/ticket/dismissed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out.Dismissed)
}

func TestPollReturnsBufferedEvents(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	s.deps.Hub.Publish("new_message", map[string]any{"conv_id": int64(7)})

	rec := doRequest(s, http.MethodGet, "/admin/poll", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Updates []notify.Event `json:"updates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Updates, 1)
	assert.Equal(t, "new_message", out.Updates[0].Type)

	// a second poll from the last id yields nothing new
	rec = doRequest(s, http.MethodGet, "/admin/poll?last_id="+out.Updates[0].ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out.Updates)
}

func TestVectorSearchDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(s, http.MethodGet, "/admin/vector_search?q=crash", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "disabled"))
}
