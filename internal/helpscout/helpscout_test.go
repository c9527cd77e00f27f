package helpscout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
)

func TestExtractText(t *testing.T) {
	conv := &Conversation{
		ID:      42,
		Subject: "Crash on level 12",
	}
	conv.Embedded.Threads = []Thread{
		{Text: "the game crashes when I open the shop"},
		{HTML: "<p>Thanks for reporting, <b>we are looking into it</b></p>"},
		{Body: ""},
	}

	text := ExtractText(conv)
	assert.Contains(t, text, "Crash on level 12")
	assert.Contains(t, text, "the game crashes when I open the shop")
	assert.Contains(t, text, "we are looking into it")
	assert.NotContains(t, text, "<p>")
	assert.Contains(t, text, "---", "threads are separated")
}

func TestExtractTextCapsLength(t *testing.T) {
	conv := &Conversation{Subject: "s"}
	long := make([]byte, 30000)
	for i := range long {
		long[i] = 'a'
	}
	conv.Embedded.Threads = []Thread{{Text: string(long)}}

	assert.LessOrEqual(t, len(ExtractText(conv)), maxConversationText)
}

func TestAgentReplied(t *testing.T) {
	conv := &Conversation{}
	conv.Embedded.Threads = []Thread{{Text: "help"}}
	conv.Embedded.Threads[0].CreatedBy.Type = "customer"
	assert.False(t, AgentReplied(conv))

	reply := Thread{Text: "on it"}
	reply.CreatedBy.Type = "user"
	conv.Embedded.Threads = append(conv.Embedded.Threads, reply)
	assert.True(t, AgentReplied(conv))
}

func TestExtractGameUserID(t *testing.T) {
	assert.Equal(t, "507f1f77bcf86cd799439011",
		ExtractGameUserID("User ID = 507F1F77BCF86CD799439011\nOS: iOS"))
	assert.Equal(t, "abc-123456", ExtractGameUserID("userid: abc-123456"))
	assert.Empty(t, ExtractGameUserID("no ids here"))
}

func TestExtractConversationID(t *testing.T) {
	assert.Equal(t, int64(77), ExtractConversationID([]byte(`{"id": 77}`)))
	assert.Equal(t, int64(88), ExtractConversationID([]byte(`{"conversationId": 88}`)))
	assert.Equal(t, int64(99), ExtractConversationID([]byte(`{"event": {"id": 99}}`)))
	assert.Equal(t, int64(0), ExtractConversationID([]byte(`not json`)))
	assert.Equal(t, int64(0), ExtractConversationID([]byte(`{"other": 1}`)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"id": 1}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyWebhookSignature("secret", body, good))
	assert.False(t, VerifyWebhookSignature("secret", body, "bad"))
	assert.False(t, VerifyWebhookSignature("secret", body, ""))
	assert.True(t, VerifyWebhookSignature("", body, ""), "verification skipped without a secret")
}

func TestFetchConversationWithPAT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "Basic ")
		assert.Equal(t, "/conversations/42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "subject": "hello"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, PAT: "pat-key"}, store.NewInMemoryStore())
	conv, err := c.FetchConversation(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.ID)
	assert.Equal(t, "hello", conv.Subject)
}

func TestFetchConversationRefreshesOn401(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "fresh", "refresh_token": "r2", "expires_in": 3600,
			})
		default:
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"id": 42})
		}
	}))
	defer srv.Close()

	tokens := store.NewInMemoryStore()
	require.NoError(t, tokens.SaveOAuthToken(context.Background(), &store.OAuthToken{
		AccessToken: "stale", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	c := NewClient(Config{BaseURL: srv.URL, AppID: "app", AppSecret: "sec"}, tokens)
	conv, err := c.FetchConversation(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.ID)

	tok, err := tokens.GetOAuthToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken, "refreshed token must be persisted")
}

func TestEnsureTagsMergesExisting(t *testing.T) {
	var putBody struct {
		Tags []string `json:"tags"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"id": 1, "tags": []map[string]string{{"tag": "vip"}},
			})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, PAT: "k"}, store.NewInMemoryStore())
	require.NoError(t, c.EnsureTags(context.Background(), 1, []string{"sev:high", "vip"}))

	assert.ElementsMatch(t, []string{"vip", "sev:high"}, putBody.Tags, "existing tags survive the merge")
}
