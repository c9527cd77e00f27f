package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
)

type fakePoster struct {
	calls    int
	channels []string
	options  [][]slack.MsgOption
	err      error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channel string, options ...slack.MsgOption) (string, string, error) {
	f.calls++
	f.channels = append(f.channels, channel)
	f.options = append(f.options, options)
	if f.err != nil {
		return "", "", f.err
	}
	return channel, fmt.Sprintf("1724670000.%06d", f.calls), nil
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *Notifier
	ts, err := n.SendTicketAlert(context.Background(), TicketAlert{Number: 1})
	require.NoError(t, err)
	assert.Empty(t, ts)

	_, _, err = n.PostIncident(context.Background(), &store.Incident{}, nil, triage.Entities{}, 0, 0, "")
	require.NoError(t, err)
}

func TestNewNotifierDisabledWithoutToken(t *testing.T) {
	assert.Nil(t, NewNotifier("", "#alerts"))
	assert.Nil(t, NewNotifier("xoxb-token", ""))
	assert.NotNil(t, NewNotifier("xoxb-token", "#alerts"))
}

func TestSendTicketAlert(t *testing.T) {
	fake := &fakePoster{}
	n := NewNotifierWithPoster(fake, "#support-alerts")

	ts, err := n.SendTicketAlert(context.Background(), TicketAlert{
		Number:       4217,
		Subject:      "Game crashes on level 42",
		Severity:     "high",
		Intent:       "crash_report",
		Summary:      "Player reports repeated crashes after the latest update.",
		Tags:         []string{"tag:critical_crash", "platform:android"},
		HelpScoutURL: "https://secure.helpscout.net/conversation/123",
		Platform:     "android",
		GameUserID:   "5f1a2b3c4d5e6f7a8b9c0d1e",
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ts)
	require.Equal(t, 1, fake.calls)
	assert.Equal(t, "#support-alerts", fake.channels[0])
}

func TestPostIncidentAndUpdate(t *testing.T) {
	fake := &fakePoster{}
	n := NewNotifierWithPoster(fake, "#support-alerts")
	lv := 42

	inc := &store.Incident{
		ID:             7,
		Signature:      "ab12cd34",
		SeverityBucket: "critical",
		SeverityScore:  81,
	}
	ch, ts, err := n.PostIncident(context.Background(), inc,
		[]string{"crash", "progress_lost"},
		triage.Entities{Level: &lv, Platform: "ios", AppVersion: "2.15.3"},
		3.7, 2.1, "Crash spike on iOS 2.15.3")
	require.NoError(t, err)
	assert.Equal(t, "#support-alerts", ch)
	require.NotEmpty(t, ts)

	inc.SlackChannelID = ch
	inc.SlackThreadTS = ts
	require.NoError(t, n.PostIncidentUpdate(context.Background(), inc, 4.1, 2.8))
	assert.Equal(t, 2, fake.calls)
}

func TestPostIncidentUpdateSkipsWithoutThread(t *testing.T) {
	fake := &fakePoster{}
	n := NewNotifierWithPoster(fake, "#support-alerts")
	require.NoError(t, n.PostIncidentUpdate(context.Background(), &store.Incident{ID: 9}, 1, 1))
	assert.Zero(t, fake.calls)
}

func signedHeaders(t *testing.T, secret string, body []byte) http.Header {
	t.Helper()
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func interactionBody(t *testing.T, actionID, channelID, messageTS string) []byte {
	t.Helper()
	payload := fmt.Sprintf(`{
        "type": "block_actions",
        "user": {"id": "U123", "name": "oncall"},
        "channel": {"id": %q},
        "message": {"ts": %q},
        "actions": [{"block_id": "incident_actions", "action_id": %q, "value": "7"}]
    }`, channelID, messageTS, actionID)
	form := url.Values{"payload": {payload}}
	return []byte(form.Encode())
}

func TestVerifyAndParse(t *testing.T) {
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := interactionBody(t, ActionAck, "C123", "1724670000.000001")

	cb, err := VerifyAndParse(secret, signedHeaders(t, secret, body), body)
	require.NoError(t, err)
	assert.Equal(t, "C123", cb.Channel.ID)
	require.Len(t, cb.ActionCallback.BlockActions, 1)
	assert.Equal(t, ActionAck, cb.ActionCallback.BlockActions[0].ActionID)
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	body := interactionBody(t, ActionAck, "C123", "1724670000.000001")
	_, err := VerifyAndParse("right-secret", signedHeaders(t, "wrong-secret", body), body)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHandleActionUpdatesIncident(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	inc, err := st.UpsertOpenIncident(ctx, "deadbeef", "high", 45)
	require.NoError(t, err)
	require.NoError(t, st.SetIncidentThread(ctx, inc.ID, "C123", "1724670000.000001"))

	for action, want := range map[string]string{
		ActionAck:     store.IncidentAck,
		ActionMute24h: store.IncidentMuted,
		ActionResolve: store.IncidentResolved,
	} {
		body := interactionBody(t, action, "C123", "1724670000.000001")
		cb, err := VerifyAndParse("", nil, body)
		require.NoError(t, err)

		reply, err := HandleAction(ctx, st, cb)
		require.NoError(t, err)
		assert.Contains(t, reply, want)

		got, err := st.GetIncident(ctx, inc.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}

func TestHandleActionUnknownThread(t *testing.T) {
	body := interactionBody(t, ActionAck, "C999", "0.0")
	cb, err := VerifyAndParse("", nil, body)
	require.NoError(t, err)

	reply, err := HandleAction(context.Background(), store.NewInMemoryStore(), cb)
	require.NoError(t, err)
	assert.Empty(t, reply)
}
