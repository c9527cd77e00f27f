package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
)

// Button action IDs on the incident message.
const (
	ActionAck     = "ack"
	ActionMute24h = "mute_24h"
	ActionResolve = "resolve"
)

var actionStatus = map[string]string{
	ActionAck:     store.IncidentAck,
	ActionMute24h: store.IncidentMuted,
	ActionResolve: store.IncidentResolved,
}

// ErrBadSignature is returned when the request did not come from Slack.
var ErrBadSignature = errors.New("slack signature mismatch")

// VerifyAndParse checks the v0 request signature against the signing secret
// and decodes the interaction payload. The raw body must be the urlencoded
// form as received, before any parsing consumed it.
func VerifyAndParse(signingSecret string, header http.Header, body []byte) (*slack.InteractionCallback, error) {
	if signingSecret != "" {
		verifier, err := slack.NewSecretsVerifier(header, signingSecret)
		if err != nil {
			return nil, fmt.Errorf("slack verifier: %w", err)
		}
		if _, err := verifier.Write(body); err != nil {
			return nil, fmt.Errorf("slack verifier: %w", err)
		}
		if err := verifier.Ensure(); err != nil {
			return nil, ErrBadSignature
		}
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse interaction form: %w", err)
	}
	payload := form.Get("payload")
	if payload == "" {
		return nil, errors.New("interaction payload missing")
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &cb); err != nil {
		return nil, fmt.Errorf("decode interaction payload: %w", err)
	}
	return &cb, nil
}

// HandleAction maps a button press onto the incident's lifecycle status and
// returns the replacement text for the thread. Unknown actions are ignored.
func HandleAction(ctx context.Context, st store.Store, cb *slack.InteractionCallback) (string, error) {
	if len(cb.ActionCallback.BlockActions) == 0 {
		return "", nil
	}
	action := cb.ActionCallback.BlockActions[0]
	status, ok := actionStatus[action.ActionID]
	if !ok {
		return "", nil
	}

	inc, err := st.FindIncidentByThread(ctx, cb.Channel.ID, cb.Message.Timestamp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().
				Str("channel", cb.Channel.ID).
				Str("ts", cb.Message.Timestamp).
				Msg("interaction for unknown incident thread")
			return "", nil
		}
		return "", err
	}
	if err := st.UpdateIncidentStatus(ctx, inc.ID, status); err != nil {
		return "", err
	}

	log.Info().
		Int64("incident_id", inc.ID).
		Str("status", status).
		Str("user", cb.User.Name).
		Msg("incident status changed from Slack")
	return fmt.Sprintf("Incident #%d set to *%s* by <@%s>", inc.ID, status, cb.User.ID), nil
}
