// Package slack posts incident and ticket alerts to a channel and handles
// the interactive buttons that drive the incident lifecycle.
package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
)

// Poster is the slice of the Slack API the notifier uses; *slack.Client
// satisfies it, tests use a fake.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

var severityEmoji = map[string]string{
	triage.SeverityCritical: "🔴",
	triage.SeverityHigh:     "🟠",
	triage.SeverityMedium:   "🟡",
	triage.SeverityLow:      "🟢",
}

var intentLabels = map[string]string{
	"crash_report":      "🔥 App Crash",
	"bug_report":        "🐛 Bug",
	"billing_issue":     "💳 Billing",
	"delete_account":    "🚨 DELETE ACCOUNT",
	"lost_progress":     "💾 Progress Lost",
	"incomplete_ticket": "📭 Empty",
	"feedback":          "💬 Feedback",
	"unreadable":        "❓ Unreadable",
}

// Notifier posts alerts. A nil Notifier (Slack unconfigured) is a no-op.
type Notifier struct {
	api     Poster
	channel string
}

// NewNotifier returns nil when no bot token is configured; callers treat
// that as alerting disabled.
func NewNotifier(botToken, channel string) *Notifier {
	if strings.TrimSpace(botToken) == "" || strings.TrimSpace(channel) == "" {
		log.Warn().Msg("Slack alerting disabled: bot token or channel not configured")
		return nil
	}
	return &Notifier{api: slack.New(botToken), channel: channel}
}

// NewNotifierWithPoster wires a custom Poster, used by tests.
func NewNotifierWithPoster(api Poster, channel string) *Notifier {
	return &Notifier{api: api, channel: channel}
}

// TicketAlert is everything one ticket message shows.
type TicketAlert struct {
	Number       int
	Subject      string
	Severity     string
	Intent       string
	RootCause    string
	Summary      string
	Tags         []string
	HelpScoutURL string
	CustomerName string
	GameUserID   string
	Platform     string
	Device       string
	CreatedAt    time.Time
}

// SendTicketAlert posts one per-ticket message and returns its timestamp.
func (n *Notifier) SendTicketAlert(ctx context.Context, a TicketAlert) (string, error) {
	if n == nil {
		return "", nil
	}

	emoji := severityEmoji[strings.ToLower(a.Severity)]
	if emoji == "" {
		emoji = "⚪"
	}
	label := intentLabels[a.Intent]
	if label == "" {
		label = a.Intent
		if label == "" {
			label = "Support Ticket"
		}
	}
	title := fmt.Sprintf("%s: #%d", label, a.Number)

	headerFields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(a.Severity)), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Subject:*\n%s", clamp(a.Subject, 100)), false, false),
	}
	if !a.CreatedAt.IsZero() {
		headerFields = append(headerFields, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Time:*\n<!date^%d^{date_short} at {time}|%s>",
				a.CreatedAt.Unix(), a.CreatedAt.Format(time.RFC3339)), false, false))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(nil, headerFields, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Summary:* %s", clamp(a.Summary, 200)), false, false), nil, nil),
	}

	var contextElems []slack.MixedElement
	if a.Platform != "" {
		contextElems = append(contextElems, slack.NewTextBlockObject(slack.MarkdownType,
			"📱 *Platform:* "+a.Platform, false, false))
	}
	if a.Device != "" {
		contextElems = append(contextElems, slack.NewTextBlockObject(slack.MarkdownType,
			"💻 *Device:* "+a.Device, false, false))
	}
	if a.CustomerName != "" {
		contextElems = append(contextElems, slack.NewTextBlockObject(slack.MarkdownType,
			"👤 *Customer:* "+a.CustomerName, false, false))
	}
	if a.GameUserID != "" {
		contextElems = append(contextElems, slack.NewTextBlockObject(slack.MarkdownType,
			"🆔 *UserID:* `"+a.GameUserID+"`", false, false))
	}
	if len(contextElems) > 0 {
		blocks = append(blocks, slack.NewContextBlock("", contextElems...))
	}
	if len(a.Tags) > 0 {
		tags := a.Tags
		if len(tags) > 8 {
			tags = tags[:8]
		}
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "🏷️ "+strings.Join(tags, ", "), false, false)))
	}
	if a.HelpScoutURL != "" {
		open := slack.NewButtonBlockElement("open_hs",
			"", slack.NewTextBlockObject(slack.PlainTextType, "Open in Help Scout", false, false))
		open.URL = a.HelpScoutURL
		open.Style = slack.StylePrimary
		blocks = append(blocks, slack.NewActionBlock("", open))
	}

	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fmt.Sprintf("%s: #%d - %s", label, a.Number, a.Subject), false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return "", fmt.Errorf("slack ticket alert: %w", err)
	}
	return ts, nil
}

// PostIncident opens the parent alert thread for an incident and returns
// its channel and thread timestamp.
func (n *Notifier) PostIncident(ctx context.Context, inc *store.Incident, categories []string, e triage.Entities, z, cusum float64, summary string) (channel, ts string, err error) {
	if n == nil {
		return "", "", nil
	}

	title := fmt.Sprintf("%s · %s", strings.ToUpper(inc.SeverityBucket), clamp(inc.Signature, 120))
	level := "-"
	if e.Level != nil {
		level = fmt.Sprintf("%d", *e.Level)
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Severity:* %s (%d)", inc.SeverityBucket, inc.SeverityScore), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Z:* %.2f  ·  *CUSUM:* %.2f", z, cusum), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			"*Cats:* "+strings.Join(categories, ", "), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Ctx:* lv=%s plat=%s app=%s", level, e.Platform, e.AppVersion), false, false),
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if summary != "" {
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(
			slack.MarkdownType, "*LLM summary:* "+summary, false, false), nil, nil))
	}

	ack := slack.NewButtonBlockElement(ActionAck, fmt.Sprintf("%d", inc.ID),
		slack.NewTextBlockObject(slack.PlainTextType, "Acknowledge", false, false))
	mute := slack.NewButtonBlockElement(ActionMute24h, fmt.Sprintf("%d", inc.ID),
		slack.NewTextBlockObject(slack.PlainTextType, "Mute 24h", false, false))
	mute.Style = slack.StyleDanger
	resolve := slack.NewButtonBlockElement(ActionResolve, fmt.Sprintf("%d", inc.ID),
		slack.NewTextBlockObject(slack.PlainTextType, "Resolve", false, false))
	resolve.Style = slack.StylePrimary
	blocks = append(blocks, slack.NewActionBlock("", ack, mute, resolve))

	ch, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(title, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return "", "", fmt.Errorf("slack incident alert: %w", err)
	}
	return ch, ts, nil
}

// PostIncidentUpdate appends a short status line to the incident thread.
func (n *Notifier) PostIncidentUpdate(ctx context.Context, inc *store.Incident, z, cusum float64) error {
	if n == nil || inc.SlackThreadTS == "" {
		return nil
	}
	channel := inc.SlackChannelID
	if channel == "" {
		channel = n.channel
	}
	txt := fmt.Sprintf("Update · sev=%s(%d) · z=%.2f cusum=%.2f",
		inc.SeverityBucket, inc.SeverityScore, z, cusum)
	_, _, err := n.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(txt, false),
		slack.MsgOptionTS(inc.SlackThreadTS),
	)
	if err != nil {
		return fmt.Errorf("slack incident update: %w", err)
	}
	return nil
}

func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
