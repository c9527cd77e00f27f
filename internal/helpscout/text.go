package helpscout

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// stripPolicy removes every HTML element, leaving plain text.
var stripPolicy = bluemonday.StrictPolicy()

var (
	gameUserIDRe = regexp.MustCompile(`(?i)user\s*id\s*[=:]\s*([a-f0-9]{24})`)
	idLikeRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)user\s*id\s*[=:]\s*([A-Za-z0-9\-]{6,})`),
		regexp.MustCompile(`(?i)userid\s*[=:]\s*([A-Za-z0-9\-]{6,})`),
		regexp.MustCompile(`(?i)distinct[_\s-]*id\s*[=:]\s*([A-Za-z0-9\-]{6,})`),
	}
	multiSpaceRe = regexp.MustCompile(`[ \t]+`)
)

// maxConversationText caps extremely long threads before enrichment.
const maxConversationText = 20000

// StripHTML removes markup and unescapes entities.
func StripHTML(s string) string {
	text := html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
}

// Conversation is the subset of the Help Scout conversation resource the
// pipeline reads.
type Conversation struct {
	ID              int64     `json:"id"`
	Number          int       `json:"number"`
	Subject         string    `json:"subject"`
	Tags            []Tag     `json:"tags"`
	PrimaryCustomer Customer  `json:"primaryCustomer"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"userUpdatedAt"`
	Embedded        struct {
		Threads []Thread `json:"threads"`
	} `json:"_embedded"`
}

type Tag struct {
	Tag string `json:"tag"`
}

type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type Thread struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Body      string `json:"body"`
	HTML      string `json:"html"`
	CreatedBy struct {
		Type string `json:"type"` // "customer" or "user" (agent)
	} `json:"createdBy"`
}

// TagNames returns the plain tag strings.
func (c *Conversation) TagNames() []string {
	out := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		if t.Tag != "" {
			out = append(out, t.Tag)
		}
	}
	return out
}

// ExtractText concatenates the subject and every thread body (customer and
// agent, for full context), HTML stripped, capped at maxConversationText.
func ExtractText(c *Conversation) string {
	parts := make([]string, 0, len(c.Embedded.Threads))
	for _, t := range c.Embedded.Threads {
		var body string
		switch {
		case t.Text != "":
			body = t.Text
		case t.Body != "":
			body = t.Body
		case t.HTML != "":
			body = StripHTML(t.HTML)
		}
		body = strings.TrimSpace(StripHTML(body))
		if body != "" {
			parts = append(parts, body)
		}
	}
	full := strings.TrimSpace(c.Subject + "\n" + strings.Join(parts, "\n---\n"))
	if len(full) > maxConversationText {
		full = full[:maxConversationText]
	}
	return full
}

// AgentReplied reports whether any thread was authored by an agent. Alerts
// are suppressed for conversations an agent is already handling.
func AgentReplied(c *Conversation) bool {
	for _, t := range c.Embedded.Threads {
		if t.CreatedBy.Type == "user" {
			return true
		}
	}
	return false
}

// ExtractGameUserID finds the 24-hex-char game account id in ticket text,
// falling back to looser id-like patterns.
func ExtractGameUserID(text string) string {
	if m := gameUserIDRe.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1])
	}
	for _, re := range idLikeRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractConversationID pulls the conversation id out of a webhook payload,
// which Help Scout delivers in several shapes.
func ExtractConversationID(payload []byte) int64 {
	var doc struct {
		ID             int64 `json:"id"`
		ConversationID int64 `json:"conversationId"`
		ConvID         int64 `json:"conversation_id"`
		Event          struct {
			ID int64 `json:"id"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return 0
	}
	switch {
	case doc.ID != 0:
		return doc.ID
	case doc.ConversationID != 0:
		return doc.ConversationID
	case doc.ConvID != 0:
		return doc.ConvID
	default:
		return doc.Event.ID
	}
}
