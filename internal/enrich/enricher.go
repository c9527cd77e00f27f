package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/Dotan-Peleh/hs-automation/internal/llm"
	"github.com/Dotan-Peleh/hs-automation/internal/retry"
)

// Enrichment is the structured classification for one ticket.
type Enrichment struct {
	Summary   string   `json:"summary"`
	RootCause string   `json:"root_cause"`
	Intent    string   `json:"intent"`
	Tags      []string `json:"tags"`
}

// Correction is a reviewer's fix of a bad classification, replayed to the
// model as a few-shot example.
type Correction struct {
	Text            string `json:"text"`
	CorrectIntent   string `json:"correct_intent"`
	CorrectSeverity string `json:"correct_severity"`
	Notes           string `json:"notes,omitempty"`
}

// Client is the minimal completion surface the enricher needs; tests plug in
// a fake, production uses AnthropicClient.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const systemPrompt = `You are an expert support analyst for a gaming company. Your task is to analyze a user's support ticket and provide a structured JSON output.

CRITICAL: You MUST respond with ONLY valid JSON. No explanations, no prose, ONLY JSON.

Required JSON format:
{
  "root_cause": "brief description of the fundamental issue",
  "intent": "user_goal_as_snake_case",
  "tags": ["keyword1", "keyword2", "keyword3"],
  "summary": "One sentence under 15 words describing the specific user problem"
}

SUMMARY RULES - USE USER'S ACTUAL WORDS:
1. Extract what the user ACTUALLY wrote, not the subject line
2. Beta feedback emails: Ignore subject, extract the real feedback message
3. Example: Subject 'A user has written new beta feedback...' + Body 'good game' -> summary: 'good game'
4. Quote user's exact words when short and clear
5. For complaints/issues: Extract the specific problem they describe

IMPORTANT DISTINCTIONS:
- Use root_cause "game crashing on launch" for app crashes (app closes/stops working)
- Use root_cause "gameplay bug/glitch" for bugs that don't crash the app (items missing, wrong behavior, etc.)
- Use root_cause "app freezing/stuck" for UI freezes (app doesn't crash but stops responding)
- If a ticket contains ONLY structured data (like UserID, OS, Device) and NO actual message from the user, use intent "incomplete_ticket". DO NOT invent a problem.

Valid intent values:
- bug_report: for bugs/glitches that don't crash the app
- crash_report: for app crashes/force closes
- billing_issue: payment/purchase/refund problems
- delete_account: for requests to delete an account or cancel a subscription
- lost_progress: save data lost
- feedback: general feedback/compliments
- question: how-to questions
- incomplete_ticket: for empty messages or tickets with only structured data (UserID, OS, etc.)
- unreadable: for messages that are incomprehensible, gibberish, or cannot be understood

Output ONLY the JSON object. No other text.`

// maxFewShot caps how many corrections are replayed per request.
const maxFewShot = 3

// Enricher turns ticket text into an Enrichment via the model client.
type Enricher struct {
	client      Client
	promptLimit int
	retryCfg    retry.Config
}

func NewEnricher(client Client) *Enricher {
	return &Enricher{
		client:      client,
		promptLimit: llm.DefaultPromptLimit,
		retryCfg:    retry.LLMConfig(),
	}
}

// Enabled reports whether a model client is configured. Without one the
// pipeline runs rule-only.
func (e *Enricher) Enabled() bool { return e != nil && e.client != nil }

// Enrich classifies text, replaying up to three recent corrections as
// few-shot guidance. Empty tickets are answered locally without a model
// call. A nil-client enricher returns the zero Enrichment and no error.
func (e *Enricher) Enrich(ctx context.Context, text string, corrections []Correction) (Enrichment, error) {
	if !e.Enabled() || strings.TrimSpace(text) == "" {
		return Enrichment{}, nil
	}
	if IsEmptyTicket(text) {
		log.Debug().Int("original_len", len(text)).Msg("empty ticket blocked before model call")
		return EmptyTicketEnrichment(), nil
	}

	system := systemPrompt
	if len(corrections) > 0 {
		system += buildFewShot(corrections)
		log.Debug().Int("corrections", len(corrections)).Msg("replaying user corrections as few-shot examples")
	}
	user := llm.ClampPrompt(text, e.promptLimit)

	var raw string
	res := retry.Do(ctx, e.retryCfg, "llm_enrich", func() error {
		var err error
		raw, err = e.client.Complete(ctx, system, user)
		return err
	})
	if !res.Success {
		return Enrichment{}, fmt.Errorf("enrich: %w", res.LastError)
	}
	if strings.TrimSpace(raw) == "" {
		return Enrichment{}, fmt.Errorf("enrich: model returned empty response")
	}

	var out Enrichment
	stats, err := llm.DecodeLoose(raw, &out)
	if err != nil {
		return Enrichment{}, fmt.Errorf("enrich: %w", err)
	}
	if stats.WasRepaired {
		log.Warn().Strs("strategies", stats.Strategies).Msg("model JSON needed repair")
	}
	return out, nil
}

func buildFewShot(corrections []Correction) string {
	var b strings.Builder
	b.WriteString("\n\nLEARN FROM THESE USER CORRECTIONS:\n")
	for i, c := range corrections {
		if i >= maxFewShot {
			break
		}
		snippet := c.Text
		if len(snippet) > 150 {
			snippet = snippet[:150]
		}
		fmt.Fprintf(&b, "\nExample %d - User's Correction:\n", i+1)
		fmt.Fprintf(&b, "Ticket text: %s...\n", snippet)
		fmt.Fprintf(&b, "Correct intent: %s\n", c.CorrectIntent)
		fmt.Fprintf(&b, "Correct severity: %s\n", c.CorrectSeverity)
		if c.Notes != "" {
			fmt.Fprintf(&b, "Why: %s\n", c.Notes)
		}
	}
	return b.String()
}

// ContentHash identifies a ticket's text for enrichment caching: unchanged
// text means the cached enrichment is still valid.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-haiku-20240307"

// AnthropicClient adapts the langchaingo Anthropic binding to Client.
type AnthropicClient struct {
	model     llms.Model
	maxTokens int
}

// NewAnthropicClient returns nil when apiKey is empty so callers can treat
// a missing key as enrichment-disabled rather than an error.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		log.Warn().Msg("LLM enrichment disabled: no Anthropic API key configured")
		return nil, nil
	}
	if model == "" {
		model = DefaultModel
	}
	m, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("init anthropic client: %w", err)
	}
	return &AnthropicClient{model: m, maxTokens: 400}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, user),
		},
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anthropic: empty response")
	}
	return resp.Choices[0].Content, nil
}
