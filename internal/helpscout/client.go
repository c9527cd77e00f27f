// Package helpscout is the Help Scout Mailbox API client: OAuth credential
// management with proactive refresh, conversation fetching, text extraction
// and webhook verification.
package helpscout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
)

const DefaultBaseURL = "https://api.helpscout.net/v2"

// refreshThreshold triggers a proactive token refresh shortly before expiry
// so in-flight requests do not race the expiration.
const refreshThreshold = 5 * time.Minute

// TokenStore persists the OAuth credential between restarts.
type TokenStore interface {
	GetOAuthToken(ctx context.Context) (*store.OAuthToken, error)
	SaveOAuthToken(ctx context.Context, t *store.OAuthToken) error
}

// Config carries the client credentials. OAuth (AppID/AppSecret) is
// preferred; PAT is the basic-auth fallback for simple deployments.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	PAT       string
	MailboxID int64
}

// Client talks to the Help Scout API. Requests are rate limited client-side
// to stay under the API's 400 requests/minute ceiling.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenStore
	limiter *rate.Limiter

	mu         sync.Mutex
	refreshing bool
}

func NewClient(cfg Config, tokens TokenStore) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(6), 12),
	}
}

// authHeader returns the Authorization value: OAuth bearer when a token is
// stored (refreshed proactively near expiry), otherwise PAT basic auth.
func (c *Client) authHeader(ctx context.Context) (string, error) {
	tok, err := c.tokens.GetOAuthToken(ctx)
	if err == nil && tok.AccessToken != "" {
		if !tok.ExpiresAt.IsZero() && time.Until(tok.ExpiresAt) <= refreshThreshold {
			if refreshed, rerr := c.refreshToken(ctx, tok); rerr == nil {
				tok = refreshed
			} else {
				log.Warn().Err(rerr).Msg("proactive token refresh failed, using current token")
			}
		}
		return "Bearer " + tok.AccessToken, nil
	}
	if c.cfg.PAT != "" {
		// API keys authenticate as basic auth with a blank password.
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.cfg.PAT+":")), nil
	}
	return "", fmt.Errorf("helpscout: no credentials available")
}

// refreshToken exchanges the refresh token for a new access token and
// persists it. Only one refresh runs at a time.
func (c *Client) refreshToken(ctx context.Context, current *store.OAuthToken) (*store.OAuthToken, error) {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" || current.RefreshToken == "" {
		return nil, fmt.Errorf("helpscout: refresh not possible without app credentials")
	}

	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		// Another goroutine is refreshing; reread what it stored.
		return c.tokens.GetOAuthToken(ctx)
	}
	c.refreshing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.AppID, c.cfg.AppSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("helpscout: refresh token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("helpscout: refresh token: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("helpscout: decode token response: %w", err)
	}
	if body.ExpiresIn == 0 {
		body.ExpiresIn = 3600
	}
	if body.RefreshToken == "" {
		body.RefreshToken = current.RefreshToken
	}

	tok := &store.OAuthToken{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	if err := c.tokens.SaveOAuthToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("helpscout: persist refreshed token: %w", err)
	}
	log.Info().Time("expires_at", tok.ExpiresAt).Msg("refreshed Help Scout OAuth token")
	return tok, nil
}

// ExchangeAuthCode completes the OAuth install flow and stores the result.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) error {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.AppID, c.cfg.AppSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("helpscout: exchange auth code: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("helpscout: exchange auth code: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("helpscout: decode token response: %w", err)
	}
	if body.ExpiresIn == 0 {
		body.ExpiresIn = 3600
	}
	return c.tokens.SaveOAuthToken(ctx, &store.OAuthToken{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	})
}

// HasCredentials reports whether any auth path is currently usable.
func (c *Client) HasCredentials(ctx context.Context) bool {
	if c.cfg.PAT != "" {
		return true
	}
	tok, err := c.tokens.GetOAuthToken(ctx)
	return err == nil && tok.AccessToken != ""
}

// do issues an authenticated request, retrying once through a token refresh
// when the API answers 401.
func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	build := func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			buf, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return nil, err
		}
		auth, err := c.authHeader(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", auth)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "hs-automation/1.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	req, err := build()
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("helpscout: %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if tok, terr := c.tokens.GetOAuthToken(ctx); terr == nil {
			if _, rerr := c.refreshToken(ctx, tok); rerr != nil {
				return fmt.Errorf("helpscout: %s %s: 401 and refresh failed: %w", method, path, rerr)
			}
		}
		if req, err = build(); err != nil {
			return err
		}
		if resp, err = c.http.Do(req); err != nil {
			return fmt.Errorf("helpscout: %s %s: %w", method, path, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("helpscout: %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("helpscout: decode %s response: %w", path, err)
		}
	}
	return nil
}

// FetchConversation loads a conversation with its threads embedded.
func (c *Client) FetchConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d?embed=threads", id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Embedded struct {
		Conversations []Conversation `json:"conversations"`
	} `json:"_embedded"`
	Page struct {
		Number        int `json:"number"`
		TotalPages    int `json:"totalPages"`
		TotalElements int `json:"totalElements"`
	} `json:"page"`
}

// ListConversations fetches one page of active conversations, scoped to the
// configured mailbox when set.
func (c *Client) ListConversations(ctx context.Context, page int) (*ConversationPage, error) {
	path := fmt.Sprintf("/conversations?page=%d&embed=threads", page)
	if c.cfg.MailboxID != 0 {
		path += fmt.Sprintf("&mailbox=%d", c.cfg.MailboxID)
	}
	var out ConversationPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureTags merges computed triage tags into the conversation's existing
// tags so manual agent tags are never lost.
func (c *Client) EnsureTags(ctx context.Context, convID int64, tags []string) error {
	var current Conversation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d", convID), nil, &current); err != nil {
		return err
	}

	merged := map[string]bool{}
	for _, t := range current.TagNames() {
		merged[t] = true
	}
	for _, t := range tags {
		merged[t] = true
	}
	all := make([]string, 0, len(merged))
	for t := range merged {
		all = append(all, t)
	}

	return c.do(ctx, http.MethodPut, fmt.Sprintf("/conversations/%d/tags", convID),
		map[string]any{"tags": all}, nil)
}
