package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Vector is one record in the index: id, embedding and display metadata.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is one query hit.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PineconeIndex talks to a single Pinecone serverless index over its data
// plane REST API. There is no official Go SDK pinned here; the surface we
// need is two endpoints.
type PineconeIndex struct {
	host      string
	apiKey    string
	namespace string
	http      *http.Client
}

// NewPineconeIndex returns nil when the API key or index host is missing,
// which disables vector indexing.
func NewPineconeIndex(apiKey, indexHost, namespace string) *PineconeIndex {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(indexHost) == "" {
		return nil
	}
	if !strings.HasPrefix(indexHost, "http") {
		indexHost = "https://" + indexHost
	}
	return &PineconeIndex{
		host:      strings.TrimRight(indexHost, "/"),
		apiKey:    apiKey,
		namespace: namespace,
		http:      &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *PineconeIndex) Enabled() bool { return p != nil }

// Upsert writes vectors into the index, overwriting existing ids.
func (p *PineconeIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	body := map[string]any{"vectors": vectors}
	if p.namespace != "" {
		body["namespace"] = p.namespace
	}
	return p.post(ctx, "/vectors/upsert", body, nil)
}

// Query returns the topK nearest vectors with metadata.
func (p *PineconeIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	body := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	if p.namespace != "" {
		body["namespace"] = p.namespace
	}
	if len(filter) > 0 {
		body["filter"] = filter
	}
	var out struct {
		Matches []Match `json:"matches"`
	}
	if err := p.post(ctx, "/query", body, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

func (p *PineconeIndex) post(ctx context.Context, path string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pinecone encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("pinecone %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
