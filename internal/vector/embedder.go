// Package vector embeds ticket text with OpenAI and keeps a Pinecone index
// in sync for semantic search over past conversations.
package vector

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultEmbeddingModel matches OpenAI's small embedding model, 1536 dims.
const DefaultEmbeddingModel = "text-embedding-3-small"

// maxEmbedInput keeps the request well under the embeddings token limit.
const maxEmbedInput = 6000

// ErrEmptyInput is returned for blank text; callers skip rather than index it.
var ErrEmptyInput = errors.New("vector: empty input text")

// embeddingAPI is the slice of the OpenAI API the embedder uses.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Embedder turns free text into embedding vectors.
type Embedder struct {
	client embeddingAPI
	model  openai.EmbeddingModel
}

// NewEmbedder returns nil when no API key is configured; a nil Embedder
// reports Enabled() == false and the pipeline skips vector indexing.
func NewEmbedder(apiKey, model string) *Embedder {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{client: openai.NewClient(apiKey), model: openai.EmbeddingModel(model)}
}

func (e *Embedder) Enabled() bool { return e != nil }

// Embed returns the embedding vector for text, truncated to a safe length.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if len(text) > maxEmbedInput {
		text = text[:maxEmbedInput]
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("vector: embeddings response had no data")
	}
	return resp.Data[0].Embedding, nil
}
