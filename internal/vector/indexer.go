package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dotan-Peleh/hs-automation/internal/store"
)

// Indexer keeps conversations searchable. Both halves must be configured;
// otherwise every method is a cheap no-op.
type Indexer struct {
	embedder *Embedder
	index    *PineconeIndex
}

func NewIndexer(embedder *Embedder, index *PineconeIndex) *Indexer {
	return &Indexer{embedder: embedder, index: index}
}

func (ix *Indexer) Enabled() bool {
	return ix != nil && ix.embedder.Enabled() && ix.index.Enabled()
}

// IndexConversation embeds subject+body and upserts a single vector keyed by
// conversation id. Failures are logged, not fatal; the triage pipeline must
// not stall on the search index.
func (ix *Indexer) IndexConversation(ctx context.Context, c *store.Conversation) bool {
	if !ix.Enabled() {
		return false
	}
	vec, err := ix.vectorFor(ctx, c)
	if err != nil {
		if !errors.Is(err, ErrEmptyInput) {
			log.Warn().Err(err).Int64("conv_id", c.ID).Msg("vector index skipped")
		}
		return false
	}
	if err := ix.index.Upsert(ctx, []Vector{vec}); err != nil {
		log.Warn().Err(err).Int64("conv_id", c.ID).Msg("vector upsert failed")
		return false
	}
	return true
}

// Reindex embeds and upserts a batch of conversations, returning how many
// made it into the index.
func (ix *Indexer) Reindex(ctx context.Context, convs []store.Conversation) (int, error) {
	if !ix.Enabled() {
		return 0, errors.New("vector indexing not configured")
	}
	batch := make([]Vector, 0, len(convs))
	for i := range convs {
		vec, err := ix.vectorFor(ctx, &convs[i])
		if err != nil {
			continue
		}
		batch = append(batch, vec)
	}
	if len(batch) == 0 {
		return 0, errors.New("no vectors to upsert")
	}
	if err := ix.index.Upsert(ctx, batch); err != nil {
		return 0, err
	}
	log.Info().Int("upserted", len(batch)).Msg("vector reindex complete")
	return len(batch), nil
}

// Search embeds the query and returns the nearest indexed conversations.
func (ix *Indexer) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if !ix.Enabled() {
		return nil, errors.New("vector search not configured")
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.index.Query(ctx, vec, topK, nil)
}

func (ix *Indexer) vectorFor(ctx context.Context, c *store.Conversation) (Vector, error) {
	raw := c.Subject + "\n" + c.LastText
	values, err := ix.embedder.Embed(ctx, raw)
	if err != nil {
		return Vector{}, err
	}
	meta := map[string]any{
		"number":  c.Number,
		"subject": c.Subject,
	}
	if !c.UpdatedAt.IsZero() {
		meta["updated_at"] = c.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return Vector{ID: fmt.Sprintf("%d", c.ID), Values: values, Metadata: meta}, nil
}
