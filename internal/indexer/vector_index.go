package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DreamCats/codesage/internal/store"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex embeds chunks into a ChunkBackend and answers similarity
// queries against it. When a text index is attached, chunks are mirrored
// there for keyword search.
type VectorIndex struct {
	backend  store.ChunkBackend
	embedder Embedder
	model    string
	text     *store.TextIndex
	logger   *slog.Logger
}

// NewVectorIndex creates a vector index. text may be nil.
func NewVectorIndex(backend store.ChunkBackend, embedder Embedder, model string, text *store.TextIndex, logger *slog.Logger) *VectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorIndex{
		backend:  backend,
		embedder: embedder,
		model:    model,
		text:     text,
		logger:   logger,
	}
}

// AddDocuments embeds every chunk in one batch and upserts them by ID.
func (v *VectorIndex) AddDocuments(ctx context.Context, chunks []store.CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	if err := v.backend.UpsertChunks(ctx, chunks, vectors, v.model); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	if v.text != nil {
		if err := v.text.IndexChunks(chunks); err != nil {
			return fmt.Errorf("failed to update text index: %w", err)
		}
	}

	v.logger.Debug("stored chunks", "count", len(chunks), "model", v.model)
	return nil
}

// SimilaritySearch returns the k chunks closest to query, with FinalScore
// equal to the cosine similarity and every other score zero.
func (v *VectorIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	if k <= 0 {
		return []store.RetrievalResult{}, nil
	}

	vector, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := v.backend.SearchChunks(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	return results, nil
}

// GetChunk looks a chunk up by ID; nil when unknown.
func (v *VectorIndex) GetChunk(ctx context.Context, id string) (*store.CodeChunk, error) {
	return v.backend.GetChunk(ctx, id)
}

// KeywordSearch queries the text index. It fails with store.ErrIndexNotFound
// when no text index is attached.
func (v *VectorIndex) KeywordSearch(query string, k int) ([]store.TextHit, error) {
	if v.text == nil {
		return nil, store.ErrIndexNotFound
	}
	return v.text.Search(query, k)
}
