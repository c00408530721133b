package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/codesage/internal/store"
)

func TestRerankDedupeKeepsHigherScore(t *testing.T) {
	out := NewReranker().Rerank([]store.RetrievalResult{
		result("/repo/x.go", 1, 10, "x low", 0.1, 0.5),
		result("/repo/y.go", 1, 10, "y", 0.1, 0.9),
		result("/repo/x.go", 1, 10, "x high", 0.1, 0.7),
	})
	require.Len(t, out, 2)
	assert.Equal(t, []string{"/repo/y.go:1-10", "/repo/x.go:1-10"}, ids(out))
	assert.Equal(t, "x high", out[1].Chunk.Content)
	assert.Equal(t, 0.7, out[1].FinalScore)
}

func TestRerankDedupeTieKeepsFirst(t *testing.T) {
	out := NewReranker().Rerank([]store.RetrievalResult{
		result("/repo/x.go", 1, 10, "first", 0.1, 0.5),
		result("/repo/x.go", 1, 10, "second", 0.1, 0.5),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Chunk.Content)
}

func TestRerankMergesAdjacentChunks(t *testing.T) {
	a := result("/repo/x.go", 1, 10, "A", 0.9, 0.6)
	a.SymbolScore = 0.2
	b := result("/repo/x.go", 12, 20, "B", 0.1, 0.8)
	b.PathScore = 0.3
	c := result("/repo/x.go", 30, 40, "C", 0.1, 0.5)

	out := NewReranker().Rerank([]store.RetrievalResult{c, b, a})
	require.Len(t, out, 2)

	merged := out[0]
	assert.Equal(t, "/repo/x.go:1-10+/repo/x.go:12-20", merged.Chunk.ID)
	assert.Equal(t, "A\n\nB", merged.Chunk.Content)
	assert.Equal(t, store.ChunkMetadata{FilePath: "/repo/x.go", Language: "go", StartLine: 1, EndLine: 20}, merged.Chunk.Metadata)
	assert.Equal(t, 0.9, merged.VectorScore)
	assert.Equal(t, 0.2, merged.SymbolScore)
	assert.Equal(t, 0.3, merged.PathScore)
	assert.Equal(t, 0.8, merged.FinalScore)

	assert.Equal(t, "/repo/x.go:30-40", out[1].Chunk.ID)
}

func TestRerankMergeGapBoundary(t *testing.T) {
	out := NewReranker().Rerank([]store.RetrievalResult{
		result("/repo/x.go", 1, 10, "A", 0.1, 0.5),
		result("/repo/x.go", 13, 20, "B", 0.1, 0.4),
	})
	assert.Len(t, out, 1)

	out = NewReranker().Rerank([]store.RetrievalResult{
		result("/repo/x.go", 1, 10, "A", 0.1, 0.5),
		result("/repo/x.go", 14, 20, "B", 0.1, 0.4),
	})
	assert.Len(t, out, 2)
}

func TestRerankMergeKeepsLargestEnd(t *testing.T) {
	out := NewReranker().Rerank([]store.RetrievalResult{
		result("/repo/x.go", 1, 80, "A", 0.1, 0.5),
		result("/repo/x.go", 5, 10, "B", 0.1, 0.4),
		result("/repo/x.go", 61, 140, "C", 0.1, 0.3),
	})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Chunk.Metadata.StartLine)
	assert.Equal(t, 140, out[0].Chunk.Metadata.EndLine)
	assert.Equal(t, "A\n\nB\n\nC", out[0].Chunk.Content)
}

func TestRerankNeverMergesAcrossFiles(t *testing.T) {
	out := NewReranker().Rerank([]store.RetrievalResult{
		result("/repo/a.go", 1, 10, "A", 0.1, 0.3),
		result("/repo/b.go", 1, 10, "B", 0.1, 0.6),
	})
	assert.Equal(t, []string{"/repo/b.go:1-10", "/repo/a.go:1-10"}, ids(out))
}

func TestRerankEmpty(t *testing.T) {
	out := NewReranker().Rerank(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
