package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/codesage/internal/store"
)

func TestQueryTokens(t *testing.T) {
	assert.Equal(t, []string{"where", "parsegrade", "grader.go"}, queryTokens("Where is parseGrade in grader.go?"))
	assert.Equal(t, []string{"foo", "foo"}, queryTokens("foo foo"))
	assert.Nil(t, queryTokens("a b c? ok"))
}

func TestRetrieveFetchesThreeTimesK(t *testing.T) {
	searcher := &fakeSearcher{}
	h := NewHybridRetriever(searcher)

	_, err := h.Retrieve(context.Background(), "query", 4)
	require.NoError(t, err)
	_, err = h.Retrieve(context.Background(), "query", 0)
	require.NoError(t, err)

	require.Len(t, searcher.calls, 2)
	assert.Equal(t, 12, searcher.calls[0].k)
	assert.Equal(t, 24, searcher.calls[1].k)
}

func TestRetrieveScoresLexicalOverlap(t *testing.T) {
	searcher := &fakeSearcher{results: fixedResults(
		result("/repo/intro.md", 1, 10, "# Overview", 0.6, 0.6),
		result("/repo/grader.go", 1, 10, "func parseGrade(raw string) int", 0.5, 0.5),
	)}
	h := NewHybridRetriever(searcher)

	results, err := h.Retrieve(context.Background(), "parseGrade grader.go", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	top := results[0]
	assert.Equal(t, "/repo/grader.go", top.Chunk.Metadata.FilePath)
	assert.InDelta(t, 0.5, top.SymbolScore, 1e-9)
	assert.InDelta(t, 0.5, top.PathScore, 1e-9)
	assert.InDelta(t, 0.65*0.5+0.25*0.5+0.10*0.5, top.FinalScore, 1e-9)

	assert.InDelta(t, 0.65*0.6, results[1].FinalScore, 1e-9)
	assert.Zero(t, results[1].SymbolScore)
}

func TestRetrieveWithoutTokensUsesVectorOnly(t *testing.T) {
	searcher := &fakeSearcher{results: fixedResults(
		result("/repo/a.go", 1, 10, "a b", 0.8, 0.8),
		result("/repo/b.go", 1, 10, "a b", 0.4, 0.4),
	)}
	h := NewHybridRetriever(searcher)

	results, err := h.Retrieve(context.Background(), "a b", 8)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Zero(t, r.SymbolScore)
		assert.Zero(t, r.PathScore)
		assert.InDelta(t, 0.65*r.VectorScore, r.FinalScore, 1e-9)
	}
}

func TestRetrieveKeepsCandidateOrderOnTies(t *testing.T) {
	searcher := &fakeSearcher{results: fixedResults(
		result("/repo/a.go", 1, 10, "x", 0.5, 0.5),
		result("/repo/b.go", 1, 10, "x", 0.5, 0.5),
		result("/repo/c.go", 1, 10, "x", 0.5, 0.5),
	)}
	results, err := NewHybridRetriever(searcher).Retrieve(context.Background(), "zzz", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"/repo/a.go:1-10", "/repo/b.go:1-10"}, ids(results))
}

func TestRetrieveEqualVectorScoresPreferSymbolMatch(t *testing.T) {
	searcher := &fakeSearcher{results: fixedResults(
		result("/repo/a.go", 1, 80, "package a", 0.5, 0.5),
		result("/repo/a.go", 61, 140, "func helper() {}", 0.5, 0.5),
		result("/repo/a.go", 121, 150, "// end", 0.5, 0.5),
		result("/repo/b.go", 1, 80, "package b", 0.5, 0.5),
		result("/repo/b.go", 61, 100, "func parseGrade(raw string) int", 0.5, 0.5),
	)}
	results, err := NewHybridRetriever(searcher).Retrieve(context.Background(), "parseGrade", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "/repo/b.go:61-100", results[0].Chunk.ID)
	for _, r := range results[1:] {
		assert.Less(t, r.FinalScore, results[0].FinalScore)
	}
}

func TestRetrievePropagatesSearchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewHybridRetriever(&fakeSearcher{err: boom}).Retrieve(context.Background(), "q", 1)
	assert.ErrorIs(t, err, boom)
}

func TestRetrieveDoesNotMutateCandidates(t *testing.T) {
	candidates := []store.RetrievalResult{result("/repo/a.go", 1, 10, "parse", 0.5, 0.5)}
	searcher := &fakeSearcher{results: func(string) []store.RetrievalResult { return candidates }}

	_, err := NewHybridRetriever(searcher).Retrieve(context.Background(), "parse", 1)
	require.NoError(t, err)
	assert.Zero(t, candidates[0].SymbolScore)
	assert.Equal(t, 0.5, candidates[0].FinalScore)
}
