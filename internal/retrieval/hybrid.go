package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/DreamCats/codesage/internal/store"
)

// Fusion weights of the hybrid score.
const (
	VectorWeight = 0.65
	SymbolWeight = 0.25
	PathWeight   = 0.10
)

// DefaultTopK is the number of results Retrieve returns when k <= 0.
const DefaultTopK = 8

// candidateFactor is how many vector candidates are fetched per result.
const candidateFactor = 3

var tokenSeparator = regexp.MustCompile(`[^a-z0-9_./-]+`)

// HybridRetriever rescores vector candidates with lexical overlap between
// the query and each chunk's content and path.
type HybridRetriever struct {
	searcher VectorSearcher
}

// NewHybridRetriever creates a new hybrid retriever
func NewHybridRetriever(searcher VectorSearcher) *HybridRetriever {
	return &HybridRetriever{searcher: searcher}
}

// Retrieve fetches 3k vector candidates and returns the k best by
// 0.65·vector + 0.25·symbol + 0.10·path. Ties keep candidate order.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	candidates, err := h.searcher.SimilaritySearch(ctx, query, k*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	tokens := queryTokens(query)
	rescored := make([]store.RetrievalResult, len(candidates))
	for i, c := range candidates {
		r := c
		r.SymbolScore = overlapScore(tokens, r.Chunk.Content)
		r.PathScore = overlapScore(tokens, r.Chunk.Metadata.FilePath)
		r.FinalScore = r.VectorScore*VectorWeight + r.SymbolScore*SymbolWeight + r.PathScore*PathWeight
		rescored[i] = r
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].FinalScore > rescored[j].FinalScore
	})

	if len(rescored) > k {
		rescored = rescored[:k]
	}
	return rescored, nil
}

// queryTokens lowercases the query, splits it on everything outside
// [a-z0-9_./-] and keeps tokens of at least 3 characters.
func queryTokens(query string) []string {
	var tokens []string
	for _, tok := range tokenSeparator.Split(strings.ToLower(query), -1) {
		if len(tok) >= 3 {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// overlapScore is the fraction of tokens found in the lowercased text.
func overlapScore(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	normalized := strings.ToLower(text)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(normalized, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}
