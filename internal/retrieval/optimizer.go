package retrieval

import (
	"math"
	"unicode/utf8"

	"github.com/DreamCats/codesage/internal/store"
)

const truncationMarker = "\n... [truncated by token optimizer]"

// minTruncatedRunes is the floor for the truncated excerpt length.
const minTruncatedRunes = 120

// TokenOptimizer fits results into a token budget of
// floor(maxTokens × utilization), estimating 4 characters per token.
type TokenOptimizer struct {
	maxTokens   int
	utilization float64
}

// NewTokenOptimizer creates an optimizer for the given budget.
func NewTokenOptimizer(maxTokens int, utilization float64) *TokenOptimizer {
	return &TokenOptimizer{maxTokens: maxTokens, utilization: utilization}
}

// Budget returns the usable token budget.
func (o *TokenOptimizer) Budget() int {
	return int(math.Floor(float64(o.maxTokens) * o.utilization))
}

// Optimize greedily selects results in order. A result that does not fit
// is skipped and later, smaller ones are still considered. If nothing fits
// at all, the first result is truncated so the answer still has context.
func (o *TokenOptimizer) Optimize(results []store.RetrievalResult) []store.RetrievalResult {
	if len(results) == 0 {
		return []store.RetrievalResult{}
	}

	budget := o.Budget()
	used := 0
	selected := make([]store.RetrievalResult, 0, len(results))
	for _, r := range results {
		cost := EstimateTokens(r.Chunk.Content)
		if used+cost > budget {
			continue
		}
		selected = append(selected, r)
		used += cost
	}
	if len(selected) > 0 {
		return selected
	}

	first := results[0]
	limit := max(minTruncatedRunes, budget*4)
	first.Chunk.Content = truncateRunes(first.Chunk.Content, limit) + truncationMarker
	return []store.RetrievalResult{first}
}

// EstimateTokens approximates the token count of text as ceil(runes/4),
// never less than 1.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return max(1, (n+3)/4)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
