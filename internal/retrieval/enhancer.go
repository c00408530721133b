package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/DreamCats/codesage/internal/llm"
)

// Enhancer defaults.
const (
	DefaultSeedK      = 6
	DefaultMaxSymbols = 12
	maxHintPaths      = 6
	maxEnhancedRunes  = 320
	fallbackPaths     = 3
	fallbackSymbols   = 6
)

var symbolPattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]{2,}\b`)

var symbolStopwords = map[string]bool{
	"const":    true,
	"let":      true,
	"var":      true,
	"return":   true,
	"class":    true,
	"function": true,
}

// QueryEnhancer rewrites a query with file paths and symbols taken from a
// first round of vector search.
type QueryEnhancer struct {
	searcher   VectorSearcher
	llm        llm.Generator
	seedK      int
	maxSymbols int
	logger     *slog.Logger
}

// NewQueryEnhancer creates an enhancer. Non-positive seedK or maxSymbols
// use the defaults.
func NewQueryEnhancer(searcher VectorSearcher, gen llm.Generator, seedK, maxSymbols int, logger *slog.Logger) *QueryEnhancer {
	if seedK <= 0 {
		seedK = DefaultSeedK
	}
	if maxSymbols <= 0 {
		maxSymbols = DefaultMaxSymbols
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryEnhancer{
		searcher:   searcher,
		llm:        gen,
		seedK:      seedK,
		maxSymbols: maxSymbols,
		logger:     logger,
	}
}

// Enhance rewrites query. Without seed results the query is returned as is
// and the model is not called.
func (e *QueryEnhancer) Enhance(ctx context.Context, query string) (QueryEnhancement, error) {
	seeds, err := e.searcher.SimilaritySearch(ctx, query, e.seedK)
	if err != nil {
		return QueryEnhancement{}, fmt.Errorf("seed search failed: %w", err)
	}

	enhancement := QueryEnhancement{
		Original:  query,
		Enhanced:  query,
		FilePaths: []string{},
		Symbols:   []string{},
	}
	if len(seeds) == 0 {
		return enhancement, nil
	}

	seen := make(map[string]bool)
	contents := make([]string, 0, len(seeds))
	for _, s := range seeds {
		contents = append(contents, s.Chunk.Content)
		path := s.Chunk.Metadata.FilePath
		if seen[path] || len(enhancement.FilePaths) >= maxHintPaths {
			continue
		}
		seen[path] = true
		enhancement.FilePaths = append(enhancement.FilePaths, path)
	}
	enhancement.Symbols = ExtractSymbols(contents, e.maxSymbols)

	raw, err := e.llm.Generate(ctx, BuildEnhancePrompt(query, enhancement.FilePaths, enhancement.Symbols))
	if err != nil {
		return QueryEnhancement{}, fmt.Errorf("query enhancement failed: %w", err)
	}

	parsed := ParseEnhancedQuery(raw, func() string {
		return fallbackQuery(query, enhancement.FilePaths, enhancement.Symbols)
	})
	if parsed.Fallback {
		e.logger.Debug("unparseable enhancement output, using hint fallback", "error", parsed.Err)
	}
	enhancement.Enhanced = truncateRunes(parsed.Value, maxEnhancedRunes)
	return enhancement, nil
}

// ExtractSymbols returns up to limit identifiers found in contents, most
// frequent first with ties in first-seen order.
func ExtractSymbols(contents []string, limit int) []string {
	counts := make(map[string]int)
	var order []string
	for _, content := range contents {
		for _, tok := range symbolPattern.FindAllString(content, -1) {
			if symbolStopwords[strings.ToLower(tok)] {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > limit {
		order = order[:limit]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// BuildEnhancePrompt renders the query rewriting prompt.
func BuildEnhancePrompt(query string, paths, symbols []string) string {
	return strings.Join([]string{
		"You rewrite codebase queries for retrieval quality.",
		`Return strict JSON only: {"enhancedQuery": "..."}`,
		"Keep original intent. Add only context-relevant terms.",
		"Do not invent file paths or symbols.",
		"",
		"Original query: " + query,
		"Candidate file paths: " + joinOrNone(paths),
		"Candidate symbols: " + joinOrNone(symbols),
	}, "\n")
}

// ParseEnhancedQuery reads enhancedQuery from raw. Strict JSON is tried
// first; only if that fails is the outermost {...} span tried. A missing or
// blank value yields fallback().
func ParseEnhancedQuery(raw string, fallback func() string) ParseResult[string] {
	v, err := decodeJSON(raw)
	if err != nil {
		span := extractJSONObject(raw)
		if span == "" {
			return FellBack(fallback(), err)
		}
		if v, err = decodeJSON(span); err != nil {
			return FellBack(fallback(), err)
		}
	}

	obj, err := asObject(v)
	if err != nil {
		return FellBack(fallback(), err)
	}
	if q, ok := stringField(obj, "enhancedQuery").Get(); ok {
		return Parsed(q)
	}
	return FellBack(fallback(), fmt.Errorf("enhancedQuery missing or blank"))
}

func fallbackQuery(query string, paths, symbols []string) string {
	p := paths[:min(len(paths), fallbackPaths)]
	s := symbols[:min(len(symbols), fallbackSymbols)]
	return strings.TrimSpace(query + " " + strings.Join(p, " ") + " " + strings.Join(s, " "))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
