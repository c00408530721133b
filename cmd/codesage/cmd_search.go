package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/indexer"
	"github.com/DreamCats/codesage/internal/retrieval"
	"github.com/DreamCats/codesage/internal/store"
)

func (a *app) searchCommand() *cobra.Command {
	var (
		keyword    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Show the chunks retrieval finds for a query, without the model",
		Example: `  codesage search parseGrade
  codesage search --keyword "auth middleware"
  codesage search --json --top-k 3 token budget`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("search query is required")
			}

			ctx := cmd.Context()
			idx, err := indexer.Open(ctx, a.cfg, indexer.ForRead, a.logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			topK := a.cfg.Pipeline.TopK
			var results []store.RetrievalResult
			if keyword {
				expander, err := store.LoadSynonymsFile(a.cfg.Search.SynonymsFile)
				if err != nil {
					a.logger.Warn("failed to load synonyms file", "error", err)
				}
				expanded := expander.Expand(query)
				if expanded != query {
					a.logger.Debug("query expanded with synonyms", "query", expanded)
				}
				hits, err := idx.Vectors.KeywordSearch(expanded, topK)
				if err != nil {
					return fmt.Errorf("keyword search failed: %w", err)
				}
				results = textHitsToResults(hits)
			} else {
				results, err = retrieval.NewHybridRetriever(idx.Vectors).Retrieve(ctx, query, topK)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return a.outputJSON(query, results)
			}
			a.outputText(query, results)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&keyword, "keyword", false, "search the full-text index (with synonym expansion) instead of vectors")
	flags.BoolVar(&jsonOutput, "json", false, "output results as JSON")
	flags.Int("top-k", 0, "number of results (default from config)")
	return cmd
}

func textHitsToResults(hits []store.TextHit) []store.RetrievalResult {
	results := make([]store.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, store.RetrievalResult{
			Chunk: store.CodeChunk{
				ID:      h.ID,
				Content: h.Content,
				Metadata: store.ChunkMetadata{
					FilePath:  h.FilePath,
					Language:  h.Language,
					StartLine: h.StartLine,
					EndLine:   h.EndLine,
				},
			},
			FinalScore: h.Score,
		})
	}
	return results
}

// outputText outputs search results as human-readable text
func (a *app) outputText(query string, results []store.RetrievalResult) {
	w := a.stdout
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found")
		return
	}

	fmt.Fprintf(w, "Found %d result(s) for: %s\n\n", len(results), query)
	for i, r := range results {
		meta := r.Chunk.Metadata
		fmt.Fprintf(w, "%d. %s:%d-%d\n", i+1, meta.FilePath, meta.StartLine, meta.EndLine)
		fmt.Fprintf(w, "   Language: %s\n", meta.Language)
		if a.verbose {
			fmt.Fprintf(w, "   Vector:   %.3f\n", r.VectorScore)
			fmt.Fprintf(w, "   Symbol:   %.3f\n", r.SymbolScore)
			fmt.Fprintf(w, "   Path:     %.3f\n", r.PathScore)
		}
		fmt.Fprintf(w, "   Score:    %.3f\n", r.FinalScore)

		text := strings.Join(strings.Fields(r.Chunk.Content), " ")
		if runes := []rune(text); len(runes) > 100 {
			text = string(runes[:100]) + "..."
		}
		fmt.Fprintf(w, "   %s\n\n", text)
	}
}

// outputJSON outputs search results as JSON
func (a *app) outputJSON(query string, results []store.RetrievalResult) error {
	output := map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(a.stdout, string(data))
	return nil
}
