package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/indexer"
	"github.com/DreamCats/codesage/internal/retrieval"
)

func (a *app) askCommand() *cobra.Command {
	var (
		stream bool
		trace  bool
	)

	cmd := &cobra.Command{
		Use:   "ask <query...>",
		Short: "Answer a question about the indexed code",
		Example: `  codesage ask "where are grades parsed?"
  codesage ask --stream --trace how does ingestion chunk files`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query is required")
			}

			ctx := cmd.Context()
			idx, err := indexer.Open(ctx, a.cfg, indexer.ForRead, a.logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			gen, err := a.newGenerator(&a.cfg.Chat)
			if err != nil {
				return err
			}
			engine := retrieval.NewEngine(idx.Vectors, gen, a.cfg.Pipeline, a.logger)

			var result *retrieval.Trace
			if stream {
				result, err = engine.AskStream(ctx, query, func(segment string) error {
					_, err := fmt.Fprint(a.stdout, segment)
					return err
				})
				if err == nil {
					fmt.Fprintln(a.stdout)
				}
			} else {
				result, err = engine.AskWithTrace(ctx, query)
				if err == nil {
					fmt.Fprintln(a.stdout, result.Answer)
				}
			}
			if err != nil {
				return err
			}

			if trace {
				a.printTrace(result)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&stream, "stream", false, "print the answer as it is generated")
	flags.BoolVar(&trace, "trace", false, "print the enhanced query and the sources after the answer")
	flags.Int("top-k", 0, "number of chunks to retrieve (default from config)")
	flags.Int("min-grade", 0, "lowest grade a chunk needs to be used, 1-10 (default from config)")
	return cmd
}

func (a *app) printTrace(t *retrieval.Trace) {
	w := a.stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "Enhanced query: %s\n", t.Enhancement.Enhanced)
	if t.UsedFallback {
		fmt.Fprintln(w, "Retrieval fell back to the original query.")
	}
	fmt.Fprintf(w, "Retrieved: %d  Graded: %d  Reranked: %d  Selected: %d\n",
		len(t.Retrieved), len(t.Graded), len(t.Reranked), len(t.Selected))

	if len(t.Selected) == 0 {
		fmt.Fprintln(w, "Sources: none")
		return
	}
	fmt.Fprintln(w, "Sources:")
	for i, r := range t.Selected {
		meta := r.Chunk.Metadata
		fmt.Fprintf(w, "  %d. %s:%d-%d (score %.3f)\n", i+1, meta.FilePath, meta.StartLine, meta.EndLine, r.FinalScore)
	}
}
