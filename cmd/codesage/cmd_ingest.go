package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/indexer"
)

func (a *app) ingestCommand() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Index a repository or a single file",
		Long: `Scan the path for source files, split them into overlapping line chunks,
embed every chunk and store it in the index. Re-ingesting replaces chunks
with the same file and line range.`,
		Example: `  # Index the current directory
  codesage ingest

  # Rebuild the index from scratch
  codesage ingest --reset ~/src/project`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			ctx := cmd.Context()
			idx, err := indexer.Open(ctx, a.cfg, indexer.ForWrite, a.logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			if reset {
				if err := idx.Reset(ctx); err != nil {
					return fmt.Errorf("failed to reset index: %w", err)
				}
				a.logger.Info("index reset", "location", a.cfg.Index.Dir)
			}

			progress := indexer.NewProgress(indexer.DefaultProgressEnabled())
			stats, err := idx.NewIngester(progress).Ingest(ctx, path)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Indexed %d files into %d chunks.\n", stats.Files, stats.Chunks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "remove all indexed chunks before ingesting")
	return cmd
}
