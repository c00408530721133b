package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/indexer"
	"github.com/DreamCats/codesage/internal/store"
)

func (a *app) statusCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics and the last ingest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			idx, err := indexer.Open(ctx, a.cfg, indexer.ForRead, a.logger)
			if errors.Is(err, store.ErrIndexNotFound) {
				fmt.Fprintf(a.stdout, "No index at %s. Run 'codesage ingest' to create it.\n", a.cfg.Index.Dir)
				return nil
			}
			if err != nil {
				return err
			}
			defer idx.Close()

			stats, err := idx.Stats(ctx)
			if err != nil {
				return err
			}
			runs, err := idx.Runs.List(ctx, 5)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(map[string]any{
					"stats": stats,
					"runs":  runs,
				}, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				fmt.Fprintln(a.stdout, string(data))
				return nil
			}

			w := a.stdout
			fmt.Fprintln(w, "Index Statistics")
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Backend:    %s\n", stats.Backend)
			fmt.Fprintf(w, "Location:   %s\n", stats.Location)
			fmt.Fprintf(w, "Files:      %6d\n", stats.Files)
			fmt.Fprintf(w, "Chunks:     %6d\n", stats.Chunks)
			fmt.Fprintf(w, "Text index: %6d\n", stats.TextChunks)
			if stats.Model != "" {
				fmt.Fprintf(w, "Model:      %s (%d dims)\n", stats.Model, stats.Dimension)
			}
			if stats.SizeBytes > 0 {
				fmt.Fprintf(w, "Size:       %.1f MB\n", float64(stats.SizeBytes)/(1024*1024))
			}

			if len(runs) == 0 {
				fmt.Fprintln(w, "\nNo ingest runs recorded.")
				return nil
			}
			fmt.Fprintln(w, "\nRecent ingest runs:")
			for _, run := range runs {
				line := fmt.Sprintf("  %s  %-9s %4d files %6d chunks  %s",
					run.StartedAt.Local().Format(time.DateTime), run.Status, run.Files, run.Chunks, run.RepoPath)
				if run.Error != "" {
					line += "  (" + run.Error + ")"
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
