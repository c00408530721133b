package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DreamCats/codesage/internal/store"
)

// IngestStats is what one ingestion produced.
type IngestStats struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// DocumentWriter stores chunks.
type DocumentWriter interface {
	AddDocuments(ctx context.Context, chunks []store.CodeChunk) error
}

// Ingester scans a repository, chunks every file and stores all chunks
// with a single AddDocuments call.
type Ingester struct {
	scanner  *RepositoryScanner
	chunker  *LineChunker
	writer   DocumentWriter
	runs     *store.RunStore
	progress ProgressReporter
	logger   *slog.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithRunLog records every ingestion in runs.
func WithRunLog(runs *store.RunStore) IngesterOption {
	return func(i *Ingester) { i.runs = runs }
}

// WithProgress reports chunking and embedding progress to p. A nil p
// reports nothing.
func WithProgress(p ProgressReporter) IngesterOption {
	return func(i *Ingester) {
		if p == nil {
			p = silentProgress{}
		}
		i.progress = p
	}
}

// NewIngester creates an ingester.
func NewIngester(scanner *RepositoryScanner, chunker *LineChunker, writer DocumentWriter, logger *slog.Logger, opts ...IngesterOption) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingester{
		scanner:  scanner,
		chunker:  chunker,
		writer:   writer,
		progress: silentProgress{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest indexes the repository (or single file) at path.
func (i *Ingester) Ingest(ctx context.Context, path string) (IngestStats, error) {
	var run *store.IngestRun
	if i.runs != nil {
		var err error
		run, err = i.runs.Start(ctx, path)
		if err != nil {
			return IngestStats{}, err
		}
	}

	stats, err := i.ingest(ctx, path)

	if run != nil {
		// Record the outcome even when ctx was cancelled.
		if finishErr := i.runs.Finish(context.WithoutCancel(ctx), run, stats.Files, stats.Chunks, err); finishErr != nil {
			i.logger.Warn("failed to record ingest run", "run_id", run.ID, "error", finishErr)
		}
	}
	return stats, err
}

func (i *Ingester) ingest(ctx context.Context, path string) (IngestStats, error) {
	start := time.Now()

	files, err := i.scanner.Discover(path)
	if err != nil {
		return IngestStats{}, err
	}
	i.logger.Debug("discovered files", "path", path, "count", len(files))

	i.progress.FilesFound(len(files))

	var chunks []store.CodeChunk
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return IngestStats{}, err
		}

		content, err := ReadFile(file)
		if err != nil {
			return IngestStats{}, fmt.Errorf("failed to read %s: %w", file, err)
		}
		meta := store.ChunkMetadata{
			FilePath: file,
			Language: DetectLanguage(file),
		}
		fileChunks := i.chunker.Chunk(content, meta)
		chunks = append(chunks, fileChunks...)
		i.progress.FileChunked(file, len(fileChunks))
	}

	done := i.progress.Embedding(len(chunks))
	err = i.writer.AddDocuments(ctx, chunks)
	done()
	if err != nil {
		return IngestStats{Files: len(files)}, err
	}

	stats := IngestStats{Files: len(files), Chunks: len(chunks)}
	i.logger.Info("ingestion completed",
		"files", stats.Files,
		"chunks", stats.Chunks,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return stats, nil
}
