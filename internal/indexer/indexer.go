package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DreamCats/codesage/internal/config"
	"github.com/DreamCats/codesage/internal/embedding"
	"github.com/DreamCats/codesage/internal/store"
)

// OpenMode says whether the index may be created.
type OpenMode int

const (
	// ForWrite creates the index when it does not exist.
	ForWrite OpenMode = iota
	// ForRead fails with store.ErrIndexNotFound when nothing was ingested.
	ForRead
)

// Index wires the stores and the embedding service selected by the
// configuration. The sqlite database in the index dir always exists once
// something was ingested; it holds the run log and, for the sqlite
// backend, the chunks.
type Index struct {
	cfg      *config.Config
	logger   *slog.Logger
	DB       *store.DB
	Chunks   store.ChunkBackend
	Runs     *store.RunStore
	Text     *store.TextIndex
	Embedder *embedding.Service
	Vectors  *VectorIndex
	closers  []func() error
}

// Open opens (or with ForWrite, creates) the index described by cfg.
func Open(ctx context.Context, cfg *config.Config, mode OpenMode, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{cfg: cfg, logger: logger}

	dbPath := store.DBPath(cfg.Index.Dir)
	var db *store.DB
	var err error
	if mode == ForWrite {
		db, err = store.Open(dbPath)
	} else {
		db, err = store.OpenExisting(dbPath)
	}
	if err != nil {
		return nil, err
	}
	idx.DB = db
	idx.closers = append(idx.closers, db.Close)
	idx.Runs = store.NewRunStore(db)

	switch cfg.Index.Backend {
	case "pgvector":
		pg, err := store.OpenPGVectorStore(ctx, cfg.Index.DSN)
		if err != nil {
			idx.Close()
			return nil, err
		}
		idx.Chunks = pg
		idx.closers = append(idx.closers, pg.Close)
	default:
		idx.Chunks = store.NewChunkStore(db)
	}

	if cfg.Index.TextIndex {
		textDir := filepath.Join(cfg.Index.Dir, store.TextDirName)
		var text *store.TextIndex
		if mode == ForWrite {
			text, err = store.OpenTextIndex(textDir)
		} else {
			text, err = store.OpenExistingTextIndex(textDir)
		}
		switch {
		case err == nil:
			idx.Text = text
			idx.closers = append(idx.closers, text.Close)
		case errors.Is(err, store.ErrIndexNotFound):
			logger.Debug("no text index", "dir", textDir)
		default:
			idx.Close()
			return nil, err
		}
	}

	embedder, err := embedding.NewService(&cfg.Embedding)
	if err != nil {
		idx.Close()
		return nil, err
	}
	idx.Embedder = embedder
	idx.closers = append(idx.closers, embedder.Close)

	idx.Vectors = NewVectorIndex(idx.Chunks, embedder, embedder.Model(), idx.Text, logger)
	return idx, nil
}

// NewIngester builds an ingester that writes into this index.
func (idx *Index) NewIngester(progress ProgressReporter) *Ingester {
	return NewIngester(
		NewRepositoryScanner(idx.cfg.Ingest, idx.logger),
		NewLineChunkerFromConfig(idx.cfg.Ingest),
		idx.Vectors,
		idx.logger,
		WithRunLog(idx.Runs),
		WithProgress(progress),
	)
}

// Reset removes every stored chunk. The run log is kept.
func (idx *Index) Reset(ctx context.Context) error {
	if c, ok := idx.Chunks.(interface{ Clear(context.Context) error }); ok {
		if err := c.Clear(ctx); err != nil {
			return err
		}
	}
	if idx.Text != nil {
		if err := idx.Text.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports the backend statistics plus the text index size.
func (idx *Index) Stats(ctx context.Context) (store.IndexStats, error) {
	stats, err := idx.Chunks.Stats(ctx)
	if err != nil {
		return store.IndexStats{}, err
	}
	if idx.Text != nil {
		if n, err := idx.Text.Count(); err == nil {
			stats.TextChunks = n
		}
		stats.SizeBytes += dirSize(idx.Text.Dir())
	}
	return stats, nil
}

// Close releases everything in reverse opening order.
func (idx *Index) Close() error {
	var errs []error
	for i := len(idx.closers) - 1; i >= 0; i-- {
		if err := idx.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	idx.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("failed to close index: %w", errors.Join(errs...))
	}
	return nil
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
