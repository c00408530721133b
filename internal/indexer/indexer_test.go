package indexer

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/codesage/internal/config"
	"github.com/DreamCats/codesage/internal/embedding"
	"github.com/DreamCats/codesage/internal/retrieval"
	"github.com/DreamCats/codesage/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Dir = filepath.Join(t.TempDir(), "index")
	cfg.Embedding.Provider = "local"
	cfg.Embedding.Dimensions = 128
	return cfg
}

func TestOpenForReadBeforeIngest(t *testing.T) {
	_, err := Open(context.Background(), testConfig(t), ForRead, nil)
	assert.True(t, errors.Is(err, store.ErrIndexNotFound))
}

func TestIngestAndSearch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	repo := t.TempDir()
	writeFile(t, repo, "grader.go", "package crag\n\nfunc parseGrade(raw string) int {\n\treturn 5\n}\n\n// grading helpers\n")
	writeFile(t, repo, "docs/intro.md", "# Overview\n\nThis project\nindexes code\nfor questions\nabout repositories\n")
	writeFile(t, repo, "tiny.py", "x = 1\n")

	idx, err := Open(ctx, cfg, ForWrite, nil)
	require.NoError(t, err)

	stats, err := idx.NewIngester(nil).Ingest(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Files: 3, Chunks: 2}, stats)

	// Re-ingesting upserts by ID.
	_, err = idx.NewIngester(nil).Ingest(ctx, repo)
	require.NoError(t, err)

	indexStats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), indexStats.Chunks)
	assert.Equal(t, uint64(2), indexStats.TextChunks)
	assert.Equal(t, "local", indexStats.Model)
	assert.Equal(t, 128, indexStats.Dimension)

	run, err := idx.Runs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, store.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Chunks)
	require.NoError(t, idx.Close())

	idx, err = Open(ctx, cfg, ForRead, nil)
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Vectors.SimilaritySearch(ctx, "parseGrade", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, strings.HasSuffix(results[0].Chunk.Metadata.FilePath, "grader.go"))
	assert.Equal(t, results[0].VectorScore, results[0].FinalScore)
	assert.Zero(t, results[0].SymbolScore)
	assert.GreaterOrEqual(t, results[0].VectorScore, results[1].VectorScore)

	hits, err := idx.Vectors.KeywordSearch("parseGrade", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, results[0].Chunk.ID, hits[0].ID)

	chunk, err := idx.Vectors.GetChunk(ctx, results[0].Chunk.ID)
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Contains(t, chunk.Content, "parseGrade")
}

func TestIngestFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(ctx, testConfig(t), ForWrite, nil)
	require.NoError(t, err)
	defer idx.Close()

	empty := t.TempDir()
	_, err = idx.NewIngester(nil).Ingest(ctx, empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source files found in")

	run, err := idx.Runs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, store.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "no source files found in")
}

func TestIndexReset(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(ctx, testConfig(t), ForWrite, nil)
	require.NoError(t, err)
	defer idx.Close()

	repo := t.TempDir()
	writeFile(t, repo, "a.go", strings.Repeat("line\n", 10))
	_, err = idx.NewIngester(nil).Ingest(ctx, repo)
	require.NoError(t, err)

	require.NoError(t, idx.Reset(ctx))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.TextChunks)

	results, err := idx.Vectors.SimilaritySearch(ctx, "line", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// constantEmbedder gives every text the same vector, so all chunks tie on
// vector similarity.
type constantEmbedder struct{}

func (constantEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 1, 1, 1}, nil
}

func (e constantEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i], _ = e.Embed(ctx, texts[i])
	}
	return vectors, nil
}

func TestIngestedSymbolRanksFirstOnEqualVectors(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(ctx, testConfig(t), ForWrite, nil)
	require.NoError(t, err)
	defer idx.Close()
	idx.Vectors = NewVectorIndex(idx.Chunks, constantEmbedder{}, "constant", idx.Text, nil)

	repo := t.TempDir()
	lines := strings.Split(numberedLines(150), "\n")
	lines[99] = "func parseGrade(raw string) int { return 5 }"
	writeFile(t, repo, "grader.go", strings.Join(lines, "\n"))
	writeFile(t, repo, "notes.go", numberedLines(100))

	stats, err := idx.NewIngester(nil).Ingest(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Files: 2, Chunks: 5}, stats)

	results, err := retrieval.NewHybridRetriever(idx.Vectors).Retrieve(ctx, "parseGrade", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for _, r := range results {
		assert.InDelta(t, results[0].VectorScore, r.VectorScore, 1e-9)
	}
	top := results[0].Chunk.Metadata
	assert.Equal(t, filepath.Join(repo, "grader.go"), top.FilePath)
	assert.Equal(t, 61, top.StartLine)
	assert.Equal(t, 140, top.EndLine)
	assert.Equal(t, 1.0, results[0].SymbolScore)
	for _, r := range results[1:] {
		assert.Less(t, r.FinalScore, results[0].FinalScore)
		assert.Zero(t, r.SymbolScore)
	}
}

// recordingWriter captures AddDocuments calls.
type recordingWriter struct {
	calls  int
	chunks []store.CodeChunk
}

func (w *recordingWriter) AddDocuments(ctx context.Context, chunks []store.CodeChunk) error {
	w.calls++
	w.chunks = append(w.chunks, chunks...)
	return nil
}

// countingProgress counts reporter callbacks.
type countingProgress struct {
	total, files, chunks int
	embedded, done       int
}

func (p *countingProgress) FilesFound(total int) { p.total = total }

func (p *countingProgress) FileChunked(path string, chunks int) {
	p.files++
	p.chunks += chunks
}

func (p *countingProgress) Embedding(chunks int) func() {
	p.embedded = chunks
	return func() { p.done++ }
}

func TestIngesterAddsAllChunksOnce(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "a.go", numberedLines(150))
	writeFile(t, repo, "b.go", numberedLines(100))

	w := &recordingWriter{}
	progress := &countingProgress{}
	ing := NewIngester(
		newTestScanner(nil),
		NewLineChunkerFromConfig(config.Default().Ingest),
		w,
		nil,
		WithProgress(nil),
	)
	ing.progress = progress

	stats, err := ing.Ingest(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Files: 2, Chunks: 5}, stats)
	assert.Equal(t, 1, w.calls)
	require.Len(t, w.chunks, 5)
	assert.Equal(t, "go", w.chunks[0].Metadata.Language)
	assert.Equal(t, filepath.Join(repo, "a.go")+":1-80", w.chunks[0].ID)
	assert.Equal(t, filepath.Join(repo, "b.go")+":61-100", w.chunks[4].ID)

	assert.Equal(t, 2, progress.total)
	assert.Equal(t, 2, progress.files)
	assert.Equal(t, 5, progress.chunks)
	assert.Equal(t, 5, progress.embedded)
	assert.Equal(t, 1, progress.done)
}

func TestIngesterHonoursCancellation(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "a.go", numberedLines(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &recordingWriter{}
	ing := NewIngester(newTestScanner(nil), NewLineChunker(80, 20, 6), w, nil)
	_, err := ing.Ingest(ctx, repo)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, w.calls)
}

func TestVectorIndexEmptyInputs(t *testing.T) {
	db, err := store.Open(store.DBPath(t.TempDir()))
	require.NoError(t, err)
	defer db.Close()

	v := NewVectorIndex(store.NewChunkStore(db), embedding.NewLocalClient(8), "local", nil, nil)
	require.NoError(t, v.AddDocuments(context.Background(), nil))

	results, err := v.SimilaritySearch(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = v.KeywordSearch("anything", 5)
	assert.ErrorIs(t, err, store.ErrIndexNotFound)
}

func TestProgressReporters(t *testing.T) {
	silent := NewProgress(false)
	assert.NotPanics(t, func() {
		silent.FilesFound(3)
		silent.FileChunked("a.go", 2)
		silent.Embedding(2)()
	})

	var buf bytes.Buffer
	p := &terminalProgress{w: &buf}
	p.FilesFound(2)
	p.FileChunked("a.go", 3)
	p.FileChunked("b.go", 2)
	assert.Equal(t, 5, p.chunks)
	p.Embedding(p.chunks)()
	assert.Nil(t, p.files)
	assert.NotEmpty(t, buf.String())
}
