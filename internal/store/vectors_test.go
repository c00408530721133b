package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DBPath(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testChunk(path string, start, end int, content string) CodeChunk {
	return CodeChunk{
		ID:      ChunkID(path, start, end),
		Content: content,
		Metadata: ChunkMetadata{
			FilePath:  path,
			Language:  "go",
			StartLine: start,
			EndLine:   end,
		},
	}
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "/repo/a.go:1-80", ChunkID("/repo/a.go", 1, 80))
}

func TestNewVectorResult(t *testing.T) {
	r := NewVectorResult(testChunk("a.go", 1, 6, "x"), 0.42)
	assert.Equal(t, 0.42, r.VectorScore)
	assert.Equal(t, 0.42, r.FinalScore)
	assert.Zero(t, r.SymbolScore)
	assert.Zero(t, r.PathScore)
	assert.Zero(t, r.GradeScore)
}

func TestChunkStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewChunkStore(openTestDB(t))

	chunks := []CodeChunk{
		testChunk("a.go", 1, 10, "package a"),
		testChunk("b.go", 1, 10, "package b"),
	}
	vectors := [][]float32{{1, 0}, {0, 1}}

	require.NoError(t, s.UpsertChunks(ctx, chunks, vectors, "m1"))
	require.NoError(t, s.UpsertChunks(ctx, chunks, vectors, "m1"))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	updated := testChunk("a.go", 1, 10, "package a // changed")
	require.NoError(t, s.UpsertChunks(ctx, []CodeChunk{updated}, [][]float32{{1, 0}}, "m2"))

	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	got, err := s.GetChunk(ctx, updated.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "package a // changed", got.Content)
	assert.Equal(t, updated.Metadata, got.Metadata)
}

func TestChunkStoreUpsertRejectsMismatch(t *testing.T) {
	s := NewChunkStore(openTestDB(t))
	err := s.UpsertChunks(context.Background(), []CodeChunk{testChunk("a.go", 1, 2, "x")}, nil, "m")
	assert.Error(t, err)
}

func TestChunkStoreSearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	s := NewChunkStore(openTestDB(t))

	chunks := []CodeChunk{
		testChunk("x.go", 1, 10, "x"),
		testChunk("y.go", 1, 10, "y"),
		testChunk("xy.go", 1, 10, "xy"),
		testChunk("other.go", 1, 10, "3d"),
	}
	vectors := [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}, {1, 0, 0}}
	require.NoError(t, s.UpsertChunks(ctx, chunks, vectors, "m"))

	results, err := s.SearchChunks(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3, "rows of another dimension are skipped")

	assert.Equal(t, "x.go", results[0].Chunk.Metadata.FilePath)
	assert.Equal(t, "xy.go", results[1].Chunk.Metadata.FilePath)
	assert.Equal(t, "y.go", results[2].Chunk.Metadata.FilePath)
	assert.InDelta(t, 1.0, results[0].VectorScore, 1e-6)
	for _, r := range results {
		assert.Equal(t, r.VectorScore, r.FinalScore)
		assert.Zero(t, r.SymbolScore)
	}

	top, err := s.SearchChunks(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "x.go", top[0].Chunk.Metadata.FilePath)
}

func TestChunkStoreSearchTiesKeepStorageOrder(t *testing.T) {
	ctx := context.Background()
	s := NewChunkStore(openTestDB(t))

	chunks := []CodeChunk{
		testChunk("first.go", 1, 10, "a"),
		testChunk("second.go", 1, 10, "b"),
	}
	require.NoError(t, s.UpsertChunks(ctx, chunks, [][]float32{{1, 1}, {2, 2}}, "m"))

	results, err := s.SearchChunks(ctx, []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first.go", results[0].Chunk.Metadata.FilePath)
	assert.Equal(t, "second.go", results[1].Chunk.Metadata.FilePath)
}

func TestChunkStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewChunkStore(openTestDB(t))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)

	chunks := []CodeChunk{
		testChunk("a.go", 1, 10, "a"),
		testChunk("a.go", 5, 15, "a2"),
		testChunk("b.go", 1, 10, "b"),
	}
	require.NoError(t, s.UpsertChunks(ctx, chunks, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, "nomic-embed-text"))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, int64(3), stats.Chunks)
	assert.Equal(t, int64(2), stats.Files)
	assert.Equal(t, "nomic-embed-text", stats.Model)
	assert.Equal(t, 3, stats.Dimension)
}

func TestOpenExistingMissing(t *testing.T) {
	_, err := OpenExisting(filepath.Join(t.TempDir(), "nope", DBFileName))
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestOpenExistingAfterOpen(t *testing.T) {
	path := DBPath(t.TempDir())
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenExisting(path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestBlobRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.125}
	blob, err := vectorToBlob(in)
	require.NoError(t, err)
	out, err := blobToVector(blob)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = blobToVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRunStore(t *testing.T) {
	ctx := context.Background()
	runs := NewRunStore(openTestDB(t))

	latest, err := runs.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	run, err := runs.Start(ctx, "/repo")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, runs.Finish(ctx, run, 2, 5, nil))

	failed, err := runs.Start(ctx, "/other")
	require.NoError(t, err)
	require.NoError(t, runs.Finish(ctx, failed, 0, 0, errors.New("no source files found in /other")))

	latest, err = runs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, failed.ID, latest.ID)
	assert.Equal(t, RunStatusFailed, latest.Status)
	assert.Contains(t, latest.Error, "no source files")
	assert.NotNil(t, latest.FinishedAt)

	all, err := runs.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, run.ID, all[1].ID)
	assert.Equal(t, 5, all[1].Chunks)
	assert.Equal(t, RunStatusCompleted, all[1].Status)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewChunkStore(db)
	require.NoError(t, s.UpsertChunks(ctx, []CodeChunk{testChunk("a.go", 1, 2, "a")}, [][]float32{{1}}, "m"))

	require.NoError(t, db.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSearchChunksHugeKReturnsStoredRows(t *testing.T) {
	ctx := context.Background()
	s := NewChunkStore(openTestDB(t))
	require.NoError(t, s.UpsertChunks(ctx, []CodeChunk{testChunk("a.go", 1, 10, "package a")}, [][]float32{{1, 0}}, "m1"))

	results, err := s.SearchChunks(ctx, []float32{1, 0}, 300_000_000_000)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.go:1-10", results[0].Chunk.ID)
}
