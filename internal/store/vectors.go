package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DreamCats/codesage/internal/embedding"
)

// ChunkBackend persists chunks with their vectors and answers nearest
// neighbour queries. Upserts are keyed by chunk ID.
type ChunkBackend interface {
	UpsertChunks(ctx context.Context, chunks []CodeChunk, vectors [][]float32, model string) error
	SearchChunks(ctx context.Context, query []float32, k int) ([]RetrievalResult, error)
	GetChunk(ctx context.Context, id string) (*CodeChunk, error)
	Stats(ctx context.Context) (IndexStats, error)
}

// ChunkStore is the sqlite ChunkBackend. Search is a brute-force cosine
// scan, which is fine for a single repository.
type ChunkStore struct {
	db *DB
}

// NewChunkStore creates a new chunk store
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

const upsertChunkSQL = `
	INSERT INTO chunks (id, file_path, language, start_line, end_line, content, vector, dimension, model, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		file_path = excluded.file_path,
		language = excluded.language,
		start_line = excluded.start_line,
		end_line = excluded.end_line,
		content = excluded.content,
		vector = excluded.vector,
		dimension = excluded.dimension,
		model = excluded.model,
		updated_at = excluded.updated_at
`

// UpsertChunks writes chunks and their vectors in one transaction.
// Re-adding an ID replaces the stored row.
func (s *ChunkStore) UpsertChunks(ctx context.Context, chunks []CodeChunk, vectors [][]float32, model string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertChunkSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())

	for i, chunk := range chunks {
		vector := vectors[i]
		if len(vector) == 0 {
			return fmt.Errorf("chunk %s has an empty vector", chunk.ID)
		}

		blob, err := vectorToBlob(vector)
		if err != nil {
			return fmt.Errorf("failed to convert vector %d to blob: %w", i, err)
		}

		meta := chunk.Metadata
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, meta.FilePath, meta.Language, meta.StartLine, meta.EndLine,
			chunk.Content, blob, len(vector), model, now,
		); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// SearchChunks returns the k chunks most similar to the query vector,
// ordered by descending cosine similarity. Ties keep storage order.
func (s *ChunkStore) SearchChunks(ctx context.Context, query []float32, k int) ([]RetrievalResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return []RetrievalResult{}, nil
	}

	rows, err := s.db.sqlDB.QueryContext(ctx, `
		SELECT id, file_path, language, start_line, end_line, content, vector
		FROM chunks ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	results := []RetrievalResult{}
	for rows.Next() {
		var chunk CodeChunk
		var blob []byte
		if err := rows.Scan(
			&chunk.ID, &chunk.Metadata.FilePath, &chunk.Metadata.Language,
			&chunk.Metadata.StartLine, &chunk.Metadata.EndLine, &chunk.Content, &blob,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		vector, err := blobToVector(blob)
		if err != nil {
			continue // malformed row
		}
		// Rows embedded by another model cannot be compared.
		if len(vector) != len(query) {
			continue
		}

		score := float64(embedding.Similarity(query, vector))
		results = append(results, NewVectorResult(chunk, score))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].VectorScore > results[j].VectorScore
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// GetChunk returns a stored chunk, or nil if the ID is unknown.
func (s *ChunkStore) GetChunk(ctx context.Context, id string) (*CodeChunk, error) {
	var chunk CodeChunk
	err := s.db.sqlDB.QueryRowContext(ctx, `
		SELECT id, file_path, language, start_line, end_line, content
		FROM chunks WHERE id = ?
	`, id).Scan(
		&chunk.ID, &chunk.Metadata.FilePath, &chunk.Metadata.Language,
		&chunk.Metadata.StartLine, &chunk.Metadata.EndLine, &chunk.Content,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &chunk, nil
}

// Count returns the number of chunks stored
func (s *ChunkStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// Clear removes all chunks, keeping the run history.
func (s *ChunkStore) Clear(ctx context.Context) error {
	if _, err := s.db.sqlDB.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	return nil
}

// Stats reports chunk, file and model information for the index.
func (s *ChunkStore) Stats(ctx context.Context) (IndexStats, error) {
	stats := IndexStats{
		Backend:   "sqlite",
		Location:  s.db.Path(),
		SizeBytes: s.db.SizeBytes(),
	}

	if err := s.db.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT file_path) FROM chunks",
	).Scan(&stats.Chunks, &stats.Files); err != nil {
		return IndexStats{}, fmt.Errorf("failed to read chunk stats: %w", err)
	}

	var model sql.NullString
	var dimension sql.NullInt64
	err := s.db.sqlDB.QueryRowContext(ctx,
		"SELECT model, dimension FROM chunks ORDER BY updated_at DESC LIMIT 1",
	).Scan(&model, &dimension)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return IndexStats{}, fmt.Errorf("failed to read model info: %w", err)
	}
	stats.Model = model.String
	stats.Dimension = int(dimension.Int64)

	return stats, nil
}

// vectorToBlob converts a float32 slice to a little-endian byte blob
func vectorToBlob(vector []float32) ([]byte, error) {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// blobToVector converts a little-endian byte blob back to a float32 slice
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid blob length: %d", len(blob))
	}

	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
