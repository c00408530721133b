package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PGVectorStore is a ChunkBackend on Postgres with the pgvector extension.
// Ordering uses the cosine distance operator, score is 1 - distance.
type PGVectorStore struct {
	db  *sql.DB
	dsn string
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS codesage_chunks (
    id TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    language TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding vector NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    seq BIGSERIAL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_codesage_chunks_file_path ON codesage_chunks(file_path);
`

// OpenPGVectorStore connects to Postgres and makes sure the table exists.
func OpenPGVectorStore(ctx context.Context, dsn string) (*PGVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pgvector schema: %w", err)
	}

	return &PGVectorStore{db: db, dsn: dsn}, nil
}

// Close closes the connection pool
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

// UpsertChunks writes chunks and vectors in one transaction.
func (s *PGVectorStore) UpsertChunks(ctx context.Context, chunks []CodeChunk, vectors [][]float32, model string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO codesage_chunks (id, file_path, language, start_line, end_line, content, embedding, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			language = EXCLUDED.language,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			updated_at = now()
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("chunk %s has an empty vector", chunk.ID)
		}
		meta := chunk.Metadata
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, meta.FilePath, meta.Language, meta.StartLine, meta.EndLine,
			chunk.Content, pgvector.NewVector(vectors[i]), model,
		); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// SearchChunks returns the k nearest chunks by cosine distance.
func (s *PGVectorStore) SearchChunks(ctx context.Context, query []float32, k int) ([]RetrievalResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return []RetrievalResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, language, start_line, end_line, content,
		       1 - (embedding <=> $1) AS score
		FROM codesage_chunks
		WHERE vector_dims(embedding) = $2
		ORDER BY embedding <=> $1, seq
		LIMIT $3
	`, pgvector.NewVector(query), len(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	results := []RetrievalResult{}
	for rows.Next() {
		var chunk CodeChunk
		var score float64
		if err := rows.Scan(
			&chunk.ID, &chunk.Metadata.FilePath, &chunk.Metadata.Language,
			&chunk.Metadata.StartLine, &chunk.Metadata.EndLine, &chunk.Content, &score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, NewVectorResult(chunk, score))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// GetChunk returns a stored chunk, or nil if the ID is unknown.
func (s *PGVectorStore) GetChunk(ctx context.Context, id string) (*CodeChunk, error) {
	var chunk CodeChunk
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, language, start_line, end_line, content
		FROM codesage_chunks WHERE id = $1
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

// Stats reports chunk, file and model information for the index.
func (s *PGVectorStore) Stats(ctx context.Context) (IndexStats, error) {
	stats := IndexStats{Backend: "pgvector", Location: "codesage_chunks"}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT file_path) FROM codesage_chunks",
	).Scan(&stats.Chunks, &stats.Files); err != nil {
		return IndexStats{}, fmt.Errorf("failed to read chunk stats: %w", err)
	}

	var model sql.NullString
	var dimension sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT model, vector_dims(embedding) FROM codesage_chunks ORDER BY updated_at DESC LIMIT 1",
	).Scan(&model, &dimension)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return IndexStats{}, fmt.Errorf("failed to read model info: %w", err)
	}
	stats.Model = model.String
	stats.Dimension = int(dimension.Int64)

	return stats, nil
}

// Clear removes all chunks.
func (s *PGVectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE codesage_chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	return nil
}
