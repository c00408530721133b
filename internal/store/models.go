package store

import (
	"fmt"
	"time"
)

// ChunkMetadata locates a chunk inside its source file.
// Lines are 1-based and inclusive.
type ChunkMetadata struct {
	FilePath  string `json:"file_path"`
	Language  string `json:"language"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// CodeChunk is a contiguous line range of a source file, the atomic
// retrieval unit. Two chunks are the same excerpt iff their IDs match.
type CodeChunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkID derives the identity of a chunk from its location.
func ChunkID(filePath string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d-%d", filePath, startLine, endLine)
}

// RetrievalResult is a chunk with its component scores and the fused
// FinalScore. It is passed by value; pipeline stages return new values
// instead of mutating their input.
type RetrievalResult struct {
	Chunk       CodeChunk `json:"chunk"`
	VectorScore float64   `json:"vector_score"`
	SymbolScore float64   `json:"symbol_score"`
	PathScore   float64   `json:"path_score"`
	GradeScore  float64   `json:"grade_score"`
	FinalScore  float64   `json:"final_score"`
}

// NewVectorResult builds the result a similarity search returns:
// only the vector score is set and FinalScore equals it.
func NewVectorResult(chunk CodeChunk, score float64) RetrievalResult {
	return RetrievalResult{
		Chunk:       chunk,
		VectorScore: score,
		FinalScore:  score,
	}
}

// IngestRun records one ingestion of a repository.
type IngestRun struct {
	ID         string     `json:"id"`
	RepoPath   string     `json:"repo_path"`
	Status     string     `json:"status"` // running | completed | failed
	Files      int        `json:"files"`
	Chunks     int        `json:"chunks"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Ingest run states.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// IndexStats summarizes what an index holds.
type IndexStats struct {
	Backend    string `json:"backend"`
	Location   string `json:"location"`
	Chunks     int64  `json:"chunks"`
	Files      int64  `json:"files"`
	Model      string `json:"model,omitempty"`
	Dimension  int    `json:"dimension,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	TextChunks uint64 `json:"text_chunks,omitempty"`
}
