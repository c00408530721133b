package retrieval

import (
	"context"

	"github.com/DreamCats/codesage/internal/store"
)

// VectorSearcher returns chunks ordered by descending vector similarity.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error)
}

// GradedResult is a retrieval result with the grade given by the model.
// Grade is always within [1, 10].
type GradedResult struct {
	store.RetrievalResult
	Grade       int    `json:"grade"`
	GradeReason string `json:"grade_reason"`
}

// QueryEnhancement records how a query was rewritten and from what hints.
type QueryEnhancement struct {
	Original  string   `json:"original"`
	Enhanced  string   `json:"enhanced"`
	FilePaths []string `json:"file_paths"`
	Symbols   []string `json:"symbols"`
}

// Trace holds the output of every stage of one question.
type Trace struct {
	Query        string                  `json:"query"`
	Enhancement  QueryEnhancement        `json:"enhancement"`
	Retrieved    []store.RetrievalResult `json:"retrieved"`
	UsedFallback bool                    `json:"used_fallback"`
	Graded       []GradedResult          `json:"graded"`
	Reranked     []store.RetrievalResult `json:"reranked"`
	Selected     []store.RetrievalResult `json:"selected"`
	Answer       string                  `json:"answer"`
}
