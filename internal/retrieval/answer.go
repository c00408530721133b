package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/DreamCats/codesage/internal/llm"
	"github.com/DreamCats/codesage/internal/store"
)

const (
	excerptSeparator = "\n\n---\n\n"
	noContext        = "No relevant context found."
)

// AnswerGenerator turns a question and its selected context into an answer.
type AnswerGenerator struct {
	llm llm.Generator
}

// NewAnswerGenerator creates an answer generator.
func NewAnswerGenerator(gen llm.Generator) *AnswerGenerator {
	return &AnswerGenerator{llm: gen}
}

// Generate returns the model response unmodified.
func (a *AnswerGenerator) Generate(ctx context.Context, query string, results []store.RetrievalResult) (string, error) {
	answer, err := a.llm.Generate(ctx, BuildAnswerPrompt(query, results))
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return answer, nil
}

// Stream delivers the answer through onSegment and returns the full text.
// Clients that cannot stream deliver the complete answer as one segment.
func (a *AnswerGenerator) Stream(ctx context.Context, query string, results []store.RetrievalResult, onSegment func(string) error) (string, error) {
	streamer, ok := a.llm.(llm.Streamer)
	if !ok {
		answer, err := a.Generate(ctx, query, results)
		if err != nil {
			return "", err
		}
		if err := onSegment(answer); err != nil {
			return "", err
		}
		return answer, nil
	}

	var sb strings.Builder
	err := streamer.Stream(ctx, BuildAnswerPrompt(query, results), func(segment string) error {
		sb.WriteString(segment)
		return onSegment(segment)
	})
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return sb.String(), nil
}

// BuildAnswerPrompt renders the answer prompt.
func BuildAnswerPrompt(query string, results []store.RetrievalResult) string {
	block := FormatContext(results)
	if block == "" {
		block = noContext
	}
	return strings.Join([]string{
		"You are a CRAG code assistant.",
		"Rules:",
		"1) Cite file paths for every key claim.",
		"2) Do not hallucinate APIs or files.",
		"3) If context is insufficient, explicitly say: Insufficient context.",
		"4) Keep answer concise and technical.",
		"",
		"Question:",
		query,
		"",
		"Context:",
		block,
		"",
		"Answer format:",
		"- Summary",
		"- Evidence (file paths)",
		"- Gaps",
	}, "\n")
}

// FormatContext renders results as FILE/LINES/SCORE excerpts.
func FormatContext(results []store.RetrievalResult) string {
	excerpts := make([]string, 0, len(results))
	for _, r := range results {
		meta := r.Chunk.Metadata
		excerpts = append(excerpts, fmt.Sprintf("FILE: %s\nLINES: %d-%d\nSCORE: %.3f\n%s",
			meta.FilePath, meta.StartLine, meta.EndLine, r.FinalScore, r.Chunk.Content))
	}
	return strings.Join(excerpts, excerptSeparator)
}
