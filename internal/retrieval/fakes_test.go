package retrieval

import (
	"context"
	"strings"
	"sync"

	"github.com/DreamCats/codesage/internal/store"
)

type searchCall struct {
	query string
	k     int
}

// fakeSearcher answers every query with the first k of results(query).
type fakeSearcher struct {
	mu      sync.Mutex
	calls   []searchCall
	results func(query string) []store.RetrievalResult
	err     error
}

func (f *fakeSearcher) SimilaritySearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{query: query, k: k})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.results == nil {
		return nil, nil
	}
	all := f.results(query)
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

func fixedResults(results ...store.RetrievalResult) func(string) []store.RetrievalResult {
	return func(string) []store.RetrievalResult { return results }
}

// scriptedLLM routes prompts to a responder per pipeline stage.
type scriptedLLM struct {
	mu      sync.Mutex
	prompts []string

	enhance func(prompt string) (string, error)
	grade   func(prompt string) (string, error)
	answer  func(prompt string) (string, error)
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	var respond func(string) (string, error)
	switch {
	case strings.HasPrefix(prompt, "You rewrite codebase queries"):
		respond = s.enhance
	case strings.HasPrefix(prompt, "You are grading retrieval quality"):
		respond = s.grade
	default:
		respond = s.answer
	}
	if respond == nil {
		return "", nil
	}
	return respond(prompt)
}

func (s *scriptedLLM) promptsWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func reply(s string) func(string) (string, error) {
	return func(string) (string, error) { return s, nil }
}

// streamingLLM also implements llm.Streamer.
type streamingLLM struct {
	*scriptedLLM
	segments []string
}

func (s *streamingLLM) Stream(ctx context.Context, prompt string, onSegment func(string) error) error {
	for _, seg := range s.segments {
		if err := onSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func result(path string, start, end int, content string, vector, final float64) store.RetrievalResult {
	return store.RetrievalResult{
		Chunk: store.CodeChunk{
			ID:      store.ChunkID(path, start, end),
			Content: content,
			Metadata: store.ChunkMetadata{
				FilePath:  path,
				Language:  "go",
				StartLine: start,
				EndLine:   end,
			},
		},
		VectorScore: vector,
		FinalScore:  final,
	}
}

func ids(results []store.RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}
