package retrieval

import (
	"math"
	"sort"

	"github.com/DreamCats/codesage/internal/store"
)

// mergeGap is the largest number of lines between two chunks of the same
// file that still lets them merge into one excerpt.
const mergeGap = 3

// Reranker removes duplicate chunks and fuses neighbouring chunks of the
// same file into single excerpts.
type Reranker struct{}

// NewReranker creates a reranker.
func NewReranker() *Reranker {
	return &Reranker{}
}

// Rerank dedupes by chunk ID, merges adjacent same-file chunks and orders
// the result by descending FinalScore.
func (r *Reranker) Rerank(results []store.RetrievalResult) []store.RetrievalResult {
	unique := dedupe(results)
	merged := mergeAdjacent(unique)
	sortByFinal(merged)
	return merged
}

// dedupe keeps one result per chunk ID, the one with the higher final
// score (the earlier on ties), at the position where the ID first
// appeared. The output is ordered by descending final score.
func dedupe(results []store.RetrievalResult) []store.RetrievalResult {
	index := make(map[string]int, len(results))
	unique := make([]store.RetrievalResult, 0, len(results))
	for _, r := range results {
		if i, ok := index[r.Chunk.ID]; ok {
			if r.FinalScore > unique[i].FinalScore {
				unique[i] = r
			}
			continue
		}
		index[r.Chunk.ID] = len(unique)
		unique = append(unique, r)
	}
	sortByFinal(unique)
	return unique
}

// mergeAdjacent walks the results in (path, start line) order and merges
// each chunk into the previous one when both share a file and the chunk
// starts no more than mergeGap lines after the previous end.
func mergeAdjacent(results []store.RetrievalResult) []store.RetrievalResult {
	if len(results) == 0 {
		return []store.RetrievalResult{}
	}

	ordered := make([]store.RetrievalResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Chunk.Metadata, ordered[j].Chunk.Metadata
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.StartLine < b.StartLine
	})

	merged := []store.RetrievalResult{ordered[0]}
	for _, next := range ordered[1:] {
		prev := &merged[len(merged)-1]
		if prev.Chunk.Metadata.FilePath == next.Chunk.Metadata.FilePath &&
			next.Chunk.Metadata.StartLine <= prev.Chunk.Metadata.EndLine+mergeGap {
			*prev = mergePair(*prev, next)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

func mergePair(prev, next store.RetrievalResult) store.RetrievalResult {
	meta := prev.Chunk.Metadata
	if next.Chunk.Metadata.EndLine > meta.EndLine {
		meta.EndLine = next.Chunk.Metadata.EndLine
	}
	return store.RetrievalResult{
		Chunk: store.CodeChunk{
			ID:       prev.Chunk.ID + "+" + next.Chunk.ID,
			Content:  prev.Chunk.Content + "\n\n" + next.Chunk.Content,
			Metadata: meta,
		},
		VectorScore: math.Max(prev.VectorScore, next.VectorScore),
		SymbolScore: math.Max(prev.SymbolScore, next.SymbolScore),
		PathScore:   math.Max(prev.PathScore, next.PathScore),
		GradeScore:  math.Max(prev.GradeScore, next.GradeScore),
		FinalScore:  math.Max(prev.FinalScore, next.FinalScore),
	}
}

func sortByFinal(results []store.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
}
