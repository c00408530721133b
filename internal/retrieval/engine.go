// Package retrieval implements the corrective retrieval pipeline that
// answers questions about an indexed codebase: query enhancement, hybrid
// retrieval, grading, reranking, token budgeting and answer generation.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/DreamCats/codesage/internal/config"
	"github.com/DreamCats/codesage/internal/llm"
	"github.com/DreamCats/codesage/internal/store"
)

// Engine runs the stages for one question at a time. It holds no state
// between questions and is safe for concurrent use.
type Engine struct {
	enhancer  *QueryEnhancer
	retriever *HybridRetriever
	grader    *ContextGrader
	reranker  *Reranker
	optimizer *TokenOptimizer
	generator *AnswerGenerator
	topK      int
	logger    *slog.Logger
}

// NewEngine wires the pipeline over a vector searcher and a text generator.
func NewEngine(searcher VectorSearcher, gen llm.Generator, cfg config.PipelineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	minGrade := cfg.MinGrade
	if minGrade <= 0 {
		minGrade = DefaultMinGrade
	}
	return &Engine{
		enhancer:  NewQueryEnhancer(searcher, gen, cfg.SeedK, cfg.MaxSymbols, logger),
		retriever: NewHybridRetriever(searcher),
		grader:    NewContextGrader(gen, minGrade, cfg.GradeConcurrency, logger),
		reranker:  NewReranker(),
		optimizer: NewTokenOptimizer(cfg.MaxTokens, cfg.Utilization),
		generator: NewAnswerGenerator(gen),
		topK:      cfg.TopK,
		logger:    logger,
	}
}

// WithTopK returns a copy of the engine that retrieves k results.
func (e *Engine) WithTopK(k int) *Engine {
	cp := *e
	cp.topK = k
	return &cp
}

// WithMinGrade returns a copy of the engine with a different grade threshold.
func (e *Engine) WithMinGrade(minGrade int) *Engine {
	cp := *e
	g := *e.grader
	g.minGrade = minGrade
	cp.grader = &g
	return &cp
}

// Ask answers query.
func (e *Engine) Ask(ctx context.Context, query string) (string, error) {
	trace, err := e.AskWithTrace(ctx, query)
	if err != nil {
		return "", err
	}
	return trace.Answer, nil
}

// AskWithTrace answers query and reports the output of every stage.
func (e *Engine) AskWithTrace(ctx context.Context, query string) (*Trace, error) {
	trace, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	answer, err := e.generator.Generate(ctx, query, trace.Selected)
	if err != nil {
		return nil, err
	}
	trace.Answer = answer
	return trace, nil
}

// AskStream runs the same stages as AskWithTrace and streams the answer
// through onSegment.
func (e *Engine) AskStream(ctx context.Context, query string, onSegment func(string) error) (*Trace, error) {
	trace, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	answer, err := e.generator.Stream(ctx, query, trace.Selected, onSegment)
	if err != nil {
		return nil, err
	}
	trace.Answer = answer
	return trace, nil
}

// Search runs hybrid retrieval only, without the model.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	return e.retriever.Retrieve(ctx, query, k)
}

// prepare runs every stage up to answer generation.
func (e *Engine) prepare(ctx context.Context, query string) (*Trace, error) {
	start := time.Now()
	trace := &Trace{Query: query}

	enhancement, err := e.enhancer.Enhance(ctx, query)
	if err != nil {
		return nil, err
	}
	trace.Enhancement = enhancement
	e.logger.Debug("query enhanced", "original", query, "enhanced", enhancement.Enhanced)

	retrieved, fellBack, err := e.retrieveWithFallback(ctx, query, enhancement.Enhanced)
	if err != nil {
		return nil, err
	}
	trace.Retrieved = retrieved
	trace.UsedFallback = fellBack

	graded, err := e.grader.Grade(ctx, query, retrieved)
	if err != nil {
		return nil, err
	}
	trace.Graded = graded

	trace.Reranked = e.reranker.Rerank(unwrapGraded(graded))
	trace.Selected = e.optimizer.Optimize(trace.Reranked)

	e.logger.Debug("context prepared",
		"retrieved", len(retrieved),
		"fallback", fellBack,
		"graded", len(graded),
		"reranked", len(trace.Reranked),
		"selected", len(trace.Selected),
		"elapsed", time.Since(start))
	return trace, nil
}

// retrieveWithFallback retries with the original query exactly once when
// the enhanced query found nothing.
func (e *Engine) retrieveWithFallback(ctx context.Context, original, enhanced string) ([]store.RetrievalResult, bool, error) {
	primary, err := e.retriever.Retrieve(ctx, enhanced, e.topK)
	if err != nil {
		return nil, false, err
	}
	if len(primary) > 0 || enhanced == original {
		return primary, false, nil
	}

	e.logger.Debug("enhanced query found nothing, retrying with original", "query", original)
	results, err := e.retriever.Retrieve(ctx, original, e.topK)
	if err != nil {
		return nil, true, err
	}
	return results, true, nil
}

func unwrapGraded(graded []GradedResult) []store.RetrievalResult {
	out := make([]store.RetrievalResult, len(graded))
	for i, g := range graded {
		out[i] = g.RetrievalResult
	}
	return out
}
