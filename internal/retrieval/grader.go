package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/DreamCats/codesage/internal/llm"
	"github.com/DreamCats/codesage/internal/store"
)

// DefaultMinGrade is the lowest grade that survives grading.
const DefaultMinGrade = 6

const (
	defaultGrade       = 5
	parseFailureReason = "Failed to parse grading output."
	noReason           = "No reason provided."
)

// Grade is a decoded grading response. Score is clamped to [1, 10] but
// keeps any fraction the model returned.
type Grade struct {
	Score  float64 `json:"grade"`
	Reason string  `json:"reason"`
}

// ContextGrader asks the model to grade each result against the query and
// drops results graded below the threshold.
type ContextGrader struct {
	llm         llm.Generator
	minGrade    int
	concurrency int
	logger      *slog.Logger
}

// NewContextGrader creates a grader. concurrency <= 1 grades sequentially.
func NewContextGrader(gen llm.Generator, minGrade, concurrency int, logger *slog.Logger) *ContextGrader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextGrader{
		llm:         gen,
		minGrade:    minGrade,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Grade grades every result. The threshold is compared against the
// unrounded grade. Survivors keep input order and get GradeScore = grade/10
// added to FinalScore. A service error aborts.
func (g *ContextGrader) Grade(ctx context.Context, query string, results []store.RetrievalResult) ([]GradedResult, error) {
	grades := make([]Grade, len(results))

	if g.concurrency <= 1 {
		for i, r := range results {
			grade, err := g.gradeOne(ctx, query, r)
			if err != nil {
				return nil, err
			}
			grades[i] = grade
		}
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(g.concurrency)
		for i, r := range results {
			eg.Go(func() error {
				grade, err := g.gradeOne(egCtx, query, r)
				if err != nil {
					return err
				}
				grades[i] = grade
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	graded := make([]GradedResult, 0, len(results))
	for i, r := range results {
		grade := grades[i]
		if grade.Score < float64(g.minGrade) {
			continue
		}
		out := r
		out.GradeScore = grade.Score / 10
		out.FinalScore = r.FinalScore + out.GradeScore
		graded = append(graded, GradedResult{
			RetrievalResult: out,
			Grade:           int(math.Round(grade.Score)),
			GradeReason:     grade.Reason,
		})
	}
	return graded, nil
}

func (g *ContextGrader) gradeOne(ctx context.Context, query string, r store.RetrievalResult) (Grade, error) {
	raw, err := g.llm.Generate(ctx, BuildGradePrompt(query, r))
	if err != nil {
		return Grade{}, fmt.Errorf("grade %s: %w", r.Chunk.ID, err)
	}

	parsed := ParseGrade(raw)
	if parsed.Fallback {
		g.logger.Debug("unparseable grading output", "chunk", r.Chunk.ID, "error", parsed.Err)
	}
	return parsed.Value, nil
}

// BuildGradePrompt renders the grading prompt for one result.
func BuildGradePrompt(query string, r store.RetrievalResult) string {
	return strings.Join([]string{
		"You are grading retrieval quality for code question answering.",
		`Return strict JSON only: {"grade": number, "reason": string}`,
		"Grade from 1 to 10.",
		"Query: " + query,
		"File: " + r.Chunk.Metadata.FilePath,
		"Code chunk:\n" + r.Chunk.Content,
	}, "\n\n")
}

// ParseGrade decodes a grading response as strict JSON. Anything that is
// not a JSON object falls back to grade 5. A missing or non-numeric grade
// is 5 and a missing reason is "No reason provided."; the grade is clamped
// to [1, 10].
func ParseGrade(raw string) ParseResult[Grade] {
	v, err := decodeJSON(raw)
	if err == nil {
		var obj map[string]any
		if obj, err = asObject(v); err == nil {
			score := numberField(obj, "grade").OrElse(defaultGrade)
			return Parsed(Grade{
				Score:  clampGrade(score),
				Reason: stringField(obj, "reason").OrElse(noReason),
			})
		}
	}
	return FellBack(Grade{Score: defaultGrade, Reason: parseFailureReason}, err)
}

func clampGrade(score float64) float64 {
	return math.Max(1, math.Min(10, score))
}
