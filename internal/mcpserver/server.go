package mcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DreamCats/codesage/internal/config"
	"github.com/DreamCats/codesage/internal/indexer"
	"github.com/DreamCats/codesage/internal/llm"
	"github.com/DreamCats/codesage/internal/retrieval"
	"github.com/DreamCats/codesage/internal/store"
)

const (
	defaultMaxLines = 500
	snippetLines    = 12
	staleAfter      = 24 * time.Hour
)

// Server exposes codesage ask/search/read/status via MCP stdio.
type Server struct {
	cfg       *config.Config
	version   string
	logger    *slog.Logger
	generator func(*config.ChatConfig) (llm.Generator, error)
}

// Option configures a Server.
type Option func(*Server)

// WithGenerator makes every ask call use gen instead of the configured
// chat provider.
func WithGenerator(gen llm.Generator) Option {
	return func(s *Server) {
		s.generator = func(*config.ChatConfig) (llm.Generator, error) { return gen, nil }
	}
}

// New creates a new MCP server wrapper.
func New(cfg *config.Config, version string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		version:   version,
		logger:    logger,
		generator: llm.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the MCP stdio server.
func (s *Server) Run(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "codesage",
		Title:   "CodeSage",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "codesage_ask",
		Description: `Answer a question about the indexed codebase.

The question is rewritten with hints from the index, relevant chunks are
retrieved, graded by the model and budgeted before the answer is written.
Returns the answer plus the file excerpts it was built from.`,
	}, s.askTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "codesage_search",
		Description: "Find code chunks by hybrid vector + lexical scoring, or by full-text search with keyword_only.",
	}, s.searchTool)

	mcp.AddTool(server, &mcp.Tool{
		Name: "codesage_read",
		Description: `Read source code by chunk ID or file path.

Usage modes:
1. By chunk_id: read the lines of a chunk returned by codesage_search
2. By file_path + line range: read specific lines from a file

Options:
- context_lines: Add extra lines before/after for context
- max_lines: Limit output size (default: 500)
- include_line_no: Include line numbers in output (default: true)`,
	}, s.readTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "codesage_status",
		Description: "Check whether an index exists, what it holds and when it was last ingested.",
	}, s.statusTool)

	s.logger.Info("mcp server started", "index", s.cfg.Index.Dir, "backend", s.cfg.Index.Backend)
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) askTool(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, AskOutput{}, fmt.Errorf("query is required")
	}
	if err := checkTopK(input.TopK); err != nil {
		return nil, AskOutput{}, err
	}

	idx, err := indexer.Open(ctx, s.cfg, indexer.ForRead, s.logger)
	if err != nil {
		return nil, AskOutput{}, err
	}
	defer idx.Close()

	gen, err := s.generator(&s.cfg.Chat)
	if err != nil {
		return nil, AskOutput{}, err
	}

	engine := retrieval.NewEngine(idx.Vectors, gen, s.cfg.Pipeline, s.logger)
	if input.TopK > 0 {
		engine = engine.WithTopK(input.TopK)
	}
	trace, err := engine.AskWithTrace(ctx, query)
	if err != nil {
		return nil, AskOutput{}, err
	}

	output := AskOutput{
		Query:         query,
		EnhancedQuery: trace.Enhancement.Enhanced,
		Answer:        trace.Answer,
		UsedFallback:  trace.UsedFallback,
		Sources:       make([]Source, 0, len(trace.Selected)),
	}
	for _, r := range trace.Selected {
		meta := r.Chunk.Metadata
		output.Sources = append(output.Sources, Source{
			ChunkID:   r.Chunk.ID,
			FilePath:  meta.FilePath,
			StartLine: meta.StartLine,
			EndLine:   meta.EndLine,
			Score:     r.FinalScore,
		})
	}
	return nil, output, nil
}

func (s *Server) searchTool(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	if err := checkTopK(input.TopK); err != nil {
		return nil, SearchOutput{}, err
	}
	topK := pickInt(input.TopK, s.cfg.Pipeline.TopK)

	idx, err := indexer.Open(ctx, s.cfg, indexer.ForRead, s.logger)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	defer idx.Close()

	if input.KeywordOnly {
		expander, err := store.LoadSynonymsFile(s.cfg.Search.SynonymsFile)
		if err != nil {
			s.logger.Warn("failed to load synonyms file", "error", err)
		}
		hits, err := idx.Vectors.KeywordSearch(expander.Expand(query), topK)
		if err != nil {
			return nil, SearchOutput{}, err
		}
		return nil, SearchOutput{
			Query:   query,
			Mode:    "keyword",
			Count:   len(hits),
			Results: mapTextHits(hits),
		}, nil
	}

	results, err := retrieval.NewHybridRetriever(idx.Vectors).Retrieve(ctx, query, topK)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{
		Query:   query,
		Mode:    "hybrid",
		Count:   len(results),
		Results: mapSearchResults(results),
	}, nil
}

func (s *Server) readTool(ctx context.Context, _ *mcp.CallToolRequest, input ReadInput) (*mcp.CallToolResult, ReadOutput, error) {
	if input.ChunkID == "" && input.FilePath == "" {
		return nil, ReadOutput{}, fmt.Errorf("either chunk_id or file_path is required")
	}

	maxLines := pickInt(input.MaxLines, defaultMaxLines)
	includeLineNo := true
	if input.IncludeLineNo != nil {
		includeLineNo = *input.IncludeLineNo
	}

	if input.ChunkID != "" {
		return s.readByChunkID(ctx, input.ChunkID, input.ContextLines, maxLines, includeLineNo)
	}
	return readByFilePath(input.FilePath, input.StartLine, input.EndLine, input.ContextLines, maxLines, includeLineNo)
}

func (s *Server) readByChunkID(ctx context.Context, chunkID string, contextLines, maxLines int, includeLineNo bool) (*mcp.CallToolResult, ReadOutput, error) {
	idx, err := indexer.Open(ctx, s.cfg, indexer.ForRead, s.logger)
	if err != nil {
		return nil, ReadOutput{}, err
	}
	defer idx.Close()

	chunk, err := idx.Vectors.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, ReadOutput{}, fmt.Errorf("failed to get chunk: %w", err)
	}
	if chunk == nil {
		return nil, ReadOutput{}, fmt.Errorf("chunk not found: %s", chunkID)
	}

	meta := chunk.Metadata
	return readByFilePath(meta.FilePath, meta.StartLine, meta.EndLine, contextLines, maxLines, includeLineNo)
}

func readByFilePath(filePath string, startLine, endLine, contextLines, maxLines int, includeLineNo bool) (*mcp.CallToolResult, ReadOutput, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, ReadOutput{}, fmt.Errorf("invalid file path %s: %w", filePath, err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, ReadOutput{}, fmt.Errorf("file not found: %s", filePath)
	}

	// Whole file (up to maxLines) when no range is given.
	if startLine <= 0 && endLine <= 0 {
		startLine = 1
		endLine = maxLines
	}
	if endLine <= 0 {
		endLine = startLine + maxLines - 1
	}

	startLine = max(1, startLine-contextLines)
	endLine += contextLines

	content, actualStart, actualEnd, truncated, err := readFileLines(absPath, startLine, endLine, maxLines, includeLineNo)
	if err != nil {
		return nil, ReadOutput{}, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	output := ReadOutput{
		FilePath:   filePath,
		StartLine:  actualStart,
		EndLine:    actualEnd,
		TotalLines: actualEnd - actualStart + 1,
		Content:    content,
		Truncated:  truncated,
	}
	if content == "" {
		output.TotalLines = 0
	}
	return nil, output, nil
}

// readFileLines reads specific lines from a file with optional line numbers.
func readFileLines(filePath string, startLine, endLine, maxLines int, includeLineNo bool) (content string, actualStart int, actualEnd int, truncated bool, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", 0, 0, false, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	currentLine := 0

	for scanner.Scan() {
		currentLine++
		if currentLine < startLine {
			continue
		}
		if currentLine > endLine {
			break
		}
		if len(lines) >= maxLines {
			truncated = true
			break
		}

		if includeLineNo {
			lines = append(lines, fmt.Sprintf("%4d\t%s", currentLine, scanner.Text()))
		} else {
			lines = append(lines, scanner.Text())
		}
		if actualStart == 0 {
			actualStart = currentLine
		}
		actualEnd = currentLine
	}
	if err := scanner.Err(); err != nil {
		return "", 0, 0, false, err
	}

	if len(lines) == 0 {
		return "", startLine, startLine, false, nil
	}
	return strings.Join(lines, "\n"), actualStart, actualEnd, truncated, nil
}

func (s *Server) statusTool(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	output := StatusOutput{
		Location: s.cfg.Index.Dir,
		IsStale:  true,
	}

	idx, err := indexer.Open(ctx, s.cfg, indexer.ForRead, s.logger)
	if err != nil {
		if errors.Is(err, store.ErrIndexNotFound) {
			output.StaleReason = "Index does not exist. Run 'codesage ingest' to create it."
			return nil, output, nil
		}
		output.StaleReason = fmt.Sprintf("Failed to open index: %v", err)
		return nil, output, nil
	}
	defer idx.Close()

	stats, err := idx.Stats(ctx)
	if err != nil {
		output.StaleReason = fmt.Sprintf("Failed to read index stats: %v", err)
		return nil, output, nil
	}
	output.Location = stats.Location
	output.Stats = &IndexStats{
		Backend:    stats.Backend,
		Chunks:     stats.Chunks,
		Files:      stats.Files,
		TextChunks: stats.TextChunks,
		Model:      stats.Model,
		Dimension:  stats.Dimension,
		Size:       formatBytes(stats.SizeBytes),
	}

	run, err := idx.Runs.Latest(ctx)
	if err != nil {
		output.StaleReason = fmt.Sprintf("Failed to read ingest history: %v", err)
		return nil, output, nil
	}
	if run == nil || stats.Chunks == 0 {
		output.StaleReason = "Index is empty. Run 'codesage ingest' to populate it."
		if run != nil {
			output.LastRun = toLastRun(run)
		}
		return nil, output, nil
	}

	output.Indexed = true
	output.LastRun = toLastRun(run)

	if run.Status == store.RunStatusFailed {
		output.StaleReason = fmt.Sprintf("Last ingest failed: %s", run.Error)
		return nil, output, nil
	}

	finished := run.StartedAt
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	indexAge := time.Since(finished)
	output.IndexAge = formatDuration(indexAge)

	switch {
	case indexAge > staleAfter:
		output.IsStale = true
		output.StaleReason = fmt.Sprintf("Index is %s old. Consider re-ingesting for latest changes.", output.IndexAge)
	case indexAge > time.Hour:
		output.IsStale = false
		output.StaleReason = fmt.Sprintf("Index is %s old. Recent changes may not be reflected.", output.IndexAge)
	default:
		output.IsStale = false
	}
	return nil, output, nil
}

func toLastRun(run *store.IngestRun) *LastRun {
	out := &LastRun{
		ID:        run.ID,
		RepoPath:  run.RepoPath,
		Status:    run.Status,
		Files:     run.Files,
		Chunks:    run.Chunks,
		Error:     run.Error,
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		out.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// formatBytes formats bytes to human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats duration to human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}

func mapSearchResults(results []store.RetrievalResult) []SearchResultItem {
	items := make([]SearchResultItem, 0, len(results))
	for _, r := range results {
		meta := r.Chunk.Metadata
		items = append(items, SearchResultItem{
			ChunkID:   r.Chunk.ID,
			FilePath:  meta.FilePath,
			Language:  meta.Language,
			StartLine: meta.StartLine,
			EndLine:   meta.EndLine,
			Snippet:   snippet(r.Chunk.Content),
			Scores: SearchScores{
				Vector:   r.VectorScore,
				Symbol:   r.SymbolScore,
				Path:     r.PathScore,
				Combined: r.FinalScore,
			},
		})
	}
	return items
}

func mapTextHits(hits []store.TextHit) []SearchResultItem {
	items := make([]SearchResultItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, SearchResultItem{
			ChunkID:   h.ID,
			FilePath:  h.FilePath,
			Language:  h.Language,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Snippet:   snippet(h.Content),
			Scores: SearchScores{
				Keyword:  h.Score,
				Combined: h.Score,
			},
		})
	}
	return items
}

// snippet keeps the first lines of a chunk.
func snippet(content string) string {
	lines := strings.SplitN(content, "\n", snippetLines+1)
	if len(lines) > snippetLines {
		return strings.Join(lines[:snippetLines], "\n") + "\n..."
	}
	return content
}

// checkTopK rejects a client top_k above config.MaxTopK. Zero or less means
// the configured default.
func checkTopK(topK int) error {
	if topK > config.MaxTopK {
		return fmt.Errorf("top_k must be at most %d, got: %d", config.MaxTopK, topK)
	}
	return nil
}

func pickInt(input int, fallback int) int {
	if input > 0 {
		return input
	}
	return fallback
}
