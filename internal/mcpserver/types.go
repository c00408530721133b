package mcpserver

// AskInput defines inputs for the codesage_ask MCP tool.
type AskInput struct {
	Query string `json:"query" jsonschema:"question about the indexed codebase"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of chunks to retrieve before grading"`
}

// Source is one excerpt the answer was built from.
type Source struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
}

// AskOutput is the output for codesage_ask.
type AskOutput struct {
	Query         string   `json:"query"`
	EnhancedQuery string   `json:"enhanced_query"`
	Answer        string   `json:"answer"`
	UsedFallback  bool     `json:"used_fallback"`
	Sources       []Source `json:"sources"`
}

// SearchInput defines inputs for the codesage_search MCP tool.
type SearchInput struct {
	Query       string `json:"query" jsonschema:"search query (natural language or identifiers)"`
	TopK        int    `json:"top_k,omitempty" jsonschema:"number of results to return"`
	KeywordOnly bool   `json:"keyword_only,omitempty" jsonschema:"use the full-text index instead of vector search"`
}

// SearchScores includes per-signal scores for a result.
type SearchScores struct {
	Vector   float64 `json:"vector"`
	Symbol   float64 `json:"symbol"`
	Path     float64 `json:"path"`
	Keyword  float64 `json:"keyword,omitempty"`
	Combined float64 `json:"combined"`
}

// SearchResultItem is a compact representation of a search result.
type SearchResultItem struct {
	ChunkID   string       `json:"chunk_id"`
	FilePath  string       `json:"file_path"`
	Language  string       `json:"language"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
	Snippet   string       `json:"snippet"`
	Scores    SearchScores `json:"scores"`
}

// SearchOutput is the output for codesage_search.
type SearchOutput struct {
	Query   string             `json:"query"`
	Mode    string             `json:"mode"`
	Count   int                `json:"count"`
	Results []SearchResultItem `json:"results"`
}

// ReadInput defines inputs for the codesage_read MCP tool.
type ReadInput struct {
	ChunkID       string `json:"chunk_id,omitempty" jsonschema:"chunk ID from codesage_search results"`
	FilePath      string `json:"file_path,omitempty" jsonschema:"file path (absolute, or relative to the working directory)"`
	StartLine     int    `json:"start_line,omitempty" jsonschema:"start line (1-based)"`
	EndLine       int    `json:"end_line,omitempty" jsonschema:"end line (1-based, inclusive)"`
	ContextLines  int    `json:"context_lines,omitempty" jsonschema:"extra lines before and after"`
	MaxLines      int    `json:"max_lines,omitempty" jsonschema:"maximum lines to return (default 500)"`
	IncludeLineNo *bool  `json:"include_line_no,omitempty" jsonschema:"prefix lines with their number (default true)"`
}

// ReadOutput is the output for codesage_read.
type ReadOutput struct {
	FilePath   string `json:"file_path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
	Content    string `json:"content"`
	Truncated  bool   `json:"truncated"`
}

// StatusInput defines inputs for the codesage_status MCP tool.
type StatusInput struct{}

// LastRun describes the most recent ingestion.
type LastRun struct {
	ID         string `json:"id"`
	RepoPath   string `json:"repo_path"`
	Status     string `json:"status"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// IndexStats summarizes the index contents.
type IndexStats struct {
	Backend    string `json:"backend"`
	Chunks     int64  `json:"chunks"`
	Files      int64  `json:"files"`
	TextChunks uint64 `json:"text_chunks"`
	Model      string `json:"model,omitempty"`
	Dimension  int    `json:"dimension,omitempty"`
	Size       string `json:"size"`
}

// StatusOutput is the output for codesage_status.
type StatusOutput struct {
	Indexed     bool        `json:"indexed"`
	Location    string      `json:"location"`
	Stats       *IndexStats `json:"stats,omitempty"`
	LastRun     *LastRun    `json:"last_run,omitempty"`
	IndexAge    string      `json:"index_age,omitempty"`
	IsStale     bool        `json:"is_stale"`
	StaleReason string      `json:"stale_reason,omitempty"`
}
