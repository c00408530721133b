package indexer

import (
	"strings"

	"github.com/DreamCats/codesage/internal/config"
	"github.com/DreamCats/codesage/internal/store"
)

// LineChunker cuts file content into overlapping windows of lines.
type LineChunker struct {
	chunkLines    int
	overlapLines  int
	minChunkLines int
}

// NewLineChunker creates a chunker. Non-positive sizes fall back to 80
// lines per chunk with a minimum of 6; overlap must stay below the size.
func NewLineChunker(chunkLines, overlapLines, minChunkLines int) *LineChunker {
	if chunkLines <= 0 {
		chunkLines = 80
	}
	if minChunkLines <= 0 {
		minChunkLines = 6
	}
	if overlapLines < 0 || overlapLines >= chunkLines {
		overlapLines = 0
	}
	return &LineChunker{
		chunkLines:    chunkLines,
		overlapLines:  overlapLines,
		minChunkLines: minChunkLines,
	}
}

// NewLineChunkerFromConfig creates a chunker from the ingest section.
func NewLineChunkerFromConfig(cfg config.IngestConfig) *LineChunker {
	return NewLineChunker(cfg.ChunkLines, cfg.OverlapLines, cfg.MinChunkLines)
}

// Chunk splits content on "\n". Windows shorter than the minimum are
// dropped; the next window starts overlapLines before the previous end.
// FilePath and Language are taken from meta, line numbers are 1-based.
func (c *LineChunker) Chunk(content string, meta store.ChunkMetadata) []store.CodeChunk {
	lines := strings.Split(content, "\n")
	var chunks []store.CodeChunk

	start := 0
	for start < len(lines) {
		end := min(start+c.chunkLines, len(lines))

		if end-start >= c.minChunkLines {
			m := store.ChunkMetadata{
				FilePath:  meta.FilePath,
				Language:  meta.Language,
				StartLine: start + 1,
				EndLine:   end,
			}
			chunks = append(chunks, store.CodeChunk{
				ID:       store.ChunkID(m.FilePath, m.StartLine, m.EndLine),
				Content:  strings.Join(lines[start:end], "\n"),
				Metadata: m,
			})
		}

		if end >= len(lines) {
			break
		}
		start = max(end-c.overlapLines, start+1)
	}

	return chunks
}
