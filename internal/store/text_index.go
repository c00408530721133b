package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// TextDirName is the bleve index directory inside the index directory.
const TextDirName = "text.bleve"

// TextIndex mirrors chunks into a bleve full-text index so they can be
// found by keyword as well as by vector.
type TextIndex struct {
	index bleve.Index
	dir   string
}

// TextHit is one keyword search match.
type TextHit struct {
	ID        string  `json:"id"`
	FilePath  string  `json:"file_path"`
	Language  string  `json:"language"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

type textDoc struct {
	Content   string `json:"content"`
	Path      string `json:"path"`
	Language  string `json:"language"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

const textBatchSize = 500

// OpenTextIndex opens the index at dir, creating it if needed.
func OpenTextIndex(dir string) (*TextIndex, error) {
	if _, err := os.Stat(dir); err == nil {
		index, err := bleve.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("open bleve index: %w", err)
		}
		return &TextIndex{index: index, dir: dir}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat text index dir: %w", err)
	}

	index, err := bleve.New(dir, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &TextIndex{index: index, dir: dir}, nil
}

// OpenExistingTextIndex opens an index created by a previous ingestion.
func OpenExistingTextIndex(dir string) (*TextIndex, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("stat text index dir: %w", err)
	}
	return OpenTextIndex(dir)
}

// IndexChunks adds or replaces chunks, keyed by chunk ID.
func (t *TextIndex) IndexChunks(chunks []CodeChunk) error {
	batch := t.index.NewBatch()
	for _, chunk := range chunks {
		doc := textDoc{
			Content:   chunk.Content,
			Path:      chunk.Metadata.FilePath,
			Language:  chunk.Metadata.Language,
			StartLine: chunk.Metadata.StartLine,
			EndLine:   chunk.Metadata.EndLine,
		}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", chunk.ID, err)
		}
		if batch.Size() >= textBatchSize {
			if err := t.index.Batch(batch); err != nil {
				return fmt.Errorf("flush text batch: %w", err)
			}
			batch = t.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := t.index.Batch(batch); err != nil {
			return fmt.Errorf("flush text batch: %w", err)
		}
	}
	return nil
}

// Reset drops every document by recreating the index in place.
func (t *TextIndex) Reset() error {
	if err := t.index.Close(); err != nil {
		return fmt.Errorf("close bleve index: %w", err)
	}
	if err := os.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("remove text index: %w", err)
	}
	index, err := bleve.New(t.dir, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create bleve index: %w", err)
	}
	t.index = index
	return nil
}

// Search runs a keyword query over chunk content and paths.
func (t *TextIndex) Search(query string, topK int) ([]TextHit, error) {
	if topK <= 0 {
		topK = 10
	}

	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")
	contentQuery.SetBoost(1.0)
	pathQuery := bleve.NewMatchQuery(query)
	pathQuery.SetField("path")
	pathQuery.SetBoost(1.5)
	disjunction := bleve.NewDisjunctionQuery([]blevequery.Query{contentQuery, pathQuery}...)

	req := bleve.NewSearchRequestOptions(disjunction, topK, 0, false)
	req.Fields = []string{"path", "language", "start_line", "end_line", "content"}

	res, err := t.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	hits := make([]TextHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		path, _ := hit.Fields["path"].(string)
		language, _ := hit.Fields["language"].(string)
		content, _ := hit.Fields["content"].(string)
		hits = append(hits, TextHit{
			ID:        hit.ID,
			FilePath:  path,
			Language:  language,
			StartLine: parseLineField(hit.Fields["start_line"]),
			EndLine:   parseLineField(hit.Fields["end_line"]),
			Content:   content,
			Score:     hit.Score,
		})
	}
	return hits, nil
}

// Count returns the number of documents in the index.
func (t *TextIndex) Count() (uint64, error) {
	return t.index.DocCount()
}

// Dir returns the index directory.
func (t *TextIndex) Dir() string {
	return t.dir
}

// Close closes the index
func (t *TextIndex) Close() error {
	return t.index.Close()
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.DefaultField = "content"

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = true
	contentField.Index = true
	docMapping.AddFieldMappingsAt("content", contentField)

	pathField := bleve.NewTextFieldMapping()
	pathField.Store = true
	pathField.Index = true
	docMapping.AddFieldMappingsAt("path", pathField)

	languageField := bleve.NewTextFieldMapping()
	languageField.Store = true
	languageField.Index = true
	languageField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("language", languageField)

	lineField := bleve.NewNumericFieldMapping()
	lineField.Store = true
	lineField.Index = false
	docMapping.AddFieldMappingsAt("start_line", lineField)
	docMapping.AddFieldMappingsAt("end_line", lineField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func parseLineField(val any) int {
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
