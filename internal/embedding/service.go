package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DreamCats/codesage/internal/config"
)

// Service provides embedding generation functionality
type Service struct {
	cfg    *config.EmbeddingConfig
	client Client
	cache  *lru.Cache[string, []float32]
}

// Client is the interface for embedding API clients
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// NewService creates a new embedding service
func NewService(cfg *config.EmbeddingConfig) (*Service, error) {
	var client Client
	var err error

	switch cfg.Provider {
	case "ollama":
		client, err = NewOllamaClient(cfg)
	case "openai":
		client, err = NewOpenAIClient(cfg)
	case "volcengine":
		client, err = NewVolcEngineClient(cfg)
	case "hugot":
		client, err = NewHugotClient(cfg)
	case "local":
		client = NewLocalClient(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	return NewServiceWithClient(cfg, client)
}

// NewServiceWithClient wraps an already constructed client.
func NewServiceWithClient(cfg *config.EmbeddingConfig, client Client) (*Service, error) {
	svc := &Service{cfg: cfg, client: client}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		svc.cache = cache
	}
	return svc, nil
}

// Embed generates an embedding for a single text. Query embeddings are
// cached, so asking the same question twice costs one request.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	key := s.cacheKey(text)
	if s.cache != nil {
		if vec, ok := s.cache.Get(key); ok {
			return vec, nil
		}
	}

	vec, err := s.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(key, vec)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, in input order.
// With BatchSize 0 all texts go out in a single request.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("cannot embed empty text at index %d", i)
		}
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))

		embeddings, err := s.client.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", i, end, err)
		}
		if len(embeddings) != end-i {
			return nil, fmt.Errorf("embedding count mismatch for batch %d-%d: got %d", i, end, len(embeddings))
		}
		results = append(results, embeddings...)
	}

	return results, nil
}

// Dimensions returns the dimension of the embeddings
func (s *Service) Dimensions() int {
	return s.client.Dimensions()
}

// Model returns the configured model name, recorded next to stored vectors.
func (s *Service) Model() string {
	if s.cfg.Provider == "local" {
		return "local"
	}
	return s.cfg.Model
}

// Close releases provider resources, such as the hugot session.
func (s *Service) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.cfg.Provider + "\x00" + s.cfg.Model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Similarity computes cosine similarity between two vectors
func Similarity(a, b []float32) float32 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("vector dimension mismatch: %d vs %d", len(a), len(b)))
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
