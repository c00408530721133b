package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/DreamCats/codesage/internal/config"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a new Ollama embedding client
func NewOllamaClient(cfg *config.EmbeddingConfig) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama embedding requires a model")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	return &OllamaClient{
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     newHTTPClient(cfg.Timeout),
	}, nil
}

// Embed generates an embedding for a single text
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return firstEmbedding(c.EmbedBatch(ctx, []string{text}))
}

// EmbedBatch sends all texts in one /api/embed request.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: c.model, Input: texts}
	if err := postJSON(ctx, c.client, c.endpoint+"/api/embed", "", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	if len(resp.Embeddings[0]) > 0 {
		c.dimensions = len(resp.Embeddings[0])
	}
	return resp.Embeddings, nil
}

// Dimensions returns the dimension of the embeddings
func (c *OllamaClient) Dimensions() int {
	return c.dimensions
}
