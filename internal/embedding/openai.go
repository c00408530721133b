package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/DreamCats/codesage/internal/config"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIClient implements OpenAI-compatible embedding API
type OpenAIClient struct {
	apiKey     string
	url        string
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIEmbeddingRequest represents the request body
type OpenAIEmbeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

// OpenAIEmbeddingResponse represents the response body
type OpenAIEmbeddingResponse struct {
	Object string                `json:"object"`
	Data   []OpenAIEmbeddingData `json:"data"`
	Model  string                `json:"model"`
	Usage  OpenAIUsage           `json:"usage"`
}

// OpenAIEmbeddingData represents a single embedding result
type OpenAIEmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// OpenAIUsage represents token usage information
type OpenAIUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewOpenAIClient creates a new OpenAI-compatible client. The endpoint is
// the API base (".../v1"); a full ".../embeddings" URL is used as given.
func NewOpenAIClient(cfg *config.EmbeddingConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedding requires a model")
	}

	url := strings.TrimRight(cfg.Endpoint, "/")
	if url == "" {
		url = defaultOpenAIEndpoint
	}
	if !strings.HasSuffix(url, "/embeddings") {
		url += "/embeddings"
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		url:        url,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     newHTTPClient(cfg.Timeout),
	}, nil
}

// Embed generates an embedding for a single text
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return firstEmbedding(c.EmbedBatch(ctx, []string{text}))
}

// EmbedBatch generates embeddings for multiple texts
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := OpenAIEmbeddingRequest{
		Input:          texts,
		Model:          c.model,
		EncodingFormat: "float",
	}

	var apiResp OpenAIEmbeddingResponse
	if err := postJSON(ctx, c.client, c.url, c.apiKey, req, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// Sort by index to maintain order
	embeddings := make([][]float32, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index out of range: %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	if len(embeddings[0]) > 0 {
		c.dimensions = len(embeddings[0])
	}
	return embeddings, nil
}

// Dimensions returns the dimension of the embeddings
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}
