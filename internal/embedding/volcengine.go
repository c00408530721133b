package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DreamCats/codesage/internal/config"
)

const (
	defaultVolcEngineEndpoint = "https://ark.cn-beijing.volces.com/api/v3/embeddings/multimodal"
	defaultVolcEngineModel    = "doubao-embedding-vision-250615"
)

// VolcEngineClient embeds text with VolcEngine's multimodal embedding API.
type VolcEngineClient struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

type volcRequest struct {
	Input          []volcInput `json:"input"`
	Model          string      `json:"model"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
	Dimensions     int         `json:"dimensions,omitempty"`
}

// volcInput is one sample; only the "text" type is sent.
type volcInput struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type volcResponse struct {
	Model string          `json:"model"`
	Data  json.RawMessage `json:"data"`
}

type volcEmbedding struct {
	Embedding []float32 `json:"embedding"`
}

// NewVolcEngineClient requires an API key; endpoint and model have defaults.
func NewVolcEngineClient(cfg *config.EmbeddingConfig) (*VolcEngineClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("volcengine api_key is required")
	}

	c := &VolcEngineClient{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     newHTTPClient(cfg.Timeout),
	}
	if c.endpoint == "" {
		c.endpoint = defaultVolcEngineEndpoint
	}
	if c.model == "" {
		c.model = defaultVolcEngineModel
	}
	return c, nil
}

func (c *VolcEngineClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedText(ctx, text)
}

// EmbedBatch sends one request per text since the endpoint takes a single
// sample at a time.
func (c *VolcEngineClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := c.embedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		embeddings = append(embeddings, vector)
	}
	return embeddings, nil
}

func (c *VolcEngineClient) Dimensions() int {
	return c.dimensions
}

func (c *VolcEngineClient) embedText(ctx context.Context, text string) ([]float32, error) {
	req := volcRequest{
		Input:          []volcInput{{Type: "text", Text: text}},
		Model:          c.model,
		EncodingFormat: "float",
		Dimensions:     c.dimensions,
	}

	var resp volcResponse
	if err := postJSON(ctx, c.client, c.endpoint, c.apiKey, req, &resp); err != nil {
		return nil, err
	}

	items, err := decodeVolcData(resp.Data)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(items))
	}
	return items[0].Embedding, nil
}

// decodeVolcData reads the data field, which the API returns either as a
// single object or as an array of objects.
func decodeVolcData(raw json.RawMessage) ([]volcEmbedding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty embedding data")
	}

	switch trimmed[0] {
	case '[':
		var items []volcEmbedding
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to parse embedding array: %w", err)
		}
		return items, nil
	case '{':
		var item volcEmbedding
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, fmt.Errorf("failed to parse embedding object: %w", err)
		}
		return []volcEmbedding{item}, nil
	default:
		return nil, fmt.Errorf("unexpected embedding data format")
	}
}
