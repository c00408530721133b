package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DreamCats/codesage/internal/config"
)

// OllamaClient talks to the Ollama chat API.
type OllamaClient struct {
	endpoint    string
	model       string
	temperature float64
	client      *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaClient creates a client for cfg.Endpoint (default localhost:11434).
func NewOllamaClient(cfg *config.ChatConfig) *OllamaClient {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaClient{
		endpoint:    endpoint,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
	}
}

func (c *OllamaClient) request(prompt string, stream bool) ollamaChatRequest {
	return ollamaChatRequest{
		Model:    c.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
		Options:  ollamaOptions{Temperature: c.temperature},
	}
}

// Generate sends one user message and returns the reply unmodified.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := doJSON(ctx, c.client, c.endpoint+"/api/chat", "", c.request(prompt, false), false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chat.Error != "" {
		return "", fmt.Errorf("ollama error: %s", chat.Error)
	}
	return chat.Message.Content, nil
}

// Stream reads the newline-delimited JSON stream and forwards every
// non-empty content delta.
func (c *OllamaClient) Stream(ctx context.Context, prompt string, onSegment func(string) error) error {
	resp, err := doJSON(ctx, c.client, c.endpoint+"/api/chat", "", c.request(prompt, true), false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := newLineScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onSegment(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}
