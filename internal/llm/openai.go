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

// OpenAIClient talks to any OpenAI-compatible chat completions API
// (OpenAI, vLLM, LM Studio, Ark, Ollama's /v1).
type OpenAIClient struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
		Index        int     `json:"index"`
	} `json:"choices"`
}

// NewOpenAIClient creates a chat completions client. The endpoint is the
// API base (".../v1"); a full ".../chat/completions" URL is used as given.
func NewOpenAIClient(cfg *config.ChatConfig) (*OpenAIClient, error) {
	url := strings.TrimRight(cfg.Endpoint, "/")
	if url == "" {
		return nil, fmt.Errorf("openai chat provider requires endpoint")
	}
	if !strings.HasSuffix(url, "/chat/completions") {
		url += "/chat/completions"
	}

	return &OpenAIClient{
		url:         url,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
	}, nil
}

func (c *OpenAIClient) request(prompt string, stream bool) chatCompletionRequest {
	return chatCompletionRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		Stream:      stream,
	}
}

// Generate returns the content of the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := doJSON(ctx, c.client, c.url, c.apiKey, c.request(prompt, false), false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream reads server-sent events until [DONE] or a stop finish reason.
func (c *OpenAIClient) Stream(ctx context.Context, prompt string, onSegment func(string) error) error {
	resp, err := doJSON(ctx, c.client, c.url, c.apiKey, c.request(prompt, true), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := newLineScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue // Empty line between SSE chunks
		}

		// SSE format: data: {...}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			// Skip invalid JSON lines
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if content := chunk.Choices[0].Delta.Content; content != "" {
			if err := onSegment(content); err != nil {
				return err
			}
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil && *fr == "stop" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}
