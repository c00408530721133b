// Package llm holds the text-generation clients used to grade context,
// rewrite queries and write answers.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DreamCats/codesage/internal/config"
)

// Generator produces a complete response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Streamer delivers a response incrementally. Returning an error from
// onSegment stops the stream and is returned by Stream.
type Streamer interface {
	Stream(ctx context.Context, prompt string, onSegment func(segment string) error) error
}

// New creates the client selected by cfg.Provider. Both clients implement
// Generator and Streamer.
func New(cfg *config.ChatConfig) (Generator, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// doJSON posts payload and returns the response for the caller to read.
// Non-2xx responses are turned into errors.
func doJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any, stream bool) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Long code lines in a single delta must not break the stream.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}
