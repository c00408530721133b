package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/DreamCats/codesage/internal/config"
)

const defaultHugotModel = "sentence-transformers/all-MiniLM-L6-v2"

// HugotClient runs a sentence-transformers model in process with the pure
// Go ONNX backend. The model is downloaded into ModelDir on first use.
type HugotClient struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline

	mu         sync.Mutex
	dimensions int
}

// NewHugotClient prepares the model and creates the feature extraction pipeline.
func NewHugotClient(cfg *config.EmbeddingConfig) (*HugotClient, error) {
	modelName := cfg.Model
	if modelName == "" || !strings.Contains(modelName, "/") {
		modelName = defaultHugotModel
	}

	modelPath, err := prepareModel(modelName, cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "codesage-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &HugotClient{
		session:    session,
		pipeline:   pipeline,
		dimensions: cfg.Dimensions,
	}, nil
}

// prepareModel downloads the model if it is not in modelDir yet and returns its path.
func prepareModel(modelName, modelDir string) (string, error) {
	if modelDir == "" {
		modelDir = "./models"
	}
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))

	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	downloadOptions := hugot.NewDownloadOptions()
	downloadOptions.OnnxFilePath = "onnx/model.onnx"
	downloadedPath, err := hugot.DownloadModel(modelName, modelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloadedPath, nil
}

// Embed generates an embedding for a single text
func (c *HugotClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return firstEmbedding(c.EmbedBatch(ctx, []string{text}))
}

// EmbedBatch generates embeddings for multiple texts
func (c *HugotClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	if len(result.Embeddings[0]) > 0 {
		c.dimensions = len(result.Embeddings[0])
	}
	return result.Embeddings, nil
}

// Dimensions returns the dimension of the embeddings
func (c *HugotClient) Dimensions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimensions
}

// Close destroys the hugot session.
func (c *HugotClient) Close() error {
	return c.session.Destroy()
}
