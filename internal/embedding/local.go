package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

const defaultLocalDimensions = 256

var localTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// LocalClient embeds text without any service: every identifier-like token
// is hashed into a signed bucket and the vector is L2 normalized. Texts that
// share tokens end up close, which is enough for offline use and tests.
type LocalClient struct {
	dimensions int
}

// NewLocalClient creates a hashing embedder. dims <= 0 picks 256.
func NewLocalClient(dims int) *LocalClient {
	if dims <= 0 {
		dims = defaultLocalDimensions
	}
	return &LocalClient{dimensions: dims}
}

// Embed generates an embedding for a single text
func (c *LocalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.vector(text), nil
}

// EmbedBatch generates embeddings for multiple texts
func (c *LocalClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = c.vector(text)
	}
	return out, nil
}

// Dimensions returns the dimension of the embeddings
func (c *LocalClient) Dimensions() int {
	return c.dimensions
}

func (c *LocalClient) vector(text string) []float32 {
	vec := make([]float32, c.dimensions)
	for _, tok := range localTokenPattern.FindAllString(text, -1) {
		sum := sha256.Sum256([]byte(strings.ToLower(tok)))
		bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(c.dimensions)
		if sum[8]&1 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
