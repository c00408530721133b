package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Chat.Provider)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Chat.Model)
	assert.InDelta(t, 0.1, cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, 120*time.Second, cfg.Chat.Timeout)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 6000, cfg.Pipeline.MaxTokens)
	assert.Equal(t, 8, cfg.Pipeline.TopK)
	assert.Equal(t, 6, cfg.Pipeline.MinGrade)
	assert.InDelta(t, 0.8, cfg.Pipeline.Utilization, 1e-9)
	assert.Equal(t, 80, cfg.Ingest.ChunkLines)
	assert.Equal(t, 20, cfg.Ingest.OverlapLines)
	assert.Equal(t, 6, cfg.Ingest.MinChunkLines)
	assert.Equal(t, filepath.Join(home, ".codesage", "index"), cfg.Index.Dir)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("CODESAGE_CHAT_MODEL", "llama3")
	t.Setenv("CODESAGE_EMBED_MODEL", "mxbai-embed-large")
	t.Setenv("CODESAGE_TEMPERATURE", "0.4")
	t.Setenv("CODESAGE_MAX_TOKENS", "2000")
	t.Setenv("CODESAGE_PIPELINE_TOP_K", "12")
	t.Setenv("CODESAGE_INDEX_DIR", "~/idx")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.Chat.Model)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	assert.InDelta(t, 0.4, cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.Pipeline.MaxTokens)
	assert.Equal(t, 12, cfg.Pipeline.TopK)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), "idx"), cfg.Index.Dir)
}

func TestLoadFileThenEnv(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "codesage.yaml")
	content := `
chat:
  model: from-file
  timeout: 30s
pipeline:
  min_grade: 7
ingest:
  exclude:
    - "**/*.gen.go"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("CODESAGE_CHAT_MODEL", "from-env")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Chat.Model)
	assert.Equal(t, 30*time.Second, cfg.Chat.Timeout)
	assert.Equal(t, 7, cfg.Pipeline.MinGrade)
	assert.Equal(t, []string{"**/*.gen.go"}, cfg.Ingest.Exclude)
	assert.Equal(t, 8, cfg.Pipeline.TopK, "unset keys keep defaults")
}

func TestLoadFlagsWin(t *testing.T) {
	isolateHome(t)
	t.Setenv("CODESAGE_PIPELINE_TOP_K", "12")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("top-k", 0, "")
	flags.Int("min-grade", 0, "")
	require.NoError(t, flags.Parse([]string{"--top-k", "3"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.TopK)
	assert.Equal(t, 6, cfg.Pipeline.MinGrade, "unchanged flag must not override the default")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolateHome(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.True(t, IsConfigNotFound(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown chat provider", func(c *Config) { c.Chat.Provider = "bard" }, false},
		{"temperature too high", func(c *Config) { c.Chat.Temperature = 3 }, false},
		{"volcengine without key", func(c *Config) { c.Embedding.Provider = "volcengine" }, false},
		{"pgvector without dsn", func(c *Config) { c.Index.Backend = "pgvector" }, false},
		{"pgvector with dsn", func(c *Config) {
			c.Index.Backend = "pgvector"
			c.Index.DSN = "postgres://localhost/codesage"
		}, true},
		{"zero utilization", func(c *Config) { c.Pipeline.Utilization = 0 }, false},
		{"min grade out of range", func(c *Config) { c.Pipeline.MinGrade = 11 }, false},
		{"overlap too large", func(c *Config) { c.Ingest.OverlapLines = 80 }, false},
		{"top k at limit", func(c *Config) { c.Pipeline.TopK = MaxTopK }, true},
		{"top k above limit", func(c *Config) { c.Pipeline.TopK = MaxTopK + 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWriteDefaultTemplateRoundTrip(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	created, err := WriteDefaultTemplate(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = WriteDefaultTemplate(path)
	require.NoError(t, err)
	assert.False(t, created, "existing file must be left alone")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Chat.Model, cfg.Chat.Model)
	assert.Equal(t, Default().Chat.Timeout, cfg.Chat.Timeout)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Chat.APIKey = "secret"
	cfg.Index.DSN = "postgres://user:pw@host/db"

	red := cfg.Redacted()
	assert.Equal(t, "***", red.Chat.APIKey)
	assert.Equal(t, "***", red.Index.DSN)
	assert.Equal(t, "secret", cfg.Chat.APIKey, "original untouched")
}
