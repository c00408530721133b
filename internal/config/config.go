package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CODESAGE"

// MaxTopK bounds how many results one question may retrieve.
const MaxTopK = 100

// Config holds the application configuration. It is built once at startup
// and passed to constructors; nothing below cmd/ reads the environment.
type Config struct {
	Chat      ChatConfig      `yaml:"chat" mapstructure:"chat"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Search    SearchConfig    `yaml:"search,omitempty" mapstructure:"search"`
}

// ChatConfig configures the text-generation service.
type ChatConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // "ollama" | "openai"
	Model       string        `yaml:"model" mapstructure:"model"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey      string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig holds embedding service configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "ollama" | "openai" | "volcengine" | "hugot" | "local"

	APIKey   string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"` // empty: provider default
	Model    string `yaml:"model" mapstructure:"model"`

	// Dimensions is only used by providers that cannot report it themselves.
	Dimensions int `yaml:"dimensions" mapstructure:"dimensions"`
	// BatchSize splits EmbedBatch into several requests; 0 sends one request.
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	EncodingFormat string        `yaml:"encoding_format,omitempty" mapstructure:"encoding_format"`
	CacheSize      int           `yaml:"cache_size" mapstructure:"cache_size"`
	ModelDir       string        `yaml:"model_dir,omitempty" mapstructure:"model_dir"` // hugot model cache
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// IndexConfig selects where chunks and vectors live.
type IndexConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "sqlite" | "pgvector"
	Dir     string `yaml:"dir" mapstructure:"dir"`
	DSN     string `yaml:"dsn,omitempty" mapstructure:"dsn"`
	// TextIndex mirrors chunks into a bleve index for keyword search.
	TextIndex bool `yaml:"text_index" mapstructure:"text_index"`
}

// PipelineConfig holds the CRAG stage parameters.
type PipelineConfig struct {
	TopK             int     `yaml:"top_k" mapstructure:"top_k"`
	SeedK            int     `yaml:"seed_k" mapstructure:"seed_k"`
	MaxSymbols       int     `yaml:"max_symbols" mapstructure:"max_symbols"`
	MinGrade         int     `yaml:"min_grade" mapstructure:"min_grade"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Utilization      float64 `yaml:"utilization" mapstructure:"utilization"`
	GradeConcurrency int     `yaml:"grade_concurrency" mapstructure:"grade_concurrency"`
}

// IngestConfig holds repository scanning and chunking options.
type IngestConfig struct {
	ChunkLines       int      `yaml:"chunk_lines" mapstructure:"chunk_lines"`
	OverlapLines     int      `yaml:"overlap_lines" mapstructure:"overlap_lines"`
	MinChunkLines    int      `yaml:"min_chunk_lines" mapstructure:"min_chunk_lines"`
	MaxFileSize      int64    `yaml:"max_file_size" mapstructure:"max_file_size"`
	RespectGitignore bool     `yaml:"respect_gitignore" mapstructure:"respect_gitignore"`
	Exclude          []string `yaml:"exclude,omitempty" mapstructure:"exclude"` // extra doublestar patterns
}

// SearchConfig holds keyword search options.
type SearchConfig struct {
	SynonymsFile string `yaml:"synonyms_file,omitempty" mapstructure:"synonyms_file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			Provider:    "ollama",
			Model:       "qwen2.5-coder:7b",
			Endpoint:    "http://localhost:11434",
			Temperature: 0.1,
			Timeout:     120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			Dimensions:     768,
			EncodingFormat: "float",
			CacheSize:      1024,
			Timeout:        120 * time.Second,
		},
		Index: IndexConfig{
			Backend:   "sqlite",
			Dir:       filepath.Join(homeDir(), ".codesage", "index"),
			TextIndex: true,
		},
		Pipeline: PipelineConfig{
			TopK:             8,
			SeedK:            6,
			MaxSymbols:       12,
			MinGrade:         6,
			MaxTokens:        6000,
			Utilization:      0.8,
			GradeConcurrency: 1,
		},
		Ingest: IngestConfig{
			ChunkLines:       80,
			OverlapLines:     20,
			MinChunkLines:    6,
			MaxFileSize:      1 << 20,
			RespectGitignore: true,
		},
	}
}

// DefaultPath returns the config file looked up when no path is given.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".codesage", "config.yaml")
}

// Load builds the configuration. Priority: CLI flags > environment variables >
// config file > defaults. An empty path reads DefaultPath if it exists; an
// explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	if path != "" {
		path = expandPath(path)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, &ConfigNotFoundError{RequestedPath: path, DefaultPath: DefaultPath()}
			}
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if _, err := os.Stat(DefaultPath()); err == nil {
		v.SetConfigFile(DefaultPath())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names kept for the variables people set most often.
	_ = v.BindEnv("chat.provider", "CODESAGE_CHAT_PROVIDER")
	_ = v.BindEnv("chat.model", "CODESAGE_CHAT_MODEL")
	_ = v.BindEnv("chat.endpoint", "CODESAGE_CHAT_ENDPOINT")
	_ = v.BindEnv("chat.api_key", "CODESAGE_CHAT_API_KEY")
	_ = v.BindEnv("chat.temperature", "CODESAGE_TEMPERATURE", "CODESAGE_CHAT_TEMPERATURE")
	_ = v.BindEnv("embedding.provider", "CODESAGE_EMBED_PROVIDER", "CODESAGE_EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.model", "CODESAGE_EMBED_MODEL", "CODESAGE_EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.endpoint", "CODESAGE_EMBED_ENDPOINT", "CODESAGE_EMBEDDING_ENDPOINT")
	_ = v.BindEnv("embedding.api_key", "CODESAGE_EMBED_API_KEY", "CODESAGE_EMBEDDING_API_KEY")
	_ = v.BindEnv("pipeline.max_tokens", "CODESAGE_MAX_TOKENS", "CODESAGE_PIPELINE_MAX_TOKENS")
	_ = v.BindEnv("index.dir", "CODESAGE_INDEX_DIR")
	_ = v.BindEnv("index.backend", "CODESAGE_INDEX_BACKEND")
	_ = v.BindEnv("index.dsn", "CODESAGE_PG_DSN", "CODESAGE_INDEX_DSN")

	if flags != nil {
		bindFlag(v, flags, "index.dir", "index-dir")
		bindFlag(v, flags, "pipeline.top_k", "top-k")
		bindFlag(v, flags, "pipeline.min_grade", "min-grade")
		bindFlag(v, flags, "chat.model", "chat-model")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Index.Dir = expandPath(cfg.Index.Dir)
	cfg.Embedding.ModelDir = expandPath(cfg.Embedding.ModelDir)
	cfg.Search.SynonymsFile = expandPath(cfg.Search.SynonymsFile)
	cfg.Ingest.Exclude = filterEmptyStrings(cfg.Ingest.Exclude)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("chat.provider", d.Chat.Provider)
	v.SetDefault("chat.model", d.Chat.Model)
	v.SetDefault("chat.endpoint", d.Chat.Endpoint)
	v.SetDefault("chat.api_key", d.Chat.APIKey)
	v.SetDefault("chat.temperature", d.Chat.Temperature)
	v.SetDefault("chat.timeout", d.Chat.Timeout)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.endpoint", d.Embedding.Endpoint)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)
	v.SetDefault("embedding.encoding_format", d.Embedding.EncodingFormat)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)
	v.SetDefault("embedding.model_dir", filepath.Join(homeDir(), ".codesage", "models"))
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)

	v.SetDefault("index.backend", d.Index.Backend)
	v.SetDefault("index.dir", d.Index.Dir)
	v.SetDefault("index.dsn", d.Index.DSN)
	v.SetDefault("index.text_index", d.Index.TextIndex)

	v.SetDefault("pipeline.top_k", d.Pipeline.TopK)
	v.SetDefault("pipeline.seed_k", d.Pipeline.SeedK)
	v.SetDefault("pipeline.max_symbols", d.Pipeline.MaxSymbols)
	v.SetDefault("pipeline.min_grade", d.Pipeline.MinGrade)
	v.SetDefault("pipeline.max_tokens", d.Pipeline.MaxTokens)
	v.SetDefault("pipeline.utilization", d.Pipeline.Utilization)
	v.SetDefault("pipeline.grade_concurrency", d.Pipeline.GradeConcurrency)

	v.SetDefault("ingest.chunk_lines", d.Ingest.ChunkLines)
	v.SetDefault("ingest.overlap_lines", d.Ingest.OverlapLines)
	v.SetDefault("ingest.min_chunk_lines", d.Ingest.MinChunkLines)
	v.SetDefault("ingest.max_file_size", d.Ingest.MaxFileSize)
	v.SetDefault("ingest.respect_gitignore", d.Ingest.RespectGitignore)
	v.SetDefault("ingest.exclude", []string{})

	v.SetDefault("search.synonyms_file", "")
}

// ConfigNotFoundError is returned when an explicitly requested config file is missing
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nYou can:\n"+
		"  1. Run 'codesage config init' to create one at the default location\n"+
		"  2. Drop the --config flag and rely on CODESAGE_* environment variables",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if error is config not found
func IsConfigNotFound(err error) bool {
	var target *ConfigNotFoundError
	return errors.As(err, &target)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Chat.Provider {
	case "ollama":
	case "openai":
		if c.Chat.Endpoint == "" {
			return fmt.Errorf("openai chat provider requires endpoint")
		}
	default:
		return fmt.Errorf("unsupported chat provider: %s", c.Chat.Provider)
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("chat model is required")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got: %g", c.Chat.Temperature)
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "hugot", "local":
	case "volcengine":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("volcengine provider requires api_key")
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got: %d", c.Embedding.BatchSize)
	}

	switch c.Index.Backend {
	case "sqlite":
		if c.Index.Dir == "" {
			return fmt.Errorf("sqlite backend requires index dir")
		}
	case "pgvector":
		if c.Index.DSN == "" {
			return fmt.Errorf("pgvector backend requires dsn")
		}
	default:
		return fmt.Errorf("unsupported index backend: %s", c.Index.Backend)
	}

	p := c.Pipeline
	if p.TopK <= 0 || p.TopK > MaxTopK {
		return fmt.Errorf("top_k must be between 1 and %d, got: %d", MaxTopK, p.TopK)
	}
	if p.SeedK < 0 || p.MaxSymbols < 0 {
		return fmt.Errorf("seed_k and max_symbols must not be negative")
	}
	if p.MinGrade < 1 || p.MinGrade > 10 {
		return fmt.Errorf("min_grade must be between 1 and 10, got: %d", p.MinGrade)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got: %d", p.MaxTokens)
	}
	if p.Utilization <= 0 || p.Utilization > 1 {
		return fmt.Errorf("utilization must be in (0, 1], got: %g", p.Utilization)
	}

	in := c.Ingest
	if in.ChunkLines <= 0 || in.MinChunkLines <= 0 {
		return fmt.Errorf("chunk_lines and min_chunk_lines must be positive")
	}
	if in.OverlapLines < 0 || in.OverlapLines >= in.ChunkLines {
		return fmt.Errorf("overlap_lines must be in [0, chunk_lines), got: %d", in.OverlapLines)
	}

	return nil
}

// SaveToFile saves the configuration to a specific file
func (c *Config) SaveToFile(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// YAML renders the configuration the way it is written to disk.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Chat.APIKey != "" {
		out.Chat.APIKey = "***"
	}
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "***"
	}
	if out.Index.DSN != "" {
		out.Index.DSN = "***"
	}
	return &out
}

const templateHeader = `# codesage configuration
#
# Every key can also be set from the environment as CODESAGE_<SECTION>_<KEY>,
# e.g. CODESAGE_PIPELINE_TOP_K=10. Shorthands: CODESAGE_CHAT_MODEL,
# CODESAGE_EMBED_MODEL, CODESAGE_TEMPERATURE, CODESAGE_MAX_TOKENS,
# CODESAGE_INDEX_DIR, CODESAGE_PG_DSN.

`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	body, err := Default().YAML()
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(templateHeader), body...), 0644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}

	return true, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// expandPath expands ~ and $HOME to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		home := os.Getenv("HOME")
		if home == "" {
			home = homeDir()
		}
		if path == "$HOME" {
			return home
		}
		return filepath.Join(home, path[6:])
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}

	return path
}

func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str = strings.TrimSpace(str); str != "" {
			result = append(result, str)
		}
	}
	return result
}
