// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate when the configuration cannot be served.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Documents    DocumentsConfig    `yaml:"documents"`
	Chunking     ChunkingConfig     `yaml:"chunking"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Generation   GenerationConfig   `yaml:"generation"`
	WebSearch    WebSearchConfig    `yaml:"web_search"`
	Agent        AgentConfig        `yaml:"agent"`
	Conversation ConversationConfig `yaml:"conversation"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port" validate:"gt=0,lt=65536"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds the persistent index location.
type StorageConfig struct {
	IndexPath string `yaml:"index_path" validate:"required"`
	// KeepGenerations is how many index generations stay on disk, the active one included.
	KeepGenerations int `yaml:"keep_generations" validate:"gte=1"`
}

// DocumentsConfig describes the document source directories.
type DocumentsConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	Watch       bool     `yaml:"watch"`
}

// RecursiveOrDefault returns whether to scan recursively; defaults to true when unset.
func (d *DocumentsConfig) RecursiveOrDefault() bool {
	if d.Recursive != nil {
		return *d.Recursive
	}
	return true
}

// ChunkingConfig controls how documents are split into passages.
type ChunkingConfig struct {
	Size    int    `yaml:"size" validate:"gt=0"`
	// Overlap is a pointer so an explicit 0 is kept; nil means the default.
	Overlap *int   `yaml:"overlap" validate:"omitempty,gte=0"`
	Policy  string `yaml:"policy" validate:"oneof=paragraph sentence hard"`
}

// OverlapOrDefault returns the configured overlap, or the default when unset.
func (c *ChunkingConfig) OverlapOrDefault() int { return valueOr(c.Overlap, DefaultChunkOverlap) }

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of hashing, onnx, openai, ollama, googleai.
	Provider          string        `yaml:"provider" validate:"oneof=hashing onnx openai ollama googleai"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions" validate:"gt=0"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BatchSize         int           `yaml:"batch_size" validate:"gt=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gt=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gt=0"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	CacheSize         int           `yaml:"cache_size" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout"`
}

// RetrievalConfig controls document search.
type RetrievalConfig struct {
	TopK int `yaml:"top_k" validate:"gt=0"`
	MaxK int `yaml:"max_k" validate:"gtefield=TopK"`
	// Mode is semantic or hybrid.
	Mode           string  `yaml:"mode" validate:"oneof=semantic hybrid"`
	KeywordWeight  float64 `yaml:"keyword_weight" validate:"gte=0"`
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0"`
	MinScore       float64 `yaml:"min_score"`
}

// GenerationConfig selects the language model.
type GenerationConfig struct {
	// Provider is one of googleai, openai, ollama.
	Provider    string        `yaml:"provider" validate:"oneof=googleai openai ollama"`
	Model       string        `yaml:"model" validate:"required"`
	Temperature *float64      `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TemperatureOrDefault returns the configured temperature; 0 is a valid setting.
func (g *GenerationConfig) TemperatureOrDefault() float64 {
	return valueOr(g.Temperature, DefaultTemperature)
}

// WebSearchConfig selects the web search provider.
type WebSearchConfig struct {
	// Provider is tavily or none.
	Provider   string        `yaml:"provider" validate:"oneof=tavily none"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	MaxResults int           `yaml:"max_results" validate:"gt=0"`
	Topic      string        `yaml:"topic"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AgentConfig bounds the decision loop.
type AgentConfig struct {
	MaxToolIterations int           `yaml:"max_tool_iterations" validate:"gt=0"`
	MaxSchemaRetries  *int          `yaml:"max_schema_retries" validate:"omitempty,gte=0"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	SystemPrompt      string        `yaml:"system_prompt"`
	FallbackAnswer    string        `yaml:"fallback_answer"`
}

// MaxSchemaRetriesOrDefault returns the retry budget; 0 disables correction retries.
func (a *AgentConfig) MaxSchemaRetriesOrDefault() int {
	return valueOr(a.MaxSchemaRetries, DefaultMaxSchemaRetries)
}

func valueOr[T any](p *T, def T) T {
	if p != nil {
		return *p
	}
	return def
}

// ConversationConfig bounds per-session history.
type ConversationConfig struct {
	MaxMessages int `yaml:"max_messages" validate:"gt=0"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns a configuration built only from defaults, with relative paths
// resolved against baseDir.
func Default(baseDir string) *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.expandPaths(baseDir)
	return &cfg
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.IndexPath = expandPath(c.Storage.IndexPath, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
	for i := range c.Documents.Directories {
		c.Documents.Directories[i] = expandPath(c.Documents.Directories[i], configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks value ranges and cross-field rules. Any failure wraps ErrInvalid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if overlap := c.Chunking.OverlapOrDefault(); overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking.overlap (%d) must be less than chunking.size (%d)",
			ErrInvalid, overlap, c.Chunking.Size)
	}
	if c.Embedding.Provider == "onnx" && c.Embedding.ModelPath == "" {
		return fmt.Errorf("%w: embedding.model_path is required for the onnx provider", ErrInvalid)
	}
	return nil
}

// LoadEnv loads variables from the given dotenv files. Missing files are ignored;
// variables already present in the environment are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to stat env file %s: %w", f, err)
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// APIKey returns the value of the environment variable named envName, or "" when unset.
func APIKey(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" paths are relative to the home directory; other relative paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
