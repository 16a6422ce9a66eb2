package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  index_path: "index"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.IndexPath != filepath.Join(dir, "index") {
		t.Errorf("index_path = %s", cfg.Storage.IndexPath)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_debugTrueAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
embedding:
  retry_backoff: 250ms
agent:
  tool_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
	if cfg.Embedding.RetryBackoff != 250*time.Millisecond {
		t.Errorf("retry_backoff = %v", cfg.Embedding.RetryBackoff)
	}
	if cfg.Agent.ToolTimeout != 5*time.Second {
		t.Errorf("tool_timeout = %v", cfg.Agent.ToolTimeout)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  index_path: "./vectorstore"
documents:
  directories: ["./data/policies"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "vectorstore"); cfg.Storage.IndexPath != want {
		t.Errorf("index_path = %s, want %s", cfg.Storage.IndexPath, want)
	}
	if len(cfg.Documents.Directories) != 1 {
		t.Fatalf("document directories: got %d", len(cfg.Documents.Directories))
	}
	if want := filepath.Join(dir, "data", "policies"); cfg.Documents.Directories[0] != want {
		t.Errorf("document directory = %s, want %s", cfg.Documents.Directories[0], want)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Chunking.Size != 1200 || cfg.Chunking.OverlapOrDefault() != 200 {
		t.Errorf("default chunking: %+v", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("default top_k: got %d", cfg.Retrieval.TopK)
	}
	if cfg.WebSearch.MaxResults != 2 {
		t.Errorf("default web max_results: got %d", cfg.WebSearch.MaxResults)
	}
	if cfg.Generation.Model != "gemini-2.0-flash" || cfg.Generation.TemperatureOrDefault() != 0.5 {
		t.Errorf("default generation: %+v", cfg.Generation)
	}
	if cfg.Agent.MaxToolIterations != 3 || cfg.Agent.MaxSchemaRetriesOrDefault() != 2 {
		t.Errorf("default agent: %+v", cfg.Agent)
	}
	if !cfg.Documents.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
	if cfg.Embedding.Provider != "hashing" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_ProviderSpecific(t *testing.T) {
	cfg := &Config{
		Generation: GenerationConfig{Provider: "openai"},
		Embedding:  EmbeddingConfig{Provider: "openai"},
	}
	ApplyDefaults(cfg)
	if cfg.Generation.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("generation api_key_env = %s", cfg.Generation.APIKeyEnv)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("openai embedding dimensions = %d", cfg.Embedding.Dimensions)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"overlap equal to size", func(c *Config) { c.Chunking.Overlap = intPtr(c.Chunking.Size) }, true},
		{"overlap larger than size", func(c *Config) { c.Chunking.Size = 100; c.Chunking.Overlap = intPtr(150) }, true},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = intPtr(-1) }, true},
		{"zero overlap", func(c *Config) { c.Chunking.Overlap = intPtr(0) }, false},
		{"temperature above range", func(c *Config) { v := 2.5; c.Generation.Temperature = &v }, true},
		{"negative schema retries", func(c *Config) { c.Agent.MaxSchemaRetries = intPtr(-1) }, true},
		{"unknown policy", func(c *Config) { c.Chunking.Policy = "semantic" }, true},
		{"unknown retrieval mode", func(c *Config) { c.Retrieval.Mode = "mmr" }, true},
		{"max_k below top_k", func(c *Config) { c.Retrieval.MaxK = 1 }, true},
		{"onnx without model", func(c *Config) { c.Embedding.Provider = "onnx"; c.Embedding.ModelPath = "" }, true},
		{"web search disabled", func(c *Config) { c.WebSearch.Provider = "none" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error should wrap ErrInvalid: %v", err)
			}
		})
	}
}

func intPtr(n int) *int { return &n }

func TestLoad_explicitZerosAreKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunking:
  overlap: 0
generation:
  temperature: 0
agent:
  max_schema_retries: 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Chunking.OverlapOrDefault(); got != 0 {
		t.Errorf("overlap = %d, want 0", got)
	}
	if got := cfg.Generation.TemperatureOrDefault(); got != 0 {
		t.Errorf("temperature = %v, want 0", got)
	}
	if got := cfg.Agent.MaxSchemaRetriesOrDefault(); got != 0 {
		t.Errorf("max_schema_retries = %d, want 0", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("explicit zeros should validate: %v", err)
	}
}

func TestDocumentsConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		d := &DocumentsConfig{}
		if got := d.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		d := &DocumentsConfig{Recursive: &f}
		if got := d.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{IndexPath: "/tmp/kotae-index"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.IndexPath != "/tmp/kotae-index" {
		t.Errorf("loaded index path: got %s", loaded.Storage.IndexPath)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("KOTAE_TEST_KEY=secret-value\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KOTAE_TEST_KEY", "")
	os.Unsetenv("KOTAE_TEST_KEY")

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := APIKey("KOTAE_TEST_KEY"); got != "secret-value" {
		t.Errorf("APIKey = %q, want secret-value", got)
	}
	if got := APIKey(""); got != "" {
		t.Errorf("APIKey(\"\") = %q, want empty", got)
	}
}
