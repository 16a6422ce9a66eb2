package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// New builds the Embedder selected by cfg. When cfg.CacheSize is positive the result is
// wrapped in a CachedEmbedder. apiKey is used by hosted providers only.
func New(ctx context.Context, cfg config.EmbeddingConfig, apiKey string) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "", "hashing":
		inner = NewHashingEmbedder(cfg.Dimensions)
	case "onnx":
		inner, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			ModelID:    "onnx/" + cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case "openai", "ollama", "googleai":
		inner, err = newProviderEmbedder(ctx, cfg, apiKey)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		return inner, nil
	}
	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return cached, nil
}

func newProviderEmbedder(ctx context.Context, cfg config.EmbeddingConfig, apiKey string) (Embedder, error) {
	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
		if apiKey != "" {
			opts = append(opts, openai.WithToken(apiKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err = ollama.New(opts...)
	case "googleai":
		opts := []googleai.Option{googleai.WithDefaultEmbeddingModel(cfg.Model)}
		if apiKey != "" {
			opts = append(opts, googleai.WithAPIKey(apiKey))
		}
		client, err = googleai.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s embedding client: %w", cfg.Provider, err)
	}
	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s embedder: %w", cfg.Provider, err)
	}
	return NewProviderEmbedder(impl, cfg.Provider+"/"+cfg.Model, cfg.Dimensions, cfg.Timeout), nil
}
