package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/hyperjump/kotae/pkg/utils"
)

// ProviderEmbedder adapts a langchaingo embeddings.Embedder (OpenAI, Ollama, Google AI)
// to Embedder, enforcing a per-call timeout and the configured dimensions. Vectors are
// L2-normalized since not every provider returns unit vectors.
type ProviderEmbedder struct {
	impl       embeddings.Embedder
	modelID    string
	dimensions int
	timeout    time.Duration
}

// NewProviderEmbedder wraps impl. modelID should include the provider, e.g. "openai/text-embedding-3-small".
func NewProviderEmbedder(impl embeddings.Embedder, modelID string, dimensions int, timeout time.Duration) *ProviderEmbedder {
	return &ProviderEmbedder{impl: impl, modelID: modelID, dimensions: dimensions, timeout: timeout}
}

// Embed embeds a single query text.
func (p *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	v, err := p.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query with %s: %w", p.modelID, err)
	}
	if err := checkBatch([][]float32{v}, 1, p.dimensions); err != nil {
		return nil, err
	}
	utils.NormalizeL2(v)
	return v, nil
}

// EmbedBatch embeds texts in one provider call.
func (p *ProviderEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	vectors, err := p.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d documents with %s: %w", len(texts), p.modelID, err)
	}
	if err := checkBatch(vectors, len(texts), p.dimensions); err != nil {
		return nil, err
	}
	for _, v := range vectors {
		utils.NormalizeL2(v)
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (p *ProviderEmbedder) Dimensions() int { return p.dimensions }

// ModelID returns the provider-qualified model identifier.
func (p *ProviderEmbedder) ModelID() string { return p.modelID }

// Close is a no-op; langchaingo clients hold no resources that need releasing.
func (p *ProviderEmbedder) Close() error { return nil }

func (p *ProviderEmbedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}
