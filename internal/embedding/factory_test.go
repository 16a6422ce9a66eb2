package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLangchainEmbedder struct {
	dims  int
	err   error
	delay time.Duration
}

func (f *fakeLangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.EmbedQuery(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeLangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dims)
	v[0] = float32(len(text))
	return v, nil
}

func TestProviderEmbedder(t *testing.T) {
	p := NewProviderEmbedder(&fakeLangchainEmbedder{dims: 3}, "openai/test", 3, time.Second)
	out, err := p.EmbedBatch(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, float32(1), out[1][0])
	assert.Equal(t, "openai/test", p.ModelID())

	empty, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// fixedVectors returns a stored raw vector per text, as unnormalized providers do.
type fixedVectors map[string][]float32

func (f fixedVectors) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = f.EmbedQuery(ctx, text)
	}
	return out, nil
}

func (f fixedVectors) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return append([]float32(nil), f[text]...), nil
}

func TestProviderEmbedder_NormalizesVectors(t *testing.T) {
	raw := fixedVectors{"leave policy": {1, 0}, "parking permits": {3, 3}}
	p := NewProviderEmbedder(raw, "ollama/test", 2, 0)
	ctx := context.Background()

	docs, err := p.EmbedBatch(ctx, []string{"leave policy", "parking permits"})
	require.NoError(t, err)
	for _, v := range docs {
		assert.InDelta(t, 1.0, float64(v[0]*v[0]+v[1]*v[1]), 1e-5)
	}

	idx, err := vector.NewMemoryIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []string{"leave", "parking"}, docs))

	q, err := p.Embed(ctx, "leave policy")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, q, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "leave", hits[0].ID, "exact text should rank its own chunk first")
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestProviderEmbedder_DimensionMismatch(t *testing.T) {
	p := NewProviderEmbedder(&fakeLangchainEmbedder{dims: 5}, "ollama/test", 3, 0)
	_, err := p.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestProviderEmbedder_ErrorsAndTimeout(t *testing.T) {
	boom := errors.New("provider down")
	p := NewProviderEmbedder(&fakeLangchainEmbedder{dims: 3, err: boom}, "googleai/test", 3, 0)
	_, err := p.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)

	slow := NewProviderEmbedder(&fakeLangchainEmbedder{dims: 3, delay: time.Second}, "googleai/test", 3, 10*time.Millisecond)
	_, err = slow.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_Hashing(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingConfig{Provider: "hashing", Dimensions: 32, CacheSize: 8}, "")
	require.NoError(t, err)
	defer e.Close()
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok, "cache_size > 0 should wrap with CachedEmbedder")
	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "hashing-v1", e.ModelID())

	plain, err := New(context.Background(), config.EmbeddingConfig{Provider: "hashing", Dimensions: 32}, "")
	require.NoError(t, err)
	_, ok = plain.(*HashingEmbedder)
	assert.True(t, ok)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.EmbeddingConfig{Provider: "word2vec"}, "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "word2vec"))
}

func TestNew_OllamaModelID(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingConfig{
		Provider:   "ollama",
		Model:      "nomic-embed-text",
		Dimensions: 768,
		BaseURL:    "http://127.0.0.1:1",
		BatchSize:  8,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "ollama/nomic-embed-text", e.ModelID())
	assert.Equal(t, 768, e.Dimensions())
}
