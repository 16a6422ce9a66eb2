package embedding

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*HashingEmbedder
	texts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts.Add(1)
	return c.HashingEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.HashingEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_Embed(t *testing.T) {
	inner := &countingEmbedder{HashingEmbedder: NewHashingEmbedder(16)}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := c.Embed(ctx, "leave policy")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "leave policy")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.texts.Load())

	second[0] = 42
	third, err := c.Embed(ctx, "leave policy")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), third[0], "cached vector must not alias caller slices")
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := &countingEmbedder{HashingEmbedder: NewHashingEmbedder(8)}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "a"} {
		_, err := c.Embed(ctx, text)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 4, inner.texts.Load(), "a should have been evicted by c")
	assert.Equal(t, 2, c.Len())
}

func TestCachedEmbedder_EmbedBatchOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{HashingEmbedder: NewHashingEmbedder(16)}
	c, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Embed(ctx, "one")
	require.NoError(t, err)

	out, err := c.EmbedBatch(ctx, []string{"one", "two", "two", "three"})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.EqualValues(t, 3, inner.texts.Load(), "one cached, two deduplicated")
	assert.Equal(t, out[1], out[2])

	want, err := NewHashingEmbedder(16).Embed(ctx, "three")
	require.NoError(t, err)
	assert.Equal(t, want, out[3])
	assert.Equal(t, inner.ModelID(), c.ModelID())
	assert.Equal(t, 16, c.Dimensions())
	assert.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}

func TestNewCachedEmbedder_InvalidSize(t *testing.T) {
	_, err := NewCachedEmbedder(NewHashingEmbedder(4), 0)
	assert.Error(t, err)
}
