package embedding

import (
	"context"
	"testing"

	"github.com/hyperjump/kotae/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()
	a, err := e.Embed(ctx, "Annual leave is 12 days")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "annual LEAVE is 12 days!")
	require.NoError(t, err)
	assert.Equal(t, a, b, "case and punctuation are ignored")
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, utils.Dot(a, a), 1e-5)
}

func TestHashingEmbedder_SharedTermsScoreHigher(t *testing.T) {
	e := NewHashingEmbedder(384)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "How many leave days do I get?")
	related, _ := e.Embed(ctx, "Leave policy: employees get 12 leave days per year.")
	unrelated, _ := e.Embed(ctx, "The cafeteria serves lunch at noon.")
	assert.Greater(t, utils.Dot(q, related), utils.Dot(q, unrelated))
}

func TestHashingEmbedder_EmptyText(t *testing.T) {
	v, err := NewHashingEmbedder(8).Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestHashingEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingEmbedder(8).EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHashingEmbedder_DefaultDimensions(t *testing.T) {
	e := NewHashingEmbedder(0)
	assert.Equal(t, 384, e.Dimensions())
	assert.Equal(t, "hashing-v1", e.ModelID())
	assert.NoError(t, e.Close())
}
