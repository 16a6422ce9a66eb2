package embedding

import (
	"context"

	"github.com/hyperjump/kotae/pkg/utils"
)

// HashingEmbedder maps text to a bag-of-terms vector using the hashing trick.
// It needs no model files or network and is deterministic, so texts sharing terms
// score higher than unrelated texts. Used offline and in tests.
type HashingEmbedder struct {
	dimensions int
	modelID    string
}

// NewHashingEmbedder returns a HashingEmbedder producing vectors of the given dimensions.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEmbedder{dimensions: dimensions, modelID: "hashing-v1"}
}

// Embed returns the L2-normalized term vector of text. Text without terms yields a zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	for _, term := range SplitWords(text) {
		sum := termHash(term)
		idx := int(sum % uint64(e.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int { return e.dimensions }

// ModelID returns the hashing scheme version.
func (e *HashingEmbedder) ModelID() string { return e.modelID }

// Close is a no-op.
func (e *HashingEmbedder) Close() error { return nil }
