// Package embedding provides the text embedding capability: an offline hashing embedder,
// an ONNX embedder, hosted providers through langchaingo, and an LRU cache wrapper.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a provider returns vectors of an unexpected size.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder produces vector embeddings for text. Query and corpus text go through the
// same Embedder so their vectors are comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelID identifies the model version; vectors from different ModelIDs are not comparable.
	ModelID() string
	Close() error
}

func checkBatch(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return fmt.Errorf("received %d embeddings for %d texts", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}
