// Package vector provides the nearest-neighbour index over chunk embeddings.
package vector

import "context"

// VectorIndex defines vector storage and similarity search keyed by chunk ID.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Get(id string) ([]float32, bool)
	Save(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // inner product; cosine similarity for normalized vectors
}
