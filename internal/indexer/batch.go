package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchError reports an embedding batch that still failed after all attempts.
// Nothing from the indexing run is committed when it is returned.
type BatchError struct {
	Batch    int
	ChunkIDs []string
	Attempts int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch %d (%d chunks, first %s) failed after %d attempts: %v",
		e.Batch, len(e.ChunkIDs), firstOr(e.ChunkIDs, "-"), e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func firstOr(ids []string, def string) string {
	if len(ids) == 0 {
		return def
	}
	return ids[0]
}

// embedChunks embeds chunk texts in batches of batchSize, running up to concurrency
// batches at once. Results are in chunk order.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []*models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	if len(chunks) == 0 {
		return vectors, nil
	}
	size := idx.batchSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for batch, start := 0, 0; start < len(chunks); batch, start = batch+1, start+size {
		end := min(start+size, len(chunks))
		batchNo, part := batch, chunks[start:end]
		offset := start
		g.Go(func() error {
			out, err := idx.embedBatch(gctx, batchNo, part)
			if err != nil {
				return err
			}
			copy(vectors[offset:], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (idx *Indexer) embedBatch(ctx context.Context, batch int, chunks []*models.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	started := time.Now()
	attempts := 0
	var out [][]float32
	backoff := retry.WithMaxRetries(uint64(idx.maxAttempts-1), retry.NewExponential(idx.retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if idx.limiter != nil {
			if err := idx.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attempts++
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("received %d embeddings for %d texts", len(vectors), len(texts))
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, embedding.ErrDimensionMismatch) {
				return err
			}
			idx.logger.Debug("embedding batch failed, retrying",
				zap.Int("batch", batch), zap.Int("attempt", attempts), zap.Error(err))
			return retry.RetryableError(err)
		}
		out = vectors
		return nil
	})
	idx.metrics.ObserveEmbeddingBatch(attempts, err, time.Since(started))
	if err != nil {
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		idx.logger.Error("embedding batch exhausted retries",
			zap.Int("batch", batch), zap.Int("attempts", attempts), zap.Error(err))
		return nil, &BatchError{Batch: batch, ChunkIDs: ids, Attempts: attempts, Err: err}
	}
	return out, nil
}
