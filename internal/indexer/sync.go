package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// SyncResult summarizes a Sync run.
type SyncResult struct {
	Snapshot       *store.Snapshot
	Committed      bool
	Rebuilt        bool
	Added          int
	Updated        int
	Removed        int
	Unchanged      int
	Skipped        int64
	ChunksEmbedded int
	Duration       time.Duration
}

// Sync loads every document under dirs and brings the index in line with them. Documents
// whose modification time and size match the active generation keep their chunks and
// vectors; new or changed documents are re-chunked and embedded; missing ones are dropped.
// A new generation is committed only when something changed. When the embedding model or
// chunk configuration differs from the active generation, everything is rebuilt.
func (idx *Indexer) Sync(ctx context.Context, dirs []string) (*SyncResult, error) {
	started := time.Now()
	prev, err := idx.store.Load(ctx)
	if err != nil && !errors.Is(err, store.ErrNoIndex) {
		return nil, fmt.Errorf("load current index: %w", err)
	}
	res := &SyncResult{}
	if prev != nil && !idx.compatible(prev) {
		idx.logger.Info("index configuration changed, rebuilding",
			zap.String("index_model", prev.Manifest.ModelIdentifier),
			zap.String("embedder_model", idx.embedder.ModelID()))
		res.Rebuilt = true
	}

	var stats extract.LoadStats
	var (
		keepDocs   []*models.Document
		keepChunks []*models.Chunk
		newDocs    []*models.Document
		newChunks  []*models.Chunk
	)
	seen := make(map[string]bool)
	for _, dir := range dirs {
		for doc, err := range idx.loader.LoadWithStats(ctx, dir, &stats) {
			if err != nil {
				return nil, err
			}
			if seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			if prev != nil && !res.Rebuilt {
				if old, ok := prev.Document(doc.ID); ok {
					if old.ModTime.Equal(doc.ModTime) && old.Size == doc.Size {
						keepDocs = append(keepDocs, old)
						keepChunks = append(keepChunks, prev.DocumentChunks(doc.ID)...)
						res.Unchanged++
						continue
					}
					res.Updated++
				} else {
					res.Added++
				}
			} else {
				res.Added++
			}
			doc.RawText = Preprocess(doc.RawText)
			newChunks = append(newChunks, idx.chunker.Chunk(doc)...)
			doc.RawText = ""
			newDocs = append(newDocs, doc)
		}
	}
	res.Skipped = stats.Skipped.Load()
	if prev != nil && !res.Rebuilt {
		for _, d := range prev.Documents() {
			if !seen[d.ID] {
				res.Removed++
			}
		}
	}

	if prev != nil && !res.Rebuilt && res.Added == 0 && res.Updated == 0 && res.Removed == 0 {
		res.Snapshot = prev
		res.Duration = time.Since(started)
		idx.logger.Debug("index up to date", zap.Int("documents", res.Unchanged))
		return res, nil
	}

	vectors, err := idx.embedChunks(ctx, newChunks)
	if err != nil {
		return nil, err
	}
	vecs, err := vector.NewMemoryIndex(idx.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	for _, c := range keepChunks {
		v, ok := prev.Vectors.Get(c.ID)
		if !ok {
			return nil, fmt.Errorf("generation %s has no vector for chunk %s", prev.Generation, c.ID)
		}
		if err := vecs.Add(ctx, []string{c.ID}, [][]float32{v}); err != nil {
			return nil, err
		}
	}
	if err := vecs.Add(ctx, chunkIDs(newChunks), vectors); err != nil {
		return nil, fmt.Errorf("index vectors: %w", err)
	}
	snap, err := idx.commit(ctx, append(keepDocs, newDocs...), append(keepChunks, newChunks...), vecs)
	if err != nil {
		return nil, err
	}
	res.Snapshot = snap
	res.Committed = true
	res.ChunksEmbedded = len(newChunks)
	res.Duration = time.Since(started)
	idx.logger.Info("index synced",
		zap.String("generation", snap.Generation),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("removed", res.Removed),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("chunks_embedded", res.ChunksEmbedded),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (idx *Indexer) compatible(snap *store.Snapshot) bool {
	m := snap.Manifest
	return m.ModelIdentifier == idx.embedder.ModelID() &&
		m.Dimensions == idx.embedder.Dimensions() &&
		m.ChunkSize == idx.chunker.MaxLength &&
		m.ChunkOverlap == idx.chunker.Overlap &&
		(m.ChunkPolicy == "" || m.ChunkPolicy == string(idx.chunker.Policy))
}
