package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrModelChanged is returned by Extend when the snapshot was built with a different
// embedding model than the indexer's; the index must be rebuilt instead.
var ErrModelChanged = errors.New("embedding model differs from index; rebuild required")

// Indexer embeds chunks and commits them as index generations.
type Indexer struct {
	store    *store.Store
	embedder embedding.Embedder
	chunker  *Chunker
	loader   *extract.Loader
	logger   *zap.Logger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter

	batchSize    int
	concurrency  int
	maxAttempts  int
	retryBackoff time.Duration
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for indexing events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithLoader sets the document loader used by Sync.
func WithLoader(l *extract.Loader) IndexerOption {
	return func(idx *Indexer) { idx.loader = l }
}

// WithMetrics records embedding batches and index size.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// NewIndexer creates an indexer. Batch size, concurrency, retry and rate limits come from cfg.
func NewIndexer(st *store.Store, embedder embedding.Embedder, chunker *Chunker, cfg config.EmbeddingConfig, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:        st,
		embedder:     embedder,
		chunker:      chunker,
		logger:       zap.NewNop(),
		batchSize:    max(cfg.BatchSize, 1),
		concurrency:  max(cfg.Concurrency, 1),
		maxAttempts:  max(cfg.MaxAttempts, 1),
		retryBackoff: cfg.RetryBackoff,
	}
	if idx.retryBackoff <= 0 {
		idx.retryBackoff = 500 * time.Millisecond
	}
	if cfg.RequestsPerSecond > 0 {
		idx.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.loader == nil {
		idx.loader = extract.NewLoader(nil, extract.WithLoaderLogger(idx.logger))
	}
	return idx
}

// Chunker returns the chunker used for documents.
func (idx *Indexer) Chunker() *Chunker { return idx.chunker }

// ChunkDocuments preprocesses each document in place and returns all chunks in document order.
func (idx *Indexer) ChunkDocuments(docs []*models.Document) []*models.Chunk {
	var chunks []*models.Chunk
	for _, doc := range docs {
		doc.RawText = Preprocess(doc.RawText)
		chunks = append(chunks, idx.chunker.Chunk(doc)...)
	}
	return chunks
}

// Build embeds chunks and commits a new generation holding exactly docs and chunks.
// On any error nothing is committed and the previous generation stays active.
func (idx *Indexer) Build(ctx context.Context, docs []*models.Document, chunks []*models.Chunk) (*store.Snapshot, error) {
	if err := checkUniqueIDs(chunks); err != nil {
		return nil, err
	}
	vectors, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	vecs, err := vector.NewMemoryIndex(idx.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if err := vecs.Add(ctx, chunkIDs(chunks), vectors); err != nil {
		return nil, fmt.Errorf("index vectors: %w", err)
	}
	return idx.commit(ctx, docs, chunks, vecs)
}

// Extend embeds chunks and commits a generation holding snap's contents plus the new
// documents and chunks; an existing document or chunk with the same ID is replaced.
// Extending with no chunks returns snap unchanged and writes nothing.
func (idx *Indexer) Extend(ctx context.Context, snap *store.Snapshot, docs []*models.Document, chunks []*models.Chunk) (*store.Snapshot, error) {
	if len(chunks) == 0 {
		return snap, nil
	}
	if snap == nil {
		return idx.Build(ctx, docs, chunks)
	}
	if snap.Manifest.ModelIdentifier != idx.embedder.ModelID() {
		return nil, fmt.Errorf("%w: index %q, embedder %q", ErrModelChanged, snap.Manifest.ModelIdentifier, idx.embedder.ModelID())
	}
	if err := checkUniqueIDs(chunks); err != nil {
		return nil, err
	}
	vectors, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	replaced := make(map[string]bool, len(docs))
	allDocs := append([]*models.Document(nil), docs...)
	for _, d := range docs {
		replaced[d.ID] = true
	}
	for _, d := range snap.Documents() {
		if !replaced[d.ID] {
			allDocs = append(allDocs, d)
		}
	}
	newIDs := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		newIDs[c.ID] = true
	}
	vecs, err := vector.NewMemoryIndex(idx.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	allChunks := append([]*models.Chunk(nil), chunks...)
	for _, c := range snap.Chunks() {
		if newIDs[c.ID] || replaced[c.DocumentID] {
			continue
		}
		v, ok := snap.Vectors.Get(c.ID)
		if !ok {
			return nil, fmt.Errorf("snapshot %s has no vector for chunk %s", snap.Generation, c.ID)
		}
		if err := vecs.Add(ctx, []string{c.ID}, [][]float32{v}); err != nil {
			return nil, err
		}
		allChunks = append(allChunks, c)
	}
	if err := vecs.Add(ctx, chunkIDs(chunks), vectors); err != nil {
		return nil, fmt.Errorf("index vectors: %w", err)
	}
	return idx.commit(ctx, allDocs, allChunks, vecs)
}

func (idx *Indexer) commit(ctx context.Context, docs []*models.Document, chunks []*models.Chunk, vecs *vector.MemoryIndex) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := store.NewSnapshot(store.Manifest{
		ModelIdentifier: idx.embedder.ModelID(),
		ChunkSize:       idx.chunker.MaxLength,
		ChunkOverlap:    idx.chunker.Overlap,
		ChunkPolicy:     string(idx.chunker.Policy),
	}, docs, chunks, vecs)
	committed, err := idx.store.Commit(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("commit index: %w", err)
	}
	idx.metrics.SetIndexSize(committed.Manifest.ChunkCount, committed.Manifest.DocumentCount)
	return committed, nil
}

func checkUniqueIDs(chunks []*models.Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("duplicate chunk id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func chunkIDs(chunks []*models.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
