// Package search answers similarity queries against the active index snapshot and
// fuses semantic and keyword scores in hybrid mode.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
)

// ErrModelMismatch is returned when the query embedder differs from the model that built the index.
var ErrModelMismatch = errors.New("embedding model does not match index")

// Mode selects how candidates are scored.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSemantic:
		return ModeSemantic, nil
	case ModeHybrid:
		return ModeHybrid, nil
	}
	return "", fmt.Errorf("unknown retrieval mode %q", s)
}

// hybridCandidates is the minimum candidate pool drawn from each source before fusion.
const hybridCandidates = 20

// published is one snapshot plus its derived keyword index. The keyword index is closed
// once the snapshot is retired and no search still holds it.
type published struct {
	snap    *store.Snapshot
	keyword *keyword.BleveIndex
	refs    atomic.Int64
	retired atomic.Bool
	once    sync.Once
}

func (p *published) release() {
	if p.refs.Add(-1) == 0 && p.retired.Load() {
		p.close()
	}
}

func (p *published) retire() {
	p.retired.Store(true)
	if p.refs.Load() == 0 {
		p.close()
	}
}

func (p *published) close() {
	p.once.Do(func() {
		if p.keyword != nil {
			_ = p.keyword.Close()
		}
	})
}

// Retriever searches the currently published snapshot. Swap replaces the snapshot
// atomically; searches in flight keep using the one they started with.
type Retriever struct {
	embedder       embedding.Embedder
	current        atomic.Pointer[published]
	mode           Mode
	topK           int
	maxK           int
	keywordWeight  float64
	semanticWeight float64
	minScore       float64
	logger         *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMode sets semantic or hybrid retrieval.
func WithMode(m Mode) Option {
	return func(r *Retriever) { r.mode = m }
}

// WithWeights sets the hybrid fusion weights.
func WithWeights(keywordWeight, semanticWeight float64) Option {
	return func(r *Retriever) {
		r.keywordWeight = keywordWeight
		r.semanticWeight = semanticWeight
	}
}

// WithMinScore drops hits scoring below s.
func WithMinScore(s float64) Option {
	return func(r *Retriever) { r.minScore = s }
}

// WithLimits sets the default k used when a caller passes k <= 0 and the hard upper bound on k.
func WithLimits(topK, maxK int) Option {
	return func(r *Retriever) {
		if topK > 0 {
			r.topK = topK
		}
		if maxK > 0 {
			r.maxK = maxK
		}
	}
}

// NewRetriever creates a Retriever with no snapshot; searches return nothing until Swap.
func NewRetriever(embedder embedding.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:       embedder,
		mode:           ModeSemantic,
		topK:           4,
		maxK:           50,
		keywordWeight:  0.3,
		semanticWeight: 0.7,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the retrieval mode.
func (r *Retriever) Mode() Mode { return r.mode }

// Snapshot returns the published snapshot, or nil.
func (r *Retriever) Snapshot() *store.Snapshot {
	if p := r.current.Load(); p != nil {
		return p.snap
	}
	return nil
}

// Swap publishes snap. In hybrid mode a keyword index is built from its chunks first,
// so readers never see a snapshot without one.
func (r *Retriever) Swap(ctx context.Context, snap *store.Snapshot) error {
	next := &published{snap: snap}
	if r.mode == ModeHybrid && snap != nil {
		kw, err := keyword.NewBleveIndex()
		if err != nil {
			return err
		}
		if err := kw.IndexChunks(ctx, snap.Chunks()); err != nil {
			_ = kw.Close()
			return fmt.Errorf("build keyword index: %w", err)
		}
		next.keyword = kw
	}
	if prev := r.current.Swap(next); prev != nil {
		prev.retire()
	}
	if snap != nil {
		r.logger.Info("published index snapshot",
			zap.String("generation", snap.Generation),
			zap.Int("chunks", snap.Len()),
			zap.String("mode", string(r.mode)))
	}
	return nil
}

// Close releases the published snapshot's keyword index.
func (r *Retriever) Close() error {
	if prev := r.current.Swap(nil); prev != nil {
		prev.retire()
	}
	return nil
}

func (r *Retriever) acquire() *published {
	for {
		p := r.current.Load()
		if p == nil {
			return nil
		}
		p.refs.Add(1)
		if r.current.Load() == p {
			return p
		}
		p.release()
	}
}

// Search returns at most k chunks ordered by score descending, ties broken by ascending
// chunk ID. k <= 0 uses the configured default. An empty index yields no hits.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]*models.SearchHit, error) {
	if k <= 0 {
		k = r.topK
	}
	k = min(k, r.maxK)
	p := r.acquire()
	if p == nil {
		return nil, nil
	}
	defer p.release()
	snap := p.snap
	if model := snap.Manifest.ModelIdentifier; model != "" && model != r.embedder.ModelID() {
		return nil, fmt.Errorf("%w: index built with %q, query embedder is %q",
			ErrModelMismatch, model, r.embedder.ModelID())
	}
	if snap.Len() == 0 || snap.Vectors == nil || query == "" {
		return nil, nil
	}

	var fused []*FusedResult
	if r.mode == ModeHybrid && p.keyword != nil {
		var err error
		if fused, err = r.hybrid(ctx, p, query, max(k, hybridCandidates)); err != nil {
			return nil, err
		}
	} else {
		semantic, err := r.semantic(ctx, snap.Vectors, query, k)
		if err != nil {
			return nil, err
		}
		fused = Fuse(nil, SemanticScores(semantic), 0, 1)
	}

	hits := make([]*models.SearchHit, 0, min(k, len(fused)))
	for _, f := range fused {
		if len(hits) == k {
			break
		}
		if r.minScore != 0 && f.Score < r.minScore {
			continue
		}
		chunk, ok := snap.Chunk(f.ChunkID)
		if !ok {
			r.logger.Warn("search hit has no chunk", zap.String("chunk_id", f.ChunkID))
			continue
		}
		hits = append(hits, &models.SearchHit{
			Chunk:         chunk,
			Score:         f.Score,
			SemanticScore: f.SemanticScore,
			KeywordScore:  f.KeywordScore,
			Rank:          len(hits) + 1,
		})
	}
	return hits, nil
}

func (r *Retriever) semantic(ctx context.Context, vectors *vector.MemoryIndex, query string, k int) ([]*vector.VectorResult, error) {
	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := vectors.Search(ctx, qv, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}

func (r *Retriever) hybrid(ctx context.Context, p *published, query string, candidates int) ([]*FusedResult, error) {
	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := p.keyword.Search(gctx, query, candidates, &keyword.SearchOptions{TitleBoost: 2})
		if err != nil {
			return fmt.Errorf("keyword search failed: %w", err)
		}
		keywordResults = results
		return nil
	})
	g.Go(func() error {
		results, err := r.semantic(gctx, p.snap.Vectors, query, candidates)
		if err != nil {
			return err
		}
		semanticResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Fuse(
		NormalizeMinMax(KeywordScores(keywordResults)),
		NormalizeMinMax(SemanticScores(semanticResults)),
		r.keywordWeight, r.semanticWeight,
	), nil
}
