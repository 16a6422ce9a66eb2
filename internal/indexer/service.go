package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/store"
)

// Publisher makes a snapshot visible to readers.
type Publisher interface {
	Swap(ctx context.Context, snap *store.Snapshot) error
}

// Service serializes syncs of the configured directories and publishes every new
// snapshot. The HTTP API and the file watcher share one Service.
type Service struct {
	idx       *Indexer
	dirs      []string
	publisher Publisher

	mu        sync.Mutex
	published *store.Snapshot
}

// NewService creates a Service syncing dirs.
func NewService(idx *Indexer, dirs []string, publisher Publisher) *Service {
	return &Service{idx: idx, dirs: append([]string(nil), dirs...), publisher: publisher}
}

// Directories returns the synced directories.
func (s *Service) Directories() []string {
	return append([]string(nil), s.dirs...)
}

// Open publishes the persisted index, building one first when none exists. An index
// built with a different embedding model or chunk configuration is a configuration
// error; run Reindex to rebuild it.
func (s *Service) Open(ctx context.Context) (*store.Snapshot, error) {
	snap, err := s.idx.store.Load(ctx)
	if errors.Is(err, store.ErrNoIndex) {
		s.idx.logger.Info("no index found, building", zap.Strings("directories", s.dirs))
		res, err := s.Reindex(ctx)
		if err != nil {
			return nil, err
		}
		return res.Snapshot, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.idx.compatible(snap) {
		return nil, fmt.Errorf("index %s was built with model %q (chunk size %d, overlap %d); "+
			"the configuration uses %q: rebuild the index",
			snap.Generation, snap.Manifest.ModelIdentifier, snap.Manifest.ChunkSize, snap.Manifest.ChunkOverlap,
			s.idx.embedder.ModelID())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.publish(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Reindex syncs the directories and publishes the result if it differs from the
// published snapshot. Concurrent calls run one after another.
func (s *Service) Reindex(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.idx.Sync(ctx, s.dirs)
	if err != nil {
		return nil, err
	}
	if res.Snapshot != s.published && (res.Committed || s.published == nil) {
		if err := s.publish(ctx, res.Snapshot); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) publish(ctx context.Context, snap *store.Snapshot) error {
	if s.publisher != nil {
		if err := s.publisher.Swap(ctx, snap); err != nil {
			return fmt.Errorf("publish index: %w", err)
		}
	}
	s.published = snap
	s.idx.metrics.SetIndexSize(snap.Manifest.ChunkCount, snap.Manifest.DocumentCount)
	return nil
}
