// Package store persists index generations. The root directory holds one directory per
// generation plus a CURRENT file naming the active one; CURRENT is replaced by rename, so
// readers only ever see complete generations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

const (
	currentFile  = "CURRENT"
	manifestFile = "manifest.json"
	vectorsFile  = "vectors.bin"
	chunksFile   = "chunks.db"
	genPrefix    = "gen-"
)

var (
	// ErrNoIndex is returned by Load when no generation has been committed yet.
	ErrNoIndex = errors.New("no index has been built")
	// ErrManifestMissing is returned when CURRENT names a generation without a readable manifest.
	ErrManifestMissing = errors.New("index manifest missing or unreadable")
)

// Store manages index generations under a root directory.
type Store struct {
	root   string
	keep   int
	logger *zap.Logger
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeepGenerations sets how many generations stay on disk, the active one included.
func WithKeepGenerations(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.keep = n
		}
	}
}

// Open returns a Store rooted at root, creating the directory if needed.
func Open(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	s := &Store{root: root, keep: 2, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the index root directory.
func (s *Store) Root() string { return s.root }

// Current returns the name of the active generation, or ErrNoIndex.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoIndex
		}
		return "", fmt.Errorf("read %s: %w", currentFile, err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid %s contents %q", ErrManifestMissing, currentFile, name)
	}
	return name, nil
}

// Manifest reads the active generation's manifest without loading vectors or chunks.
func (s *Store) Manifest() (Manifest, string, error) {
	gen, err := s.Current()
	if err != nil {
		return Manifest{}, "", err
	}
	m, err := readManifest(filepath.Join(s.root, gen))
	return m, gen, err
}

// Load reads the active generation into memory.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	manifest, gen, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, gen)

	vectors, err := vector.LoadMemoryIndex(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("load generation %s: %w", gen, err)
	}
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, chunksFile))
	if err != nil {
		return nil, fmt.Errorf("load generation %s: %w", gen, err)
	}
	defer db.Close()
	docs, err := db.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents of %s: %w", gen, err)
	}
	chunks, err := db.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunks of %s: %w", gen, err)
	}
	if len(chunks) != manifest.ChunkCount || vectors.Size() != manifest.ChunkCount {
		return nil, fmt.Errorf("generation %s is inconsistent: manifest has %d chunks, store %d, vectors %d",
			gen, manifest.ChunkCount, len(chunks), vectors.Size())
	}
	if vectors.Dimensions() != manifest.Dimensions {
		return nil, fmt.Errorf("generation %s is inconsistent: manifest dimensions %d, vectors %d",
			gen, manifest.Dimensions, vectors.Dimensions())
	}

	snap := NewSnapshot(manifest, docs, chunks, vectors)
	snap.Generation = gen
	s.logger.Debug("index generation loaded",
		zap.String("generation", gen),
		zap.Int("chunks", manifest.ChunkCount),
		zap.String("model", manifest.ModelIdentifier))
	return snap, nil
}

// Commit writes snap as a new generation and atomically makes it active. On failure the
// previously active generation stays active and the partial generation is removed.
// The returned snapshot carries the generation name and build time.
func (s *Store) Commit(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Vectors == nil {
		return nil, errors.New("commit: snapshot has no vector index")
	}
	previous, _ := s.Current()
	name := fmt.Sprintf("%s%d-%s", genPrefix, time.Now().UnixNano(), uuid.NewString()[:8])
	dir := filepath.Join(s.root, name)

	out := *snap
	out.Manifest.BuiltAt = time.Now().UTC()
	out.Generation = name

	if err := s.writeGeneration(ctx, dir, &out); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("failed to remove partial generation", zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, err
	}
	if err := s.swapCurrent(name); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	s.logger.Info("index generation committed",
		zap.String("generation", name),
		zap.Int("chunks", out.Manifest.ChunkCount),
		zap.Int("documents", out.Manifest.DocumentCount))
	s.gc(name, previous)
	return &out, nil
}

func (s *Store) writeGeneration(ctx context.Context, dir string, snap *Snapshot) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	if err := snap.Vectors.Save(filepath.Join(dir, vectorsFile)); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, chunksFile))
	if err != nil {
		return fmt.Errorf("create chunk store: %w", err)
	}
	if err := db.BatchCreateDocuments(ctx, snap.Documents()); err != nil {
		_ = db.Close()
		return fmt.Errorf("write documents: %w", err)
	}
	if err := db.BatchCreateChunks(ctx, snap.Chunks()); err != nil {
		_ = db.Close()
		return fmt.Errorf("write chunks: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close chunk store: %w", err)
	}
	// The manifest is written last: a generation without one is incomplete.
	data, err := json.MarshalIndent(snap.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, manifestFile), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return syncDir(dir)
}

func (s *Store) swapCurrent(name string) error {
	tmp := filepath.Join(s.root, currentFile+".tmp")
	if err := writeFileSync(tmp, []byte(name+"\n")); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.root, currentFile)); err != nil {
		return fmt.Errorf("activate generation %s: %w", name, err)
	}
	return syncDir(s.root)
}

// Generations lists generation directory names, newest first.
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read index root: %w", err)
	}
	var gens []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) {
			gens = append(gens, e.Name())
		}
	}
	slices.SortFunc(gens, func(a, b string) int { return strings.Compare(b, a) })
	return gens, nil
}

// gc removes generations beyond the retention count. The active and the previously
// active generation are kept first; remaining slots go to the newest complete ones.
func (s *Store) gc(active, previous string) {
	gens, err := s.Generations()
	if err != nil {
		s.logger.Warn("index gc skipped", zap.Error(err))
		return
	}
	keep := map[string]bool{active: true}
	if previous != "" && s.keep > 1 {
		keep[previous] = true
	}
	for _, g := range gens {
		if len(keep) >= s.keep {
			break
		}
		if _, err := readManifest(filepath.Join(s.root, g)); err == nil {
			keep[g] = true
		}
	}
	for _, g := range gens {
		if keep[g] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, g)); err != nil {
			s.logger.Warn("failed to remove old generation", zap.String("generation", g), zap.Error(err))
			continue
		}
		s.logger.Debug("old index generation removed", zap.String("generation", g))
	}
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrManifestMissing, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrManifestMissing, err)
	}
	if m.FormatVersion != FormatVersion {
		return m, fmt.Errorf("%w: unsupported format version %d", ErrManifestMissing, m.FormatVersion)
	}
	return m, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some platforms do not support syncing directories.
	_ = d.Sync()
	return nil
}
