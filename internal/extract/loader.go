package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// LoadStats counts what a load pass did. Safe to read after the sequence is drained.
type LoadStats struct {
	Loaded  atomic.Int64
	Skipped atomic.Int64
}

// Loader walks source directories and yields normalized documents.
type Loader struct {
	extractor  *Extractor
	extensions map[string]struct{}
	recursive  bool
	logger     *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger used for skipped-file warnings.
func WithLoaderLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithExtensions restricts loading to the given extensions. Extensions without an
// extractor are still reported as unsupported when encountered.
func WithExtensions(exts []string) LoaderOption {
	return func(l *Loader) {
		if len(exts) == 0 {
			return
		}
		l.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			l.extensions[e] = struct{}{}
		}
	}
}

// WithRecursive controls whether subdirectories are scanned.
func WithRecursive(recursive bool) LoaderOption {
	return func(l *Loader) { l.recursive = recursive }
}

// NewLoader returns a recursive Loader accepting every supported extension.
func NewLoader(extractor *Extractor, opts ...LoaderOption) *Loader {
	if extractor == nil {
		extractor = NewExtractor()
	}
	l := &Loader{extractor: extractor, recursive: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns a lazy sequence of the documents under dir, in lexical path order.
// Unsupported, unreadable and empty files are skipped with a warning. The sequence yields
// a single error and stops when dir itself cannot be read or ctx is cancelled.
func (l *Loader) Load(ctx context.Context, dir string) iter.Seq2[*models.Document, error] {
	return l.LoadWithStats(ctx, dir, nil)
}

// LoadWithStats is Load that also records counts into stats when it is non-nil.
func (l *Loader) LoadWithStats(ctx context.Context, dir string, stats *LoadStats) iter.Seq2[*models.Document, error] {
	return func(yield func(*models.Document, error) bool) {
		root, err := filepath.Abs(dir)
		if err != nil {
			yield(nil, fmt.Errorf("resolve directory %s: %w", dir, err))
			return
		}
		if _, err := os.ReadDir(root); err != nil {
			yield(nil, fmt.Errorf("read directory %s: %w", root, err))
			return
		}
		stopped := false
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if path == root {
					return err
				}
				l.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				if !l.recursive || strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || !d.Type().IsRegular() {
				return nil
			}
			doc, err := l.load(path)
			if err != nil {
				if stats != nil {
					stats.Skipped.Add(1)
				}
				if errors.Is(err, errFiltered) {
					l.logger.Debug("skipping filtered file", zap.String("path", path))
				} else {
					l.logger.Warn("skipping document", zap.String("path", path), zap.Error(err))
				}
				return nil
			}
			if stats != nil {
				stats.Loaded.Add(1)
			}
			if !yield(doc, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil && !stopped {
			yield(nil, fmt.Errorf("walk %s: %w", root, walkErr))
		}
	}
}

// Collect drains Load into a slice.
func (l *Loader) Collect(ctx context.Context, dir string) ([]*models.Document, error) {
	var docs []*models.Document
	for doc, err := range l.Load(ctx, dir) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadFile loads a single file. It returns ErrUnsupported (wrapped) for unknown kinds.
func (l *Loader) LoadFile(path string) (*models.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}
	return l.load(abs)
}

var errFiltered = errors.New("extension not configured")

// Accepts reports whether path would be loaded by this loader.
func (l *Loader) Accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return false
	}
	if l.extensions == nil {
		return true
	}
	_, ok := l.extensions[ext]
	return ok
}

func (l *Loader) load(path string) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if !l.Accepts(path) {
		return nil, errFiltered
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	text, err := l.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no extractable text")
	}
	return &models.Document{
		ID:         fileid.FileDocID(path),
		SourcePath: path,
		RawText:    text,
		MimeKind:   Kind(path),
		ModTime:    info.ModTime(),
		Size:       info.Size(),
	}, nil
}
