package store

import (
	"slices"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// FormatVersion is the on-disk layout version written to every manifest.
const FormatVersion = 1

// Manifest describes one index generation.
type Manifest struct {
	ModelIdentifier string    `json:"model_identifier"`
	Dimensions      int       `json:"dimensions"`
	ChunkCount      int       `json:"chunk_count"`
	DocumentCount   int       `json:"document_count"`
	BuiltAt         time.Time `json:"built_at"`
	ChunkSize       int       `json:"chunk_size"`
	ChunkOverlap    int       `json:"chunk_overlap"`
	ChunkPolicy     string    `json:"chunk_policy,omitempty"`
	FormatVersion   int       `json:"format_version"`
}

// Snapshot is an immutable, fully loaded index: manifest, documents, chunks and vectors.
// Readers may share a Snapshot freely; a new index is published as a new Snapshot.
type Snapshot struct {
	Manifest   Manifest
	Generation string
	Vectors    *vector.MemoryIndex

	documents map[string]*models.Document
	chunks    map[string]*models.Chunk
	byDoc     map[string][]*models.Chunk
}

// NewSnapshot assembles a snapshot and fills in the manifest counts and dimensions.
func NewSnapshot(manifest Manifest, docs []*models.Document, chunks []*models.Chunk, vectors *vector.MemoryIndex) *Snapshot {
	s := &Snapshot{
		Manifest:  manifest,
		Vectors:   vectors,
		documents: make(map[string]*models.Document, len(docs)),
		chunks:    make(map[string]*models.Chunk, len(chunks)),
		byDoc:     make(map[string][]*models.Chunk, len(docs)),
	}
	for _, d := range docs {
		s.documents[d.ID] = d
	}
	for _, c := range chunks {
		s.chunks[c.ID] = c
		s.byDoc[c.DocumentID] = append(s.byDoc[c.DocumentID], c)
	}
	for _, list := range s.byDoc {
		slices.SortFunc(list, func(a, b *models.Chunk) int { return a.Ordinal - b.Ordinal })
	}
	s.Manifest.ChunkCount = len(s.chunks)
	s.Manifest.DocumentCount = len(s.documents)
	if vectors != nil {
		s.Manifest.Dimensions = vectors.Dimensions()
	}
	if s.Manifest.FormatVersion == 0 {
		s.Manifest.FormatVersion = FormatVersion
	}
	return s
}

// Chunk returns the chunk with the given ID.
func (s *Snapshot) Chunk(id string) (*models.Chunk, bool) {
	c, ok := s.chunks[id]
	return c, ok
}

// Document returns the document with the given ID.
func (s *Snapshot) Document(id string) (*models.Document, bool) {
	d, ok := s.documents[id]
	return d, ok
}

// DocumentChunks returns a document's chunks in ordinal order.
func (s *Snapshot) DocumentChunks(docID string) []*models.Chunk {
	return s.byDoc[docID]
}

// Documents returns all documents ordered by source path.
func (s *Snapshot) Documents() []*models.Document {
	out := make([]*models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *models.Document) int { return strings.Compare(a.SourcePath, b.SourcePath) })
	return out
}

// Chunks returns all chunks ordered by ID.
func (s *Snapshot) Chunks() []*models.Chunk {
	out := make([]*models.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *models.Chunk) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of chunks.
func (s *Snapshot) Len() int { return len(s.chunks) }
