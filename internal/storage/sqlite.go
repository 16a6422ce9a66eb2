package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A generation is written once by one goroutine; a single connection keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		mime_kind TEXT NOT NULL,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		text TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_ordinal ON chunks(document_id, ordinal);
	`
	_, err := db.Exec(schema)
	return err
}

// BatchCreateDocuments inserts documents in a transaction. Raw text is not stored; chunks carry it.
func (s *SQLiteStorage) BatchCreateDocuments(ctx context.Context, docs []*models.Document) error {
	return s.inTx(ctx,
		`INSERT INTO documents (id, source_path, mime_kind, mod_time, size) VALUES (?, ?, ?, ?, ?)`,
		len(docs), func(stmt *sql.Stmt, i int) error {
			d := docs[i]
			_, err := stmt.ExecContext(ctx, d.ID, d.SourcePath, d.MimeKind, d.ModTime.UnixNano(), d.Size)
			return err
		})
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, mime_kind, mod_time, size FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// ListDocuments returns all documents ordered by source path.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, mime_kind, mod_time, size FROM documents ORDER BY source_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	return s.inTx(ctx,
		`INSERT INTO chunks (id, document_id, source_path, text, ordinal, start_offset, end_offset)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(chunks), func(stmt *sql.Stmt, i int) error {
			c := chunks[i]
			_, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.SourcePath, c.Text, c.Ordinal, c.Start, c.End)
			return err
		})
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, source_path, text, ordinal, start_offset, end_offset
		 FROM chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return chunk, err
}

// GetChunksByDocumentID returns all chunks for a document ordered by ordinal.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT id, document_id, source_path, text, ordinal, start_offset, end_offset
		 FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
}

// ListChunks returns every chunk ordered by document and ordinal.
func (s *SQLiteStorage) ListChunks(ctx context.Context) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT id, document_id, source_path, text, ordinal, start_offset, end_offset
		 FROM chunks ORDER BY document_id, ordinal`)
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var modTime int64
	if err := row.Scan(&doc.ID, &doc.SourcePath, &doc.MimeKind, &modTime, &doc.Size); err != nil {
		return nil, err
	}
	doc.ModTime = time.Unix(0, modTime)
	return &doc, nil
}

func scanChunk(row scanner) (*models.Chunk, error) {
	var c models.Chunk
	if err := row.Scan(&c.ID, &c.DocumentID, &c.SourcePath, &c.Text, &c.Ordinal, &c.Start, &c.End); err != nil {
		return nil, err
	}
	return &c, nil
}
