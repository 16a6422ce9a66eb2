// Package models defines core data structures for documents, chunks, conversations and search results.
package models

import "time"

// Document is the normalized text of one source file.
type Document struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	RawText    string    `json:"raw_text,omitempty"`
	MimeKind   string    `json:"mime_kind"`
	ModTime    time.Time `json:"mod_time"`
	Size       int64     `json:"size"`
}

// Chunk is a bounded slice of a document's text. Start and End are byte offsets
// into the document's RawText, so RawText[Start:End] == Text.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
	Ordinal    int    `json:"ordinal"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Span returns the chunk's character span as [start, end).
func (c *Chunk) Span() (int, int) {
	return c.Start, c.End
}
