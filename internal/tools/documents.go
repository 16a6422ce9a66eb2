package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

const (
	// DocumentToolName is the name the model uses to search internal documents.
	DocumentToolName = "retrieve_company_documents"
	// NoDocumentsFound is the observation when retrieval returns nothing.
	NoDocumentsFound = "No relevant documents found."
)

// DocumentSearcher is the retrieval capability behind the document tool.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, k int) ([]*models.SearchHit, error)
}

type queryArgs struct {
	Query string `json:"query"`
}

func querySchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": description,
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
}

func parseQuery(args json.RawMessage) (string, error) {
	var a queryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	q := strings.TrimSpace(a.Query)
	if q == "" {
		return "", fmt.Errorf("%w: query cannot be empty", ErrInvalidArguments)
	}
	return q, nil
}

// Documents searches the indexed company documents.
type Documents struct {
	searcher DocumentSearcher
	k        int
}

// NewDocuments returns the document tool returning up to k passages per call.
func NewDocuments(searcher DocumentSearcher, k int) *Documents {
	return &Documents{searcher: searcher, k: k}
}

func (d *Documents) Name() string { return DocumentToolName }

func (d *Documents) Description() string {
	return "Search internal company documents, policies, or rules."
}

func (d *Documents) Schema() map[string]any {
	return querySchema("What to look for in the company documents.")
}

// Invoke returns one block per passage, "Source: <file>\n---\n<text>", separated by a blank line.
func (d *Documents) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	query, err := parseQuery(args)
	if err != nil {
		return "", err
	}
	hits, err := d.searcher.Search(ctx, query, d.k)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}
	return FormatHits(hits), nil
}

// FormatHits renders retrieval hits as a tool observation.
func FormatHits(hits []*models.SearchHit) string {
	if len(hits) == 0 {
		return NoDocumentsFound
	}
	blocks := make([]string, 0, len(hits))
	for _, h := range hits {
		blocks = append(blocks, fmt.Sprintf("Source: %s\n---\n%s", filepath.Base(h.Chunk.SourcePath), h.Chunk.Text))
	}
	return strings.Join(blocks, "\n\n")
}
