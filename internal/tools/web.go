package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/websearch"
)

const (
	// WebToolName is the name the model uses to search the web.
	WebToolName = "web_search"
	// NoWebResults is the observation when the web search returns nothing.
	NoWebResults = "No web results found."
)

// Web searches the public web.
type Web struct {
	searcher websearch.Searcher
}

// NewWeb returns the web search tool.
func NewWeb(searcher websearch.Searcher) *Web {
	return &Web{searcher: searcher}
}

func (w *Web) Name() string { return WebToolName }

func (w *Web) Description() string {
	return "Search the web for current events and general knowledge."
}

func (w *Web) Schema() map[string]any {
	return querySchema("The web search query.")
}

// Invoke returns one block per result, "Title: ...\nURL: ...\n---\n<snippet>".
func (w *Web) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	query, err := parseQuery(args)
	if err != nil {
		return "", err
	}
	results, err := w.searcher.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}
	return FormatWebResults(results), nil
}

// FormatWebResults renders web results as a tool observation.
func FormatWebResults(results []models.WebResult) string {
	if len(results) == 0 {
		return NoWebResults
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\n---\n%s", r.Title, r.URL, r.Snippet))
	}
	return strings.Join(blocks, "\n\n")
}
