// Package websearch provides the web search capability used by the web_search tool.
package websearch

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("web search is not configured")

// Searcher fetches web results for a query, best first.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.WebResult, error)
}

// Static returns fixed results for every query. Used offline and in tests.
type Static struct {
	Results []models.WebResult
	Err     error
	// Queries records every query received.
	Queries []string
}

// Search returns s.Results or s.Err.
func (s *Static) Search(ctx context.Context, query string) ([]models.WebResult, error) {
	s.Queries = append(s.Queries, query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Results, nil
}

// Disabled always fails with ErrDisabled, so the tool reports the failure as an observation.
type Disabled struct{}

// Search returns ErrDisabled.
func (Disabled) Search(context.Context, string) ([]models.WebResult, error) {
	return nil, ErrDisabled
}
