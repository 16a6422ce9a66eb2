package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// ErrMissingAPIKey is returned by NewTavily when no API key is set.
var ErrMissingAPIKey = errors.New("tavily API key is required")

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Topic      string `json:"topic"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

type tavilyError struct {
	Detail any `json:"detail"`
}

// Tavily queries the Tavily search API.
type Tavily struct {
	client     *resty.Client
	maxResults int
	topic      string
	logger     *zap.Logger
}

// NewTavily creates a Tavily client from cfg. Transient failures (network errors, 429, 5xx)
// are retried by the HTTP client; each attempt is bounded by cfg.Timeout.
func NewTavily(cfg config.WebSearchConfig, apiKey string, logger *zap.Logger) (*Tavily, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(apiKey).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 2
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "general"
	}
	return &Tavily{client: client, maxResults: maxResults, topic: topic, logger: logger}, nil
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// Search posts the query to /search and returns at most maxResults results.
func (t *Tavily) Search(ctx context.Context, query string) ([]models.WebResult, error) {
	var (
		out    tavilyResponse
		apiErr tavilyError
	)
	start := time.Now()
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(tavilyRequest{Query: query, MaxResults: t.maxResults, Topic: t.topic}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tavily returned %d: %v", resp.StatusCode(), apiErr.Detail)
	}
	results := make([]models.WebResult, 0, min(len(out.Results), t.maxResults))
	for _, r := range out.Results {
		if len(results) == t.maxResults {
			break
		}
		results = append(results, models.WebResult{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	t.logger.Debug("web search",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)))
	return results, nil
}
