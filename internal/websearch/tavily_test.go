package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

func testConfig(url string) config.WebSearchConfig {
	return config.WebSearchConfig{Provider: "tavily", BaseURL: url, MaxResults: 2, Topic: "general", Timeout: 5 * time.Second}
}

func TestTavily_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "go 1.24 release", req.Query)
		assert.Equal(t, 2, req.MaxResults)
		assert.Equal(t, "general", req.Topic)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go 1.24","url":"https://go.dev/blog/go1.24","content":"Go 1.24 is released.","score":0.9},
			{"title":"Notes","url":"https://go.dev/doc/go1.24","content":"Release notes.","score":0.8},
			{"title":"Extra","url":"https://example.com","content":"ignored","score":0.1}]}`))
	}))
	defer srv.Close()

	tv, err := NewTavily(testConfig(srv.URL), "secret", nil)
	require.NoError(t, err)
	results, err := tv.Search(context.Background(), "go 1.24 release")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.WebResult{Title: "Go 1.24", URL: "https://go.dev/blog/go1.24", Snippet: "Go 1.24 is released.", Score: 0.9}, results[0])
}

func TestTavily_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"ok","url":"u","content":"c"}]}`))
	}))
	defer srv.Close()

	tv, err := NewTavily(testConfig(srv.URL), "secret", nil)
	require.NoError(t, err)
	results, err := tv.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTavily_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"error":"invalid key"}}`))
	}))
	defer srv.Close()

	tv, err := NewTavily(testConfig(srv.URL), "bad", nil)
	require.NoError(t, err)
	_, err = tv.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewTavily_RequiresKey(t *testing.T) {
	_, err := NewTavily(testConfig("http://localhost"), "", nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestStaticAndDisabled(t *testing.T) {
	s := &Static{Results: []models.WebResult{{Title: "t"}}}
	res, err := s.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, []string{"q"}, s.Queries)

	_, err = Disabled{}.Search(context.Background(), "q")
	assert.True(t, errors.Is(err, ErrDisabled))
}
