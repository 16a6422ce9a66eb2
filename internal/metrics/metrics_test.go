package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveTurn("answered", 10*time.Millisecond)
	m.ObserveTurn("degraded", time.Millisecond)
	m.ObserveToolCall("web_search", true, time.Millisecond)
	m.ObserveEmbeddingBatch(1, nil, time.Millisecond)
	m.ObserveEmbeddingBatch(3, nil, time.Millisecond)
	m.ObserveEmbeddingBatch(3, errors.New("boom"), time.Millisecond)
	m.SetIndexSize(12, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("web_search", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedBatches.WithLabelValues("retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedBatches.WithLabelValues("failed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.indexChunks))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/v1/chat", 200, time.Millisecond)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `kotae_http_requests_total{code="200",route="/api/v1/chat"} 1`))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("answered", time.Second)
	m.ObserveToolCall("x", false, time.Second)
	m.ObserveEmbeddingBatch(1, nil, time.Second)
	m.SetIndexSize(1, 1)
	m.SetSessions(1)
	m.ObserveHTTP("/", 200, time.Second)
	assert.Nil(t, m.Registry())
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
