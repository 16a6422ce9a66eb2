// Package metrics exposes Prometheus collectors for chat turns, tool calls, embedding
// batches and the active index. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kotae"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prom.Registry

	turns          *prom.CounterVec
	turnDuration   prom.Histogram
	toolCalls      *prom.CounterVec
	toolDuration   *prom.HistogramVec
	embedBatches   *prom.CounterVec
	embedDuration  prom.Histogram
	indexChunks    prom.Gauge
	indexDocuments prom.Gauge
	sessions       prom.Gauge
	httpRequests   *prom.CounterVec
	httpDuration   *prom.HistogramVec
}

// New creates the collectors and registers them, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prom.NewRegistry(),
		turns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "agent_turns_total",
			Help: "Chat turns by outcome (answered, degraded, incomplete, cancelled).",
		}, []string{"outcome"}),
		turnDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace, Name: "agent_turn_duration_seconds",
			Help:    "Duration of chat turns.",
			Buckets: prom.ExponentialBuckets(0.05, 2, 12),
		}),
		toolCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace, Name: "tool_call_duration_seconds",
			Help:    "Duration of tool invocations.",
			Buckets: prom.DefBuckets,
		}, []string{"tool"}),
		embedBatches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "embedding_batches_total",
			Help: "Embedding batches by status (ok, retried, failed).",
		}, []string{"status"}),
		embedDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace, Name: "embedding_batch_duration_seconds",
			Help:    "Duration of embedding batches including retries.",
			Buckets: prom.DefBuckets,
		}),
		indexChunks: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace, Name: "index_chunks",
			Help: "Chunks in the active index generation.",
		}),
		indexDocuments: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace, Name: "index_documents",
			Help: "Documents in the active index generation.",
		}),
		sessions: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace, Name: "conversation_sessions",
			Help: "Conversation sessions held in memory.",
		}),
		httpRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prom.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.turns, m.turnDuration, m.toolCalls, m.toolDuration,
		m.embedBatches, m.embedDuration, m.indexChunks, m.indexDocuments,
		m.sessions, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prom.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records a finished chat turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveEmbeddingBatch records a batch that took attempts tries and ended with err.
func (m *Metrics) ObserveEmbeddingBatch(attempts int, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err != nil:
		status = "failed"
	case attempts > 1:
		status = "retried"
	}
	m.embedBatches.WithLabelValues(status).Inc()
	m.embedDuration.Observe(d.Seconds())
}

// SetIndexSize records the size of the active index.
func (m *Metrics) SetIndexSize(chunks, documents int) {
	if m == nil {
		return
	}
	m.indexChunks.Set(float64(chunks))
	m.indexDocuments.Set(float64(documents))
}

// SetSessions records the number of live conversation sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
