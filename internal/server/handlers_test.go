package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/agent"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/store"
	"go.uber.org/zap"
)

type fakeChat struct {
	sessionID string
	seed      []models.Message
	input     string
	err       error
}

func (f *fakeChat) Ask(_ context.Context, sessionID string, seed []models.Message, userMessage string) (agent.Result, error) {
	f.sessionID, f.seed, f.input = sessionID, seed, userMessage
	if f.err != nil {
		return agent.Result{}, f.err
	}
	return agent.Result{
		Answer:    "You get 12 days.",
		ToolCalls: []models.ToolCall{{ToolName: "retrieve_company_documents", Result: "Source: leave.txt"}},
	}, nil
}

type fakeRetriever struct {
	hits []*models.SearchHit
	err  error
	k    int
	snap *store.Snapshot
}

func (f *fakeRetriever) Search(_ context.Context, _ string, k int) ([]*models.SearchHit, error) {
	f.k = k
	return f.hits, f.err
}

func (f *fakeRetriever) Snapshot() *store.Snapshot { return f.snap }

func (f *fakeRetriever) Mode() search.Mode { return search.ModeSemantic }

type fakeReindexer struct {
	calls int
}

func (f *fakeReindexer) Reindex(context.Context) (*indexer.SyncResult, error) {
	f.calls++
	return &indexer.SyncResult{Committed: true, Added: 2, ChunksEmbedded: 3, Duration: time.Millisecond}, nil
}

func (f *fakeReindexer) Directories() []string { return []string{"/data"} }

func newTestServer(chat Chatter, retriever Retriever, reindexer Reindexer) *Server {
	return NewServer(Deps{
		Chat:      chat,
		Retriever: retriever,
		Reindexer: reindexer,
		Sessions:  func() int { return 3 },
		Metrics:   metrics.New(),
	}, &config.ServerConfig{Host: "localhost", Port: 8080}, zap.NewNop())
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleChat(t *testing.T) {
	chat := &fakeChat{}
	srv := newTestServer(chat, &fakeRetriever{}, nil)
	body := `{"session_id":"abc","messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"hello"},
		{"role":"user","content":"How many leave days?"}]}`

	for _, path := range []string{"/api/v1/chat", "/chat"} {
		w := do(t, srv, http.MethodPost, path, body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", path, w.Code, w.Body.String())
		}
		var resp models.ChatResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Answer != "You get 12 days." {
			t.Errorf("answer = %q", resp.Answer)
		}
		if len(resp.ToolCalls) != 1 {
			t.Errorf("tool calls = %d", len(resp.ToolCalls))
		}
	}
	if chat.sessionID != "abc" || chat.input != "How many leave days?" || len(chat.seed) != 2 {
		t.Errorf("unexpected call: %+v", chat)
	}
}

func TestHandleChat_BadRequests(t *testing.T) {
	srv := newTestServer(&fakeChat{}, &fakeRetriever{}, nil)
	tests := map[string]string{
		"not json":        `{`,
		"no session":      `{"messages":[{"role":"user","content":"q"}]}`,
		"no messages":     `{"session_id":"s","messages":[]}`,
		"last not user":   `{"session_id":"s","messages":[{"role":"assistant","content":"q"}]}`,
		"empty user text": `{"session_id":"s","messages":[{"role":"user","content":""}]}`,
	}
	for name, body := range tests {
		w := do(t, srv, http.MethodPost, "/api/v1/chat", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"error"`) {
			t.Errorf("%s: body %s", name, w.Body.String())
		}
	}
}

func TestHandleChat_Cancelled(t *testing.T) {
	srv := newTestServer(&fakeChat{err: context.Canceled}, &fakeRetriever{}, nil)
	w := do(t, srv, http.MethodPost, "/chat", `{"session_id":"s","messages":[{"role":"user","content":"q"}]}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	ret := &fakeRetriever{hits: []*models.SearchHit{
		{Chunk: &models.Chunk{ID: "d#000000", SourcePath: "/data/leave.txt", Text: "Leave policy: 12 days"}, Score: 0.9, Rank: 1},
	}}
	srv := newTestServer(&fakeChat{}, ret, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/search?q=leave&k=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Hits[0].Chunk.SourcePath != "/data/leave.txt" || resp.Mode != "semantic" {
		t.Errorf("unexpected response %+v", resp)
	}
	if ret.k != 2 {
		t.Errorf("k = %d", ret.k)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/search", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing q: status %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/search?q=x&k=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad k: status %d", w.Code)
	}
}

func TestHandleSearch_ModelMismatch(t *testing.T) {
	ret := &fakeRetriever{err: fmt.Errorf("%w: test", search.ErrModelMismatch)}
	srv := newTestServer(&fakeChat{}, ret, nil)
	if w := do(t, srv, http.MethodGet, "/api/v1/search?q=x", ""); w.Code != http.StatusConflict {
		t.Errorf("status %d", w.Code)
	}
}

func TestHandleIndex(t *testing.T) {
	re := &fakeReindexer{}
	srv := newTestServer(&fakeChat{}, &fakeRetriever{}, re)
	w := do(t, srv, http.MethodPost, "/api/v1/index", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out indexResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Committed || out.Added != 2 || out.ChunksEmbedded != 3 || re.calls != 1 {
		t.Errorf("unexpected %+v", out)
	}

	noIndex := newTestServer(&fakeChat{}, &fakeRetriever{}, nil)
	if w := do(t, noIndex, http.MethodPost, "/api/v1/index", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("status %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	snap := store.NewSnapshot(store.Manifest{ModelIdentifier: "hashing-v1"}, nil, nil, nil)
	snap.Generation = "gen-1-abcd1234"
	srv := newTestServer(&fakeChat{}, &fakeRetriever{snap: snap}, &fakeReindexer{})
	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["generation"] != "gen-1-abcd1234" || out["sessions"] != float64(3) {
		t.Errorf("unexpected status %v", out)
	}
	manifest, ok := out["manifest"].(map[string]interface{})
	if !ok || manifest["model_identifier"] != "hashing-v1" {
		t.Errorf("manifest = %v", out["manifest"])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(&fakeChat{}, &fakeRetriever{}, nil)
	if w := do(t, srv, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status %d", w.Code)
	}
	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "kotae_http_requests_total") {
		t.Error("metrics should include the request counter recorded for /health")
	}
}
