package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	seed, input, err := req.Validate()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("chat request", zap.String("session_id", req.SessionID), zap.Int("messages", len(req.Messages)))
	res, err := s.deps.Chat.Ask(r.Context(), req.SessionID, seed, input.Content)
	if err != nil {
		// Only cancellation reaches here; the agent degrades every other failure to an answer.
		s.logger.Info("chat abandoned", zap.String("session_id", req.SessionID), zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "request cancelled before an answer was ready")
		return
	}
	s.respondJSON(w, http.StatusOK, models.ChatResponse{
		Answer:     res.Answer,
		ToolCalls:  res.ToolCalls,
		Degraded:   res.Degraded,
		Incomplete: res.Incomplete,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}
	hits, err := s.deps.Retriever.Search(r.Context(), query, k)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, search.ErrModelMismatch) {
			status = http.StatusConflict
		}
		s.respondError(w, status, err.Error())
		return
	}
	if hits == nil {
		hits = []*models.SearchHit{}
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{
		Query:     query,
		Hits:      hits,
		Total:     len(hits),
		Mode:      string(s.deps.Retriever.Mode()),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

type indexResponse struct {
	Generation     string `json:"generation"`
	Committed      bool   `json:"committed"`
	Rebuilt        bool   `json:"rebuilt"`
	Added          int    `json:"added"`
	Updated        int    `json:"updated"`
	Removed        int    `json:"removed"`
	Unchanged      int    `json:"unchanged"`
	Skipped        int64  `json:"skipped"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	DurationMs     int64  `json:"duration_ms"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reindexer == nil {
		s.respondError(w, http.StatusNotImplemented, "indexing not enabled")
		return
	}
	res, err := s.deps.Reindexer.Reindex(r.Context())
	if err != nil {
		s.logger.Error("reindex failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := indexResponse{
		Committed:      res.Committed,
		Rebuilt:        res.Rebuilt,
		Added:          res.Added,
		Updated:        res.Updated,
		Removed:        res.Removed,
		Unchanged:      res.Unchanged,
		Skipped:        res.Skipped,
		ChunksEmbedded: res.ChunksEmbedded,
		DurationMs:     res.Duration.Milliseconds(),
	}
	if res.Snapshot != nil {
		out.Generation = res.Snapshot.Generation
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"retrieval_mode": string(s.deps.Retriever.Mode()),
	}
	if snap := s.deps.Retriever.Snapshot(); snap != nil {
		resp["generation"] = snap.Generation
		resp["manifest"] = snap.Manifest
	} else {
		resp["generation"] = nil
	}
	if s.deps.Sessions != nil {
		resp["sessions"] = s.deps.Sessions()
	}
	if s.deps.Reindexer != nil {
		resp["directories"] = s.deps.Reindexer.Directories()
	}
	if s.deps.IndexRoot != "" {
		usage, err := storage.DiskUsage(s.deps.IndexRoot)
		if err == nil {
			resp["disk_usage_bytes"] = usage.Total
			resp["generation_bytes"] = usage.Generations
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
