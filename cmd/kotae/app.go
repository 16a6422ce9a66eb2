package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/agent"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/tools"
	"github.com/hyperjump/kotae/internal/websearch"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	store     *store.Store
	embedder  embedding.Embedder
	indexer   *indexer.Indexer
	service   *indexer.Service
	retriever *search.Retriever
}

// newApp wires storage, embedding, indexing and retrieval. Nothing is loaded or built
// until open or the service is used.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	m := metrics.New()
	st, err := store.Open(cfg.Storage.IndexPath,
		store.WithLogger(logger),
		store.WithKeepGenerations(cfg.Storage.KeepGenerations))
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	emb, err := embedding.New(ctx, cfg.Embedding, config.APIKey(cfg.Embedding.APIKeyEnv))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	policy, err := indexer.ParsePolicy(cfg.Chunking.Policy)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	chunker, err := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.OverlapOrDefault(), policy)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	loader := extract.NewLoader(extract.NewExtractor(),
		extract.WithExtensions(cfg.Documents.Extensions),
		extract.WithRecursive(cfg.Documents.RecursiveOrDefault()),
		extract.WithLoaderLogger(logger))
	idx := indexer.NewIndexer(st, emb, chunker, cfg.Embedding,
		indexer.WithLogger(logger),
		indexer.WithLoader(loader),
		indexer.WithMetrics(m))

	mode, err := search.ParseMode(cfg.Retrieval.Mode)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	retriever := search.NewRetriever(emb,
		search.WithLogger(logger),
		search.WithMode(mode),
		search.WithWeights(cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight),
		search.WithMinScore(cfg.Retrieval.MinScore),
		search.WithLimits(cfg.Retrieval.TopK, cfg.Retrieval.MaxK))

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		store:     st,
		embedder:  emb,
		indexer:   idx,
		service:   indexer.NewService(idx, cfg.Documents.Directories, retriever),
		retriever: retriever,
	}, nil
}

// open publishes the persisted index, building it first on a fresh start.
func (a *app) open(ctx context.Context) (*store.Snapshot, error) {
	snap, err := a.service.Open(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("index ready",
		zap.String("generation", snap.Generation),
		zap.Int("documents", snap.Manifest.DocumentCount),
		zap.Int("chunks", snap.Manifest.ChunkCount),
		zap.String("model", snap.Manifest.ModelIdentifier))
	return snap, nil
}

// newGenerator builds the configured language model.
func (a *app) newGenerator(ctx context.Context) (llm.Generator, error) {
	gen, err := llm.New(ctx, a.cfg.Generation, config.APIKey(a.cfg.Generation.APIKeyEnv), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation provider: %w", err)
	}
	return gen, nil
}

// newWebSearcher returns the configured web search provider. A provider that cannot be
// set up is logged and replaced by one that reports web search as unavailable.
func (a *app) newWebSearcher() websearch.Searcher {
	ws := a.cfg.WebSearch
	if ws.Provider != "tavily" {
		return websearch.Disabled{}
	}
	t, err := websearch.NewTavily(ws, config.APIKey(ws.APIKeyEnv), a.logger)
	if err != nil {
		if errors.Is(err, websearch.ErrMissingAPIKey) {
			a.logger.Warn("web search disabled: API key not set", zap.String("env", ws.APIKeyEnv))
		} else {
			a.logger.Warn("web search disabled", zap.Error(err))
		}
		return websearch.Disabled{}
	}
	return t
}

// newRegistry registers the document and web search tools.
func (a *app) newRegistry() (*tools.Registry, error) {
	reg := tools.NewRegistry(
		tools.WithTimeout(a.cfg.Agent.ToolTimeout),
		tools.WithLogger(a.logger),
		tools.WithMetrics(a.metrics))
	if err := reg.Register(tools.NewDocuments(a.retriever, a.cfg.Retrieval.TopK)); err != nil {
		return nil, err
	}
	if err := reg.Register(tools.NewWeb(a.newWebSearcher())); err != nil {
		return nil, err
	}
	return reg, nil
}

// newController builds the agent around gen with a fresh conversation store.
func (a *app) newController(gen llm.Generator) (*agent.Controller, *conversation.Store, error) {
	reg, err := a.newRegistry()
	if err != nil {
		return nil, nil, err
	}
	sessions := conversation.NewStore(a.cfg.Conversation.MaxMessages,
		conversation.WithLogger(a.logger),
		conversation.WithMetrics(a.metrics))
	ctrl := agent.NewController(gen, reg, sessions, a.cfg.Agent,
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics))
	return ctrl, sessions, nil
}

// Close releases the retriever and the embedder.
func (a *app) Close() {
	_ = a.retriever.Close()
	_ = a.embedder.Close()
}
