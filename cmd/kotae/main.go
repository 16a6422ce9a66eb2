// Package main is the Kotae CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "~/.kotae/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, then the default file; with neither present the
// built-in defaults are used relative to the current directory. Returns the config and
// the path that was loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		candidates := []string{filepath.Join(cwd, "config.yaml")}
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".kotae", "config.yaml"))
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				cfg, err := config.Load(c)
				if err != nil {
					return nil, "", err
				}
				return cfg, c, nil
			}
		}
		return config.Default(cwd), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads .env and the config, validates it and builds the logger. Any failure is
// a configuration error and exits the process.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "index":
		runIndex()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fatal("%v", err)
	}
	return format
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "re-index when document directories change (overrides documents.watch)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	defer a.Close()
	if _, err := a.open(ctx); err != nil {
		logger.Fatal("failed to open index", zap.Error(err))
	}
	gen, err := a.newGenerator(ctx)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	ctrl, sessions, err := a.newController(gen)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}

	if cfg.Documents.Watch || *watch {
		w := newReindexWatcher(a)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(server.Deps{
		Chat:      ctrl,
		Retriever: a.retriever,
		Reindexer: a.service,
		Sessions:  sessions.Len,
		Metrics:   a.metrics,
		IndexRoot: cfg.Storage.IndexPath,
	}, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}
	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// newReindexWatcher watches the document directories and resyncs the index after
// changes settle.
func newReindexWatcher(a *app) *watcher.Watcher {
	return watcher.New(
		a.cfg.Documents.Directories,
		a.cfg.Documents.Extensions,
		a.cfg.Documents.RecursiveOrDefault(),
		func(ctx context.Context, paths []string) {
			res, err := a.service.Reindex(ctx)
			if err != nil {
				a.logger.Error("re-index after change failed", zap.Strings("paths", paths), zap.Error(err))
				return
			}
			a.logger.Info("re-indexed after change",
				zap.Int("paths", len(paths)),
				zap.Bool("committed", res.Committed),
				zap.Int("added", res.Added),
				zap.Int("updated", res.Updated),
				zap.Int("removed", res.Removed))
		},
		watcher.WithLogger(a.logger),
	)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if fs.NArg() > 0 {
		dirs := make([]string, 0, fs.NArg())
		for _, d := range fs.Args() {
			abs, err := filepath.Abs(d)
			if err != nil {
				fatal("Invalid directory %s: %v", d, err)
			}
			dirs = append(dirs, abs)
		}
		cfg.Documents.Directories = dirs
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fatal("Failed to initialize: %v", err)
	}
	defer a.Close()

	res, err := a.service.Reindex(ctx)
	if err != nil {
		fatal("Indexing failed: %v", err)
	}
	if err := cli.WriteIndexSummary(os.Stdout, indexSummary(res), format); err != nil {
		fatal("Output failed: %v", err)
	}
}

func indexSummary(res *indexer.SyncResult) cli.IndexSummary {
	s := cli.IndexSummary{
		Committed:      res.Committed,
		Rebuilt:        res.Rebuilt,
		Added:          res.Added,
		Updated:        res.Updated,
		Removed:        res.Removed,
		Unchanged:      res.Unchanged,
		Skipped:        res.Skipped,
		ChunksEmbedded: res.ChunksEmbedded,
		DurationMillis: res.Duration.Milliseconds(),
	}
	if res.Snapshot != nil {
		s.Generation = res.Snapshot.Generation
		s.Chunks = res.Snapshot.Len()
	}
	return s
}

// argsReorder moves flags that appear after positional arguments to the front so
// flag.Parse sees them; the flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word input works with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "ask a running server instead of answering in-process")
	sessionID := fs.String("session", "", "conversation session id (default: a new session)")
	verbose := fs.Bool("verbose", false, "show tool calls")
	outputFormat := fs.String("format", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kotae ask [flags] <question>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)
	question := buildQuery(fs.Args())
	if question == "" {
		fs.Usage()
		os.Exit(1)
	}
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}

	var (
		resp *models.ChatResponse
		err  error
	)
	if *serverURL != "" {
		resp, err = askViaHTTP(*serverURL, *sessionID, question)
	} else {
		resp, err = askInProcess(*configPath, *debug, *sessionID, question)
	}
	if err != nil {
		fatal("Ask failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format, *verbose); err != nil {
		fatal("Output failed: %v", err)
	}
}

func askInProcess(configPath string, debug bool, sessionID, question string) (*models.ChatResponse, error) {
	cfg, logger := setup(configPath, debug)
	defer logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if _, err := a.open(ctx); err != nil {
		return nil, err
	}
	gen, err := a.newGenerator(ctx)
	if err != nil {
		return nil, err
	}
	ctrl, _, err := a.newController(gen)
	if err != nil {
		return nil, err
	}
	res, err := ctrl.Ask(ctx, sessionID, nil, question)
	if err != nil {
		return nil, err
	}
	return &models.ChatResponse{
		Answer:     res.Answer,
		ToolCalls:  res.ToolCalls,
		Degraded:   res.Degraded,
		Incomplete: res.Incomplete,
	}, nil
}

func newClient(serverURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetTimeout(5 * time.Minute)
}

func askViaHTTP(serverURL, sessionID, question string) (*models.ChatResponse, error) {
	var out models.ChatResponse
	resp, err := newClient(serverURL).R().
		SetBody(models.ChatRequest{
			SessionID: sessionID,
			Messages:  []models.ChatMessage{{Role: string(models.RoleUser), Content: question}},
		}).
		SetResult(&out).
		Post("/api/v1/chat")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return &out, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "search through a running server instead of in-process")
	k := fs.Int("k", 0, "number of passages (default: retrieval.top_k)")
	outputFormat := fs.String("format", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kotae search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)
	query := buildQuery(fs.Args())
	if query == "" {
		fs.Usage()
		os.Exit(1)
	}

	var (
		resp *models.SearchResponse
		err  error
	)
	if *serverURL != "" {
		resp, err = searchViaHTTP(*serverURL, query, *k)
	} else {
		resp, err = searchInProcess(*configPath, *debug, query, *k)
	}
	if err != nil {
		fatal("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		fatal("Output failed: %v", err)
	}
}

func searchInProcess(configPath string, debug bool, query string, k int) (*models.SearchResponse, error) {
	cfg, logger := setup(configPath, debug)
	defer logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if _, err := a.open(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	hits, err := a.retriever.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     query,
		Hits:      hits,
		Total:     len(hits),
		Mode:      string(a.retriever.Mode()),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

func searchViaHTTP(serverURL, query string, k int) (*models.SearchResponse, error) {
	var out models.SearchResponse
	req := newClient(serverURL).R().SetQueryParam("q", query).SetResult(&out)
	if k > 0 {
		req.SetQueryParam("k", fmt.Sprint(k))
	}
	resp, err := req.Get("/api/v1/search")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return &out, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	cfg, logger := setup(*configPath, false)
	defer logger.Sync()
	status, err := indexStatus(cfg, logger)
	if err != nil {
		fatal("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatal("Output failed: %v", err)
	}
}

// indexStatus reads the active manifest without loading the index.
func indexStatus(cfg *config.Config, logger *zap.Logger) (cli.Status, error) {
	status := cli.Status{
		Directories: cfg.Documents.Directories,
		IndexRoot:   cfg.Storage.IndexPath,
	}
	st, err := store.Open(cfg.Storage.IndexPath, store.WithLogger(logger))
	if err != nil {
		return status, err
	}
	manifest, generation, err := st.Manifest()
	switch {
	case errors.Is(err, store.ErrNoIndex):
	case err != nil:
		return status, err
	default:
		status.Manifest = &manifest
		status.Generation = generation
	}
	if usage, err := storage.DiskUsage(cfg.Storage.IndexPath); err == nil {
		status.DiskUsageBytes = usage.Total
		status.Generations = usage.Generations
	}
	return status, nil
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	defer a.Close()
	// Catch up with changes made while nothing was watching.
	if _, err := a.service.Reindex(ctx); err != nil {
		logger.Fatal("initial index failed", zap.Error(err))
	}
	w := newReindexWatcher(a)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("failed to start watcher", zap.Error(err))
	}
	<-ctx.Done()
	w.Stop()
	logger.Info("watcher stopped")
}

func printUsage() {
	fmt.Println(`kotae - question answering over company documents and the web

Usage:
  kotae serve [flags]             Start the HTTP server
  kotae index [flags] [dir...]    Build or update the document index
  kotae ask [flags] <question>    Ask a question
  kotae search [flags] <query>    Search indexed documents
  kotae status [flags]            Show the active index
  kotae watch [flags]             Re-index whenever documents change
  kotae version                   Show version
  kotae help                      Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then ~/.kotae/config.yaml)
  --debug            Enable debug logging

Serve Flags:
  --watch            Re-index when document directories change

Ask Flags:
  --session string   Conversation session id (default: a new session)
  --server string    Ask a running server (e.g. http://localhost:8080)
  --verbose          Show tool calls
  --format string    Output format: text or json (default: text)

Search Flags:
  --k int            Number of passages (default: retrieval.top_k)
  --server string    Search through a running server
  --format string    Output format: text or json (default: text)

Index and Status Flags:
  --format string    Output format: text or json (default: text)

Environment:
  GOOGLE_API_KEY, OPENAI_API_KEY, TAVILY_API_KEY are read from the environment or .env.

Examples:
  kotae index ./data
  kotae serve --watch
  kotae ask "How many leave days do I get?"
  kotae ask --server http://localhost:8080 --session alice "And sick days?"
  kotae search --k 8 expense policy
  kotae status --format json`)
}
