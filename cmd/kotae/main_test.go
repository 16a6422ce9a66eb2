package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/tools"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"leave policy", "-k", "5"},
			expected: []string{"-k", "5", "leave policy"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-k", "5", "leave policy"},
			expected: []string{"-k", "5", "leave policy"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"leave policy"},
			expected: []string{"leave policy"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"how", "many", "-session", "alice"},
			expected: []string{"-session", "alice", "how", "many"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := argsReorder(tt.args); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"leave"}, "leave"},
		{"multiple words", []string{"leave", "days"}, "leave days"},
		{"quoted phrase", []string{"leave days"}, "leave days"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 9090
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS the cwd can be /private/var/... while t.TempDir() is /var/...
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug || cfg.Server.Port != 9090 {
		t.Errorf("unexpected config: debug=%v port=%d", cfg.Debug, cfg.Server.Port)
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want built-in defaults", resolved)
	}
	if filepath.Base(cfg.Storage.IndexPath) != "vectorstore" || !filepath.IsAbs(cfg.Storage.IndexPath) {
		t.Errorf("index path = %q", cfg.Storage.IndexPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "custom.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing explicit config should fail")
	}
}

// testApp builds an app over a temporary data folder with the offline embedder.
func testApp(t *testing.T, files map[string]string) *app {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	if err := os.MkdirAll(data, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(data, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.Default(dir)
	cfg.Documents.Directories = []string{data}
	cfg.Embedding.Provider = "hashing"
	cfg.WebSearch.Provider = "none"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return a
}

var handbook = map[string]string{
	"leave.txt":   "Leave policy: 12 days per year.",
	"expense.txt": "Expense reports must be filed within thirty days.",
}

func TestApp_OpenBuildsIndexOnFreshStart(t *testing.T) {
	a := testApp(t, handbook)
	ctx := context.Background()

	status, err := indexStatus(a.cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if status.Manifest != nil {
		t.Fatalf("fresh start should have no manifest, got %+v", status.Manifest)
	}

	snap, err := a.open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Manifest.DocumentCount != 2 {
		t.Errorf("documents = %d, want 2", snap.Manifest.DocumentCount)
	}
	hits, err := a.retriever.Search(ctx, "How many leave days?", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || filepath.Base(hits[0].Chunk.SourcePath) != "leave.txt" {
		t.Fatalf("top hit = %+v", hits)
	}

	status, err = indexStatus(a.cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if status.Manifest == nil || status.Generation != snap.Generation || status.DiskUsageBytes == 0 {
		t.Errorf("status after build = %+v", status)
	}
}

func TestApp_ReindexPicksUpNewFile(t *testing.T) {
	a := testApp(t, handbook)
	ctx := context.Background()
	if _, err := a.open(ctx); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(a.cfg.Documents.Directories[0], "parking.txt")
	if err := os.WriteFile(path, []byte("Parking permits are issued by facilities."), 0600); err != nil {
		t.Fatal(err)
	}
	res, err := a.service.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	summary := indexSummary(res)
	if !summary.Committed || summary.Added != 1 || summary.Unchanged != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if a.retriever.Snapshot().Generation != summary.Generation {
		t.Error("reindexed snapshot was not published")
	}
}

func TestApp_AskRoutesToDocuments(t *testing.T) {
	a := testApp(t, handbook)
	ctx := context.Background()
	if _, err := a.open(ctx); err != nil {
		t.Fatal(err)
	}
	gen := llm.NewScripted(
		llm.ToolRequest(tools.DocumentToolName, `{"query":"leave days"}`),
		llm.Answer("You get 12 leave days per year."),
	)
	ctrl, sessions, err := a.newController(gen)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ctrl.Ask(ctx, "alice", nil, "How many leave days do I get?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "You get 12 leave days per year." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.ToolCalls) != 1 || !strings.Contains(res.ToolCalls[0].Result, "Source: leave.txt") {
		t.Errorf("tool calls = %+v", res.ToolCalls)
	}
	if sessions.Len() != 1 {
		t.Errorf("sessions = %d", sessions.Len())
	}
}

func TestApp_WebToolDisabled(t *testing.T) {
	a := testApp(t, nil)
	reg, err := a.newRegistry()
	if err != nil {
		t.Fatal(err)
	}
	call := reg.Invoke(context.Background(), tools.WebToolName, []byte(`{"query":"weather"}`))
	if !call.Failed || !strings.HasPrefix(call.Result, "error:") {
		t.Errorf("disabled web search should fail as an observation, got %+v", call)
	}
}
