// Package cli renders command results for the kotae CLI as text or JSON.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a --format flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes retriever hits to w.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n\n", response.Total, response.QueryTime, response.Mode)
	for _, hit := range response.Hits {
		fmt.Fprintln(w, rule)
		if response.Mode == "hybrid" {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
				hit.Rank, hit.Score, hit.KeywordScore, hit.SemanticScore)
		} else {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", hit.Rank, hit.Score)
		}
		fmt.Fprintf(w, "Source: %s\n", filepath.Base(hit.Chunk.SourcePath))
		fmt.Fprintf(w, "Chunk: %s\n", hit.Chunk.ID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Chunk.Text, 200))
	}
	return nil
}

// WriteAnswer writes a chat answer. verbose adds the tool calls made during the turn.
func WriteAnswer(w io.Writer, response *models.ChatResponse, format OutputFormat, verbose bool) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	if verbose {
		for _, call := range response.ToolCalls {
			status := "ok"
			if call.Failed {
				status = "failed"
			}
			fmt.Fprintf(w, "[%s %s %s] %s\n", call.ToolName, status, call.Latency.Round(time.Millisecond),
				string(call.Arguments))
			fmt.Fprintf(w, "  %s\n", utils.Truncate(strings.ReplaceAll(call.Result, "\n", " "), 160))
		}
		if len(response.ToolCalls) > 0 {
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, response.Answer)
	if verbose && response.Degraded {
		fmt.Fprintln(w, "\n(answered without tools)")
	}
	if verbose && response.Incomplete {
		fmt.Fprintln(w, "\n(tool call limit reached)")
	}
	return nil
}

// IndexSummary is the outcome of an index run.
type IndexSummary struct {
	Generation     string `json:"generation"`
	Committed      bool   `json:"committed"`
	Rebuilt        bool   `json:"rebuilt"`
	Added          int    `json:"added"`
	Updated        int    `json:"updated"`
	Removed        int    `json:"removed"`
	Unchanged      int    `json:"unchanged"`
	Skipped        int64  `json:"skipped"`
	Chunks         int    `json:"chunks"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	DurationMillis int64  `json:"duration_ms"`
}

// WriteIndexSummary writes the outcome of an index run.
func WriteIndexSummary(w io.Writer, s IndexSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	if !s.Committed {
		fmt.Fprintf(w, "Index up to date (generation %s, %d chunks)\n", s.Generation, s.Chunks)
		return nil
	}
	verb := "Updated"
	if s.Rebuilt {
		verb = "Rebuilt"
	}
	fmt.Fprintf(w, "%s index in %dms: generation %s\n", verb, s.DurationMillis, s.Generation)
	fmt.Fprintf(w, "  documents: %d added, %d updated, %d removed, %d unchanged, %d skipped\n",
		s.Added, s.Updated, s.Removed, s.Unchanged, s.Skipped)
	fmt.Fprintf(w, "  chunks:    %d total, %d embedded\n", s.Chunks, s.ChunksEmbedded)
	return nil
}

// Status describes the active index.
type Status struct {
	Generation     string           `json:"generation,omitempty"`
	Manifest       *store.Manifest  `json:"manifest,omitempty"`
	Directories    []string         `json:"directories"`
	IndexRoot      string           `json:"index_root"`
	DiskUsageBytes int64            `json:"disk_usage_bytes"`
	Generations    map[string]int64 `json:"generation_bytes,omitempty"`
}

// WriteStatus writes the index status.
func WriteStatus(w io.Writer, s Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Index root:  %s (%s)\n", s.IndexRoot, FormatBytes(s.DiskUsageBytes))
	fmt.Fprintf(w, "Directories: %s\n", strings.Join(s.Directories, ", "))
	if s.Manifest == nil {
		fmt.Fprintln(w, "No index built yet. Run `kotae index`.")
		return nil
	}
	m := s.Manifest
	fmt.Fprintf(w, "Generation:  %s (built %s)\n", s.Generation, m.BuiltAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Model:       %s (%d dims)\n", m.ModelIdentifier, m.Dimensions)
	fmt.Fprintf(w, "Documents:   %d\n", m.DocumentCount)
	fmt.Fprintf(w, "Chunks:      %d (size %d, overlap %d)\n", m.ChunkCount, m.ChunkSize, m.ChunkOverlap)
	if len(s.Generations) > 1 {
		names := slices.Sorted(maps.Keys(s.Generations))
		fmt.Fprintln(w, "On disk:")
		for _, name := range names {
			marker := " "
			if name == s.Generation {
				marker = "*"
			}
			fmt.Fprintf(w, "  %s %s  %s\n", marker, name, FormatBytes(s.Generations[name]))
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
