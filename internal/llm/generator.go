// Package llm provides the generation capability: given a conversation and the tools on
// offer, a Generator either answers or asks for one tool call.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrEmptyResponse is returned when the model produced neither text nor a tool call.
var ErrEmptyResponse = errors.New("empty response from language model")

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the tool arguments.
	Parameters map[string]any
}

// Decision is either a final answer or a tool request.
type Decision struct {
	Final     string
	ToolName  string
	Arguments json.RawMessage
}

// IsToolCall reports whether the decision requests a tool.
func (d Decision) IsToolCall() bool { return d.ToolName != "" }

// Generator is the generation capability. With no tools offered it must answer.
type Generator interface {
	Generate(ctx context.Context, history []models.Message, tools []ToolSpec) (Decision, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, history []models.Message, tools []ToolSpec) (Decision, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, history []models.Message, tools []ToolSpec) (Decision, error) {
	return f(ctx, history, tools)
}
