// Package tools exposes document retrieval and web search as named, schema-described
// tools and invokes them on behalf of the agent.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
)

var (
	// ErrUnknownTool is returned for a tool name that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when arguments do not satisfy the tool schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Tool is one callable capability.
type Tool interface {
	Name() string
	// Description tells the model when to choose the tool.
	Description() string
	// Schema is the JSON schema of the arguments object.
	Schema() map[string]any
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry dispatches tool calls by name.
type Registry struct {
	tools   map[string]*entry
	order   []string
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout bounds each invocation. Zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records tool call counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{tools: make(map[string]*entry), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds t after compiling its schema.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool %q already registered", name)
	}
	raw, err := json.Marshal(t.Schema())
	if err != nil {
		return fmt.Errorf("failed to marshal schema for %s: %w", name, err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", name, err)
	}
	r.tools[name] = &entry{tool: t, schema: compiled}
	r.order = append(r.order, name)
	return nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs describes every tool to the generation capability, in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		specs = append(specs, llm.ToolSpec{Name: name, Description: t.Description(), Parameters: t.Schema()})
	}
	return specs
}

// Validate checks that name is registered and args satisfy its schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	e, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %q (available: %v)", ErrUnknownTool, name, r.order)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("%w: arguments are not valid JSON: %v", ErrInvalidArguments, err)
	}
	result := e.schema.Validate(value)
	if !result.Valid {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, result.Errors)
	}
	return nil
}

// Invoke validates and runs a tool. It never fails: unknown tools, invalid arguments,
// errors, timeouts and panics all come back as a failed ToolCall whose Result starts
// with "error: ", so the model can read the failure and adapt.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) models.ToolCall {
	start := time.Now()
	call := models.ToolCall{ToolName: name, Arguments: args}
	result, err := r.invoke(ctx, name, args)
	call.Latency = time.Since(start)
	if err != nil {
		call.Failed = true
		call.Result = "error: " + err.Error()
		r.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.Duration("latency", call.Latency),
			zap.Error(err))
	} else {
		call.Result = result
		r.logger.Debug("tool call",
			zap.String("tool", name),
			zap.Duration("latency", call.Latency),
			zap.Int("result_len", len(result)))
	}
	r.metrics.ObserveToolCall(name, call.Failed, call.Latency)
	return call
}

func (r *Registry) invoke(ctx context.Context, name string, args json.RawMessage) (result string, err error) {
	if err := r.Validate(name, args); err != nil {
		return "", err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", zap.String("tool", name), zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()
	result, err = r.tools[name].tool.Invoke(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return "", fmt.Errorf("tool %s timed out: %w", name, err)
		}
		return "", err
	}
	return result, nil
}
