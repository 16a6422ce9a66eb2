package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// LangChain adapts a langchaingo llms.Model to Generator.
type LangChain struct {
	model       llms.Model
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// LangChainOption configures a LangChain generator.
type LangChainOption func(*LangChain)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LangChainOption {
	return func(l *LangChain) { l.temperature = t }
}

// WithMaxTokens caps the response length. Zero leaves the provider default.
func WithMaxTokens(n int) LangChainOption {
	return func(l *LangChain) { l.maxTokens = n }
}

// WithTimeout bounds each Generate call.
func WithTimeout(d time.Duration) LangChainOption {
	return func(l *LangChain) { l.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LangChainOption {
	return func(l *LangChain) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLangChain wraps model.
func NewLangChain(model llms.Model, opts ...LangChainOption) *LangChain {
	l := &LangChain{model: model, temperature: 0.5, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New builds the configured provider model and wraps it.
func New(ctx context.Context, cfg config.GenerationConfig, apiKey string, logger *zap.Logger) (*LangChain, error) {
	model, err := newModel(ctx, cfg, apiKey)
	if err != nil {
		return nil, err
	}
	return NewLangChain(model,
		WithTemperature(cfg.TemperatureOrDefault()),
		WithMaxTokens(cfg.MaxTokens),
		WithTimeout(cfg.Timeout),
		WithLogger(logger),
	), nil
}

func newModel(ctx context.Context, cfg config.GenerationConfig, apiKey string) (llms.Model, error) {
	switch cfg.Provider {
	case "googleai", "":
		if apiKey == "" {
			return nil, fmt.Errorf("googleai requires an API key (%s)", cfg.APIKeyEnv)
		}
		opts := []googleai.Option{googleai.WithDefaultModel(cfg.Model), googleai.WithAPIKey(apiKey)}
		if cfg.BaseURL != "" {
			return nil, fmt.Errorf("googleai does not support custom API URL")
		}
		return googleai.New(ctx, opts...)
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if apiKey != "" {
			opts = append(opts, openai.WithToken(apiKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}

// Generate sends history and tool definitions to the model. The first function call in
// the reply becomes a tool request; otherwise the reply text is the final answer.
func (l *LangChain) Generate(ctx context.Context, history []models.Message, tools []ToolSpec) (Decision, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := l.model.GenerateContent(ctx, convertMessages(history), l.callOptions(tools)...)
	if err != nil {
		return Decision{}, fmt.Errorf("generate: %w", err)
	}
	d, err := convertResponse(resp, len(tools) > 0)
	if err != nil {
		return Decision{}, err
	}
	l.logger.Debug("generated decision",
		zap.Int("history", len(history)),
		zap.Int("tools", len(tools)),
		zap.String("tool", d.ToolName),
		zap.Duration("took", time.Since(start)))
	return d, nil
}

func (l *LangChain) callOptions(tools []ToolSpec) []llms.CallOption {
	options := []llms.CallOption{llms.WithTemperature(l.temperature)}
	if l.maxTokens > 0 {
		options = append(options, llms.WithMaxTokens(l.maxTokens))
	}
	if len(tools) > 0 {
		options = append(options, llms.WithTools(convertTools(tools)))
	}
	return options
}

func convertTools(tools []ToolSpec) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// convertMessages maps history to langchaingo messages. Tool requests and their
// observations are paired through synthetic call IDs since history does not store them.
// An observation without a pending request is dropped; providers reject it.
func convertMessages(history []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	var (
		seq     int
		pending []string
	)
	for _, m := range history {
		switch {
		case m.IsToolRequest():
			seq++
			id := fmt.Sprintf("call_%d", seq)
			pending = append(pending, id)
			args := string(m.ToolArguments)
			if args == "" {
				args = "{}"
			}
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{llms.ToolCall{
					ID:           id,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: m.ToolName, Arguments: args},
				}},
			})
		case m.Role == models.RoleTool:
			if len(pending) == 0 {
				continue
			}
			id := pending[0]
			pending = pending[1:]
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: id,
					Name:       m.ToolName,
					Content:    m.Content,
				}},
			})
		default:
			out = append(out, llms.TextParts(mapRole(m.Role), m.Content))
		}
	}
	return out
}

func mapRole(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func convertResponse(resp *llms.ContentResponse, toolsOffered bool) (Decision, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return Decision{}, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	if toolsOffered {
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			args := strings.TrimSpace(tc.FunctionCall.Arguments)
			if args == "" {
				args = "{}"
			}
			return Decision{ToolName: tc.FunctionCall.Name, Arguments: json.RawMessage(args)}, nil
		}
	}
	if strings.TrimSpace(choice.Content) == "" {
		return Decision{}, ErrEmptyResponse
	}
	return Decision{Final: choice.Content}, nil
}
