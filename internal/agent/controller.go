// Package agent runs the decision loop of one conversation turn: the model either
// answers or asks for a tool, tool observations are fed back, and the loop ends with
// a final answer appended to the session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/tools"
)

const (
	incompleteNote = "The tool call limit for this question has been reached. Answer now using only the " +
		"information gathered so far, and say that the answer may be incomplete."
	degradedNote = "Tools are unavailable for this question. Answer directly from what you know, " +
		"and say that you are not fully confident in the answer."
)

// Result is the outcome of one turn.
type Result struct {
	Answer    string
	ToolCalls []models.ToolCall
	// Degraded is set when the model failed or kept sending invalid tool requests and the
	// answer was produced without tools or is the fallback text.
	Degraded bool
	// Incomplete is set when the tool call bound forced the answer.
	Incomplete bool
}

// Controller runs agent turns. It holds no per-session state; sessions are passed in.
type Controller struct {
	generator         llm.Generator
	registry          *tools.Registry
	store             *conversation.Store
	systemPrompt      string
	fallbackAnswer    string
	maxToolIterations int
	maxSchemaRetries  int
	logger            *zap.Logger
	metrics           *metrics.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records turn outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a Controller. Zero values in cfg fall back to the defaults.
func NewController(gen llm.Generator, registry *tools.Registry, store *conversation.Store, cfg config.AgentConfig, opts ...Option) *Controller {
	c := &Controller{
		generator:         gen,
		registry:          registry,
		store:             store,
		systemPrompt:      cfg.SystemPrompt,
		fallbackAnswer:    cfg.FallbackAnswer,
		maxToolIterations: cfg.MaxToolIterations,
		maxSchemaRetries:  cfg.MaxSchemaRetriesOrDefault(),
		logger:            zap.NewNop(),
	}
	if c.fallbackAnswer == "" {
		c.fallbackAnswer = config.DefaultFallbackAnswer
	}
	if c.maxToolIterations <= 0 {
		c.maxToolIterations = 3
	}
	if c.maxSchemaRetries < 0 {
		c.maxSchemaRetries = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask runs one turn for sessionID under the session lock. seed becomes the session's
// history when the session has none yet.
func (c *Controller) Ask(ctx context.Context, sessionID string, seed []models.Message, userMessage string) (Result, error) {
	sess, err := c.store.Lock(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	defer sess.Unlock()
	if len(seed) > 0 {
		sess.Seed(seed)
	}
	return c.Run(ctx, sess, userMessage)
}

// turn is the mutable state of one Run.
type turn struct {
	machine  *fsm.FSM
	working  []models.Message
	appended []models.Message
	result   Result
	failures int
}

func (t *turn) add(msgs ...models.Message) {
	t.working = append(t.working, msgs...)
	t.appended = append(t.appended, msgs...)
}

// Run executes one turn on a session the caller holds locked. The user message, tool
// requests, observations and the answer are appended in one step at the end; a
// cancelled context appends nothing and returns the context error.
func (c *Controller) Run(ctx context.Context, sess *conversation.Session, userMessage string) (Result, error) {
	start := time.Now()
	log := c.logger.With(zap.String("session_id", sess.ID()))
	t := &turn{machine: newTurnFSM(log, sess.ID())}
	if c.systemPrompt != "" {
		t.working = append(t.working, models.Message{Role: models.RoleSystem, Content: c.systemPrompt})
	}
	t.working = append(t.working, sess.History()...)
	t.add(models.Message{Role: models.RoleUser, Content: userMessage})

	answer, err := c.loop(ctx, log, t)
	if err == nil {
		err = c.fire(ctx, t, EventComplete)
	}
	if err == nil {
		// Re-checked so an abandoned request commits nothing.
		err = ctx.Err()
	}
	if err != nil {
		c.metrics.ObserveTurn("cancelled", time.Since(start))
		log.Info("turn abandoned", zap.Error(err), zap.Int("tool_calls", len(t.result.ToolCalls)))
		return Result{}, err
	}

	t.appended = append(t.appended, models.Message{Role: models.RoleAssistant, Content: answer})
	sess.Append(t.appended...)
	t.result.Answer = answer

	outcome := "answered"
	switch {
	case t.result.Degraded:
		outcome = "degraded"
	case t.result.Incomplete:
		outcome = "incomplete"
	}
	c.metrics.ObserveTurn(outcome, time.Since(start))
	log.Info("turn completed",
		zap.String("outcome", outcome),
		zap.Int("tool_calls", len(t.result.ToolCalls)),
		zap.Duration("took", time.Since(start)))
	return t.result, nil
}

// loop drives deciding -> (tool_call -> observing -> deciding)* -> finalizing and
// returns the answer text.
func (c *Controller) loop(ctx context.Context, log *zap.Logger, t *turn) (string, error) {
	if err := c.fire(ctx, t, EventReceive); err != nil {
		return "", err
	}
	specs := c.registry.Specs()
	iterations := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		d, err := c.generator.Generate(ctx, t.working, specs)
		if err == nil && !d.IsToolCall() && strings.TrimSpace(d.Final) == "" {
			err = llm.ErrEmptyResponse
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			t.failures++
			log.Warn("generation failed", zap.Int("failures", t.failures), zap.Error(err))
			if t.failures > c.maxSchemaRetries {
				t.result.Degraded = true
				if err := c.fire(ctx, t, EventForceFinalize); err != nil {
					return "", err
				}
				return c.finalize(ctx, log, t, degradedNote), nil
			}
			continue
		}

		if !d.IsToolCall() {
			if err := c.fire(ctx, t, EventAnswer); err != nil {
				return "", err
			}
			return d.Final, nil
		}

		if err := c.fire(ctx, t, EventRequestTool); err != nil {
			return "", err
		}
		request := models.Message{Role: models.RoleAssistant, ToolName: d.ToolName, ToolArguments: d.Arguments}
		if verr := c.registry.Validate(d.ToolName, d.Arguments); verr != nil {
			t.failures++
			observation := c.correction(verr)
			t.result.ToolCalls = append(t.result.ToolCalls, models.ToolCall{
				ToolName: d.ToolName, Arguments: d.Arguments, Result: observation, Failed: true,
			})
			// Rejected requests are shown to the model but not kept in the session.
			t.working = append(t.working, request,
				models.Message{Role: models.RoleTool, ToolName: d.ToolName, Content: observation})
			log.Warn("rejected tool request",
				zap.String("tool", d.ToolName), zap.Int("failures", t.failures), zap.Error(verr))
			if t.failures > c.maxSchemaRetries {
				t.result.Degraded = true
				if err := c.fire(ctx, t, EventForceFinalize); err != nil {
					return "", err
				}
				return c.finalize(ctx, log, t, degradedNote), nil
			}
			if err := c.fire(ctx, t, EventReject); err != nil {
				return "", err
			}
			continue
		}

		if err := c.fire(ctx, t, EventInvoke); err != nil {
			return "", err
		}
		call := c.registry.Invoke(ctx, d.ToolName, d.Arguments)
		if err := ctx.Err(); err != nil {
			return "", err
		}
		iterations++
		t.result.ToolCalls = append(t.result.ToolCalls, call)
		t.add(request, models.Message{Role: models.RoleTool, ToolName: call.ToolName, Content: call.Result})
		if err := c.fire(ctx, t, EventObserve); err != nil {
			return "", err
		}
		if iterations >= c.maxToolIterations {
			t.result.Incomplete = true
			log.Info("tool call limit reached", zap.Int("iterations", iterations))
			if err := c.fire(ctx, t, EventForceFinalize); err != nil {
				return "", err
			}
			return c.finalize(ctx, log, t, incompleteNote), nil
		}
	}
}

// finalize asks for an answer with no tools on offer. If that fails too the
// configured fallback answer is returned. The note goes in as a user message so the
// leading system prompt stays the only system instruction.
func (c *Controller) finalize(ctx context.Context, log *zap.Logger, t *turn, note string) string {
	history := append(t.working[:len(t.working):len(t.working)], models.Message{Role: models.RoleUser, Content: note})
	d, err := c.generator.Generate(ctx, history, nil)
	if err == nil && strings.TrimSpace(d.Final) != "" {
		return d.Final
	}
	if err == nil {
		err = llm.ErrEmptyResponse
	}
	log.Warn("final generation failed, using fallback answer", zap.Error(err))
	t.result.Degraded = true
	return c.fallbackAnswer
}

func (c *Controller) correction(err error) string {
	var hint string
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		hint = fmt.Sprintf("Use one of: %s.", strings.Join(c.registry.Names(), ", "))
	default:
		hint = "Call the tool again with arguments that match its schema."
	}
	return fmt.Sprintf("error: %v. %s Or answer directly without a tool.", err, hint)
}

func (c *Controller) fire(ctx context.Context, t *turn, event string) error {
	if err := t.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("agent transition %s from %s: %w", event, t.machine.Current(), err)
	}
	return nil
}
