package llm

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrScriptExhausted is returned once every scripted step has been used.
var ErrScriptExhausted = errors.New("scripted generator has no more steps")

// Step is one scripted reply.
type Step struct {
	Decision Decision
	Err      error
}

// Call records one Generate invocation.
type Call struct {
	History []models.Message
	Tools   []ToolSpec
}

// Scripted replays a fixed sequence of steps. Used offline and in tests.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	next  int
	calls []Call
}

// NewScripted returns a generator that replays steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Answer is a shorthand for a final-answer step.
func Answer(text string) Step {
	return Step{Decision: Decision{Final: text}}
}

// ToolRequest is a shorthand for a tool-request step.
func ToolRequest(name, arguments string) Step {
	return Step{Decision: Decision{ToolName: name, Arguments: []byte(arguments)}}
}

// Generate returns the next step.
func (s *Scripted) Generate(ctx context.Context, history []models.Message, tools []ToolSpec) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{History: slices.Clone(history), Tools: slices.Clone(tools)})
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if s.next >= len(s.steps) {
		return Decision{}, ErrScriptExhausted
	}
	step := s.steps[s.next]
	s.next++
	return step.Decision, step.Err
}

// Calls returns every recorded invocation.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}
