package agent

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	StateAwaitingInput = "awaiting_input"
	StateDeciding      = "deciding"
	StateToolCall      = "tool_call"
	StateObserving     = "observing"
	StateFinalizing    = "finalizing"
	StateDone          = "done"
)

const (
	EventReceive       = "receive"
	EventRequestTool   = "request_tool"
	EventReject        = "reject"
	EventInvoke        = "invoke"
	EventObserve       = "observe"
	EventAnswer        = "answer"
	EventForceFinalize = "force_finalize"
	EventComplete      = "complete"
)

func turnEvents() fsm.Events {
	return fsm.Events{
		{Name: EventReceive, Src: []string{StateAwaitingInput}, Dst: StateDeciding},
		{Name: EventRequestTool, Src: []string{StateDeciding}, Dst: StateToolCall},
		// Arguments failed validation; the error goes back to the model as a correction prompt.
		{Name: EventReject, Src: []string{StateToolCall}, Dst: StateDeciding},
		{Name: EventInvoke, Src: []string{StateToolCall}, Dst: StateObserving},
		{Name: EventObserve, Src: []string{StateObserving}, Dst: StateDeciding},
		{Name: EventAnswer, Src: []string{StateDeciding}, Dst: StateFinalizing},
		{Name: EventForceFinalize, Src: []string{StateDeciding, StateToolCall}, Dst: StateFinalizing},
		{Name: EventComplete, Src: []string{StateFinalizing}, Dst: StateDone},
	}
}

// newTurnFSM returns a machine in awaiting_input. It only guards transitions; the
// controller loop drives it.
func newTurnFSM(logger *zap.Logger, sessionID string) *fsm.FSM {
	return fsm.NewFSM(StateAwaitingInput, turnEvents(), fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			logger.Debug("agent transition",
				zap.String("session_id", sessionID),
				zap.String("event", e.Event),
				zap.String("from", e.Src),
				zap.String("to", e.Dst))
		},
	})
}
