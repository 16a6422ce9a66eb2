package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one entry of a session timeline. Messages are never edited once appended.
// An assistant message with ToolName set is a tool request; a tool message carries
// the observation for the request that precedes it.
type Message struct {
	Role          Role            `json:"role"`
	Content       string          `json:"content"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolArguments json.RawMessage `json:"tool_arguments,omitempty"`
}

// IsToolRequest reports whether m is an assistant request to invoke a tool.
func (m Message) IsToolRequest() bool {
	return m.Role == RoleAssistant && m.ToolName != ""
}

// ToolCall records one tool invocation inside a single agent turn.
type ToolCall struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result"`
	Failed    bool            `json:"failed,omitempty"`
	Latency   time.Duration   `json:"latency"`
}

// ChatMessage is the wire shape of a message in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the input of one chat turn. The last message must be from the user;
// the preceding ones seed the session when it is new.
type ChatRequest struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}

// Validate checks the request shape and returns the seed history and the new user message.
func (r *ChatRequest) Validate() (seed []Message, input Message, err error) {
	if r.SessionID == "" {
		return nil, Message{}, fmt.Errorf("session_id cannot be empty")
	}
	if len(r.Messages) == 0 {
		return nil, Message{}, fmt.Errorf("messages cannot be empty")
	}
	last := r.Messages[len(r.Messages)-1]
	if Role(last.Role) != RoleUser {
		return nil, Message{}, fmt.Errorf("last message must have role %q, got %q", RoleUser, last.Role)
	}
	if last.Content == "" {
		return nil, Message{}, fmt.Errorf("last message content cannot be empty")
	}
	for i, m := range r.Messages[:len(r.Messages)-1] {
		role := Role(m.Role)
		if role != RoleUser && role != RoleAssistant && role != RoleSystem {
			return nil, Message{}, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
		seed = append(seed, Message{Role: role, Content: m.Content})
	}
	return seed, Message{Role: RoleUser, Content: last.Content}, nil
}

// ChatResponse is the output of one chat turn.
type ChatResponse struct {
	Answer     string     `json:"answer"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Degraded   bool       `json:"degraded,omitempty"`
	Incomplete bool       `json:"incomplete,omitempty"`
}
