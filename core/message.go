package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a Message.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"
	// RoleUser marks caller supplied prompts.
	RoleUser Role = "user"
	// RoleAssistant marks provider replies (optionally carrying tool calls).
	RoleAssistant Role = "assistant"
	// RoleTool marks tool results answering a prior tool call.
	RoleTool Role = "tool"
)

// IsValid reports whether r is one of the defined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ToolCall is a tool invocation request parsed from a provider reply.
// IDs are unique only among the calls of one assistant message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsMap decodes the raw arguments into a map. Empty or null arguments
// yield an empty map.
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	args := map[string]any{}

	raw := strings.TrimSpace(string(tc.Arguments))
	if raw == "" || raw == "null" {
		return args, nil
	}

	// Some providers double encode arguments as a JSON string.
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
		raw = inner
		if strings.TrimSpace(raw) == "" {
			return args, nil
		}
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}

	return args, nil
}

// Message is one entry of an agent's conversation history.
//
// ToolCalls is only populated on assistant messages requesting tools and
// ToolCallID only on tool messages answering such a request.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name on tool messages
}

// SystemMessage builds a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user prompt message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant reply, optionally with tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds a tool result referencing the originating call id.
func ToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// HasToolCalls reports whether the message requests tool executions.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if len(m.ToolCalls) == 0 {
		m.ToolCalls = nil
		return m
	}

	calls := make([]ToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		calls[i] = tc
		if tc.Arguments != nil {
			calls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
		}
	}
	m.ToolCalls = calls

	return m
}

// String renders a compact single line representation for logs.
func (m Message) String() string {
	if m.HasToolCalls() {
		names := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			names[i] = tc.Name
		}
		return fmt.Sprintf("%s: %q tool_calls=[%s]", m.Role, m.Content, strings.Join(names, ","))
	}
	return fmt.Sprintf("%s: %q", m.Role, m.Content)
}

// ToolDefinition declaratively exposes a callable tool to a provider.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
