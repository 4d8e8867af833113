package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/reagent/core"
)

// Call builds a tool call with JSON encoded arguments. It panics when args
// cannot be encoded, which only happens with broken test fixtures.
func Call(id, name string, args any) core.ToolCall {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("testutil: encode args: %v", err))
		}
		raw = b
	}
	return core.ToolCall{ID: id, Name: name, Arguments: raw}
}

// ConversationBuilder provides a fluent helper for constructing message
// histories in tests.
// Example:
//
//	msgs := NewConversation().System("be brief").User("hi").Assistant("hello").Build()
type ConversationBuilder struct {
	msgs []core.Message
}

// NewConversation creates an empty builder.
func NewConversation() *ConversationBuilder { return &ConversationBuilder{} }

// System appends a system prompt (chainable).
func (b *ConversationBuilder) System(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.SystemMessage(text))
	return b
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.UserMessage(text))
	return b
}

// Assistant appends an assistant message with optional tool calls (chainable).
func (b *ConversationBuilder) Assistant(text string, calls ...core.ToolCall) *ConversationBuilder {
	b.msgs = append(b.msgs, core.AssistantMessage(text, calls...))
	return b
}

// Tool appends a tool result (chainable).
func (b *ConversationBuilder) Tool(callID, name, result string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.ToolMessage(callID, name, result))
	return b
}

// Build returns a copy of the accumulated messages.
func (b *ConversationBuilder) Build() []core.Message {
	out := make([]core.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Roles extracts the role sequence of msgs, handy for ordering assertions.
func Roles(msgs []core.Message) []core.Role {
	roles := make([]core.Role, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	return roles
}
