// Package notification carries live engine events (streamed tokens, tool
// activity, final replies, failures) from an agent to any number of
// subscribers. Publishing never blocks the engine: every subscriber owns a
// bounded queue that drops its oldest entry on overflow.
package notification

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/reagent/core"
)

// Kind names a notification content variant.
type Kind string

// Notification kinds.
const (
	KindToken                 Kind = "token"
	KindToolCallRequested     Kind = "tool_call_requested"
	KindToolCallCompleted     Kind = "tool_call_completed"
	KindFinalMessage          Kind = "final_message"
	KindError                 Kind = "error"
	KindIterationLimitReached Kind = "iteration_limit_reached"
	KindCustom                Kind = "custom"
)

// Content is the closed set of notification payloads.
type Content interface {
	Kind() Kind
	isContent()
}

// TokenChunk is one streamed fragment, ordered within a provider call.
type TokenChunk struct {
	Text string `json:"text"`
}

func (TokenChunk) Kind() Kind { return KindToken }
func (TokenChunk) isContent() {}

// ToolCallRequested is emitted per tool call before it is dispatched.
type ToolCallRequested struct {
	Call core.ToolCall `json:"call"`
}

func (ToolCallRequested) Kind() Kind { return KindToolCallRequested }
func (ToolCallRequested) isContent() {}

// ToolCallCompleted is emitted per tool call after dispatch, whether it
// succeeded or not. Error is empty on success.
type ToolCallCompleted struct {
	Call     core.ToolCall `json:"call"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (ToolCallCompleted) Kind() Kind { return KindToolCallCompleted }
func (ToolCallCompleted) isContent() {}

// Success reports whether the tool call completed without error.
func (c ToolCallCompleted) Success() bool { return c.Error == "" }

// FinalMessage is emitted exactly once per invoke call.
type FinalMessage struct {
	Message core.Message `json:"message"`
	Success bool         `json:"success"`
}

func (FinalMessage) Kind() Kind { return KindFinalMessage }
func (FinalMessage) isContent() {}

// Error reports an engine level failure.
type Error struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (Error) Kind() Kind { return KindError }
func (Error) isContent() {}

// NewError builds an Error notification from err.
func NewError(err error) Error { return Error{Message: err.Error(), Err: err} }

// IterationLimitReached reports a flow that ran out of iterations and is
// returning its last reply as a best effort result.
type IterationLimitReached struct {
	Limit   int          `json:"limit"`
	Message core.Message `json:"message"`
}

func (IterationLimitReached) Kind() Kind { return KindIterationLimitReached }
func (IterationLimitReached) isContent() {}

// Custom carries flow specific progress (for example plan steps).
type Custom struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

func (Custom) Kind() Kind { return KindCustom }
func (Custom) isContent() {}

// Notification is one published event.
type Notification struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps content with an id, agent name and UTC timestamp.
func New(agent string, content Content) Notification {
	return Notification{
		ID:        core.NewID(),
		Agent:     agent,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Kind returns the content kind.
func (n Notification) Kind() Kind {
	if n.Content == nil {
		return ""
	}
	return n.Content.Kind()
}

// MarshalJSON adds a "kind" discriminator next to the content payload.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Agent     string    `json:"agent"`
		Kind      Kind      `json:"kind"`
		Content   Content   `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}{n.ID, n.Agent, n.Kind(), n.Content, n.Timestamp})
}
