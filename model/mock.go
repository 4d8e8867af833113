package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/reagent/core"
)

// MockTurn scripts one provider round-trip of a MockModel.
type MockTurn struct {
	// Message is the final reply. Its role is forced to assistant.
	Message core.Message
	// Tokens are streamed before the final reply when the request asks for
	// streaming. When empty, Message.Content is streamed rune by rune.
	Tokens []string
	// Err fails the round-trip instead of replying.
	Err error
	// Delay is waited before replying (honoring cancellation).
	Delay time.Duration
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted turns are consumed in order; once the script is exhausted the
// fallback (or a canned echo) answers.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	script    []MockTurn
	responses map[string]string
	fallback  func(req Request) MockTurn
	requests  []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// Enqueue appends scripted turns.
func (m *MockModel) Enqueue(turns ...MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
	return m
}

// Reply scripts an assistant reply with optional tool calls.
func (m *MockModel) Reply(content string, calls ...core.ToolCall) *MockModel {
	return m.Enqueue(MockTurn{Message: core.AssistantMessage(content, calls...)})
}

// Stream scripts a reply streamed as the given fragments.
func (m *MockModel) Stream(tokens ...string) *MockModel {
	var content string
	for _, t := range tokens {
		content += t
	}
	return m.Enqueue(MockTurn{Message: core.AssistantMessage(content), Tokens: tokens})
}

// Fail scripts a failing round-trip.
func (m *MockModel) Fail(err error) *MockModel {
	return m.Enqueue(MockTurn{Err: err})
}

// AddResponse registers a deterministic canned completion for a prompt, used
// once the script is exhausted.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// WithFallback answers every unscripted request with fn.
func (m *MockModel) WithFallback(fn func(req Request) MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

// Requests returns copies of all requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many round-trips were requested.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := req
	recorded.Messages = make([]core.Message, len(req.Messages))
	for i, msg := range req.Messages {
		recorded.Messages[i] = msg.Clone()
	}
	recorded.Tools = append([]core.ToolDefinition(nil), req.Tools...)
	recorded.Options = req.Options.Clone()
	m.requests = append(m.requests, recorded)

	if len(m.script) > 0 {
		turn := m.script[0]
		m.script = m.script[1:]
		return turn
	}
	if m.fallback != nil {
		return m.fallback(req)
	}

	var inputText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			inputText = req.Messages[i].Content
			break
		}
	}
	full := m.responses[inputText]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}
	return MockTurn{Message: core.AssistantMessage(full)}
}

// Generate implements Model; emits optional streaming chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(turn.Delay):
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		msg := turn.Message.Clone()
		msg.Role = core.RoleAssistant

		if req.Options.Stream {
			tokens := turn.Tokens
			if len(tokens) == 0 {
				for _, r := range msg.Content {
					tokens = append(tokens, string(r))
				}
			}
			for _, tok := range tokens {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: tok}:
				}
			}
		}

		finish := "stop"
		if msg.HasToolCalls() {
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{ID: core.NewID(), Message: msg, FinishReason: finish}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
