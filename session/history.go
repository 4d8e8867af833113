package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/reagent/core"
)

// History is the ordered conversation of one agent. It is safe for
// concurrent access; Messages returns a copy so callers only ever
// see a read-only view.
type History struct {
	mu     sync.RWMutex
	system *core.Message
	msgs   []core.Message
}

// NewHistory creates a history seeded with an optional system prompt.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		sm := core.SystemMessage(systemPrompt)
		h.system = &sm
		h.msgs = []core.Message{sm}
	}
	return h
}

// Append adds messages to the end of the history.
func (h *History) Append(msgs ...core.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
}

// Messages returns a copy of all messages in order.
func (h *History) Messages() []core.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Last returns the most recent message, if any.
func (h *History) Last() (core.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.msgs) == 0 {
		return core.Message{}, false
	}
	return h.msgs[len(h.msgs)-1].Clone(), true
}

// LastAssistant returns the most recent assistant message, if any.
func (h *History) LastAssistant() (core.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.msgs) - 1; i >= 0; i-- {
		if h.msgs[i].Role == core.RoleAssistant {
			return h.msgs[i].Clone(), true
		}
	}
	return core.Message{}, false
}

// SystemPrompt returns the system prompt the history was created with.
func (h *History) SystemPrompt() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.system == nil {
		return ""
	}
	return h.system.Content
}

// Reset removes every message except the initial system prompt.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = h.msgs[:0:0]
	if h.system != nil {
		h.msgs = append(h.msgs, *h.system)
	}
}

// Replace swaps the conversation for msgs. A leading system message in msgs
// is kept; otherwise the configured system prompt is prepended.
func (h *History) Replace(msgs []core.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = make([]core.Message, 0, len(msgs)+1)
	if h.system != nil && (len(msgs) == 0 || msgs[0].Role != core.RoleSystem) {
		h.msgs = append(h.msgs, *h.system)
	}
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
}

// MarshalJSON encodes the history as a JSON array of messages.
func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Messages())
}

// UnmarshalJSON replaces the history with a JSON array of messages.
func (h *History) UnmarshalJSON(data []byte) error {
	var msgs []core.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	for i, m := range msgs {
		if !m.Role.IsValid() {
			return fmt.Errorf("decode history: message %d has invalid role %q", i, m.Role)
		}
	}
	h.Replace(msgs)
	return nil
}
