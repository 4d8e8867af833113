package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/internal/testutil"
)

func TestHistory_SystemPromptAndAppend(t *testing.T) {
	h := NewHistory("You are a helpful assistant")
	h.Append(core.UserMessage("Say 'Yeah'"), core.AssistantMessage("Yeah"))

	msgs := h.Messages()
	assert.Equal(t, []core.Role{core.RoleSystem, core.RoleUser, core.RoleAssistant}, testutil.Roles(msgs))
	assert.Equal(t, "You are a helpful assistant", h.SystemPrompt())

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "Yeah", last.Content)
}

func TestHistory_NoSystemPrompt(t *testing.T) {
	h := NewHistory("")
	assert.Equal(t, 0, h.Len())
	_, ok := h.Last()
	assert.False(t, ok)

	h.Append(core.UserMessage("hi"))
	h.Reset()
	assert.Equal(t, 0, h.Len())
}

func TestHistory_MessagesIsReadOnlyView(t *testing.T) {
	h := NewHistory("")
	h.Append(core.AssistantMessage("", testutil.Call("1", "a", nil)))

	view := h.Messages()
	view[0].Content = "mutated"
	view[0].ToolCalls[0].Name = "mutated"

	again := h.Messages()
	assert.Equal(t, "", again[0].Content)
	assert.Equal(t, "a", again[0].ToolCalls[0].Name)
}

func TestHistory_ResetKeepsSystemPrompt(t *testing.T) {
	h := NewHistory("sys")
	h.Append(core.UserMessage("u"), core.AssistantMessage("a"))

	h.Reset()

	msgs := h.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, core.SystemMessage("sys"), msgs[0])
}

func TestHistory_LastAssistant(t *testing.T) {
	h := NewHistory("")
	_, ok := h.LastAssistant()
	assert.False(t, ok)

	h.Append(core.AssistantMessage("first"), core.ToolMessage("1", "t", "r"))
	m, ok := h.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "first", m.Content)
}

func TestHistory_JSON(t *testing.T) {
	h := NewHistory("sys")
	h.Append(core.UserMessage("u"), core.AssistantMessage("a", testutil.Call("1", "t", map[string]any{"x": 1})))

	b, err := json.Marshal(h)
	require.NoError(t, err)

	restored := NewHistory("sys")
	require.NoError(t, json.Unmarshal(b, restored))
	assert.Equal(t, h.Messages(), restored.Messages())

	assert.Error(t, json.Unmarshal([]byte(`[{"role":"bot"}]`), restored))
}

func TestHistory_ReplacePrependsSystem(t *testing.T) {
	h := NewHistory("sys")
	h.Replace(testutil.NewConversation().User("u").Build())
	assert.Equal(t, []core.Role{core.RoleSystem, core.RoleUser}, testutil.Roles(h.Messages()))
}

func TestHistory_ConcurrentAppend(t *testing.T) {
	h := NewHistory("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append(core.UserMessage("x"))
			_ = h.Messages()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, h.Len())
}
