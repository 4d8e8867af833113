package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/model"
)

func newServer(t *testing.T, status int, contentType, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		if captured != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, captured)
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestModel(srv *httptest.Server) *Model {
	return NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL
		o.Model = "claude-test"
		retries := 0
		o.MaxRetries = &retries
	})
}

func TestGenerate_NonStreamingToolUse(t *testing.T) {
	body := `{
	  "id": "msg_1",
	  "type": "message",
	  "role": "assistant",
	  "model": "claude-test",
	  "content": [
	    {"type": "text", "text": "Let me check."},
	    {"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Ljubljana"}}
	  ],
	  "stop_reason": "tool_use",
	  "stop_sequence": null,
	  "usage": {"input_tokens": 12, "output_tokens": 7}
	}`
	var captured map[string]any
	srv := newServer(t, http.StatusOK, "application/json", body, &captured)
	m := newTestModel(srv)

	resp, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{
			core.SystemMessage("be helpful"),
			core.UserMessage("weather in Ljubljana?"),
		},
		Tools: []core.ToolDefinition{{
			Name:        "get_weather",
			Description: "Get the weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
				"required":   []string{"city"},
			},
		}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Ljubljana"}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_use", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	assert.Equal(t, "claude-test", captured["model"])
	system := captured["system"].([]any)
	assert.Equal(t, "be helpful", system[0].(map[string]any)["text"])
	tools := captured["tools"].([]any)
	assert.Equal(t, "Get the weather", tools[0].(map[string]any)["description"])
}

func TestGenerate_Streaming(t *testing.T) {
	events := []struct{ name, data string }{
		{"message_start", `{"type":"message_start","message":{"id":"msg_s","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString("event: " + ev.name + "\n")
		sb.WriteString("data: " + ev.data + "\n\n")
	}

	srv := newServer(t, http.StatusOK, "text/event-stream", sb.String(), nil)
	m := newTestModel(srv)

	var deltas []string
	resp, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Options:  model.Options{Stream: true},
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Message.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestGenerate_AuthError(t *testing.T) {
	srv := newServer(t, http.StatusUnauthorized, "application/json",
		`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, nil)
	m := newTestModel(srv)

	_, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
	}, nil)

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderErrorAuth, pe.Kind)
	assert.Equal(t, "anthropic", pe.Provider)
}

func TestBuildMessages_ToolResultsInUserTurn(t *testing.T) {
	msgs := []core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("weather in two cities?"),
		core.AssistantMessage("",
			core.ToolCall{ID: "a", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Ljubljana"}`)},
			core.ToolCall{ID: "b", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Maribor"}`)},
		),
		core.ToolMessage("a", "get_weather", "sunny"),
		core.ToolMessage("b", "get_weather", "rainy"),
		core.AssistantMessage("Sunny and rainy."),
	}

	out := buildMessages(msgs)
	require.Len(t, out, 4)

	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "user", decoded[0]["role"])
	assert.Equal(t, "assistant", decoded[1]["role"])
	assert.Equal(t, "user", decoded[2]["role"])
	assert.Equal(t, "assistant", decoded[3]["role"])

	results := decoded[2]["content"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "tool_result", first["type"])
	assert.Equal(t, "a", first["tool_use_id"])
	assert.Equal(t, "b", results[1].(map[string]any)["tool_use_id"])
}

func TestBuildParams_ResponseFormatBecomesSystemInstruction(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "x" })
	params := m.buildParams(model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Options: model.Options{ResponseFormat: &model.ResponseFormat{
			Name:   "answer",
			Schema: map[string]any{"type": "object"},
		}},
	})

	require.Len(t, params.System, 1)
	assert.Contains(t, params.System[0].Text, `{"type":"object"}`)
}
