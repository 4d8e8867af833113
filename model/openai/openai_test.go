package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/model"
)

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[len(c.bodies)-1]
}

func newServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		c.mu.Lock()
		c.bodies = append(c.bodies, decoded)
		c.mu.Unlock()
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newTestModel(srv *httptest.Server, flavor Flavor) *Model {
	return NewModel(func(o *Options) {
		o.Flavor = flavor
		o.Model = "test-model"
		o.APIKey = "sk-test"
		o.BaseURL = srv.URL
		retries := 0
		o.MaxRetries = &retries
	})
}

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "test-model",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "get_weather", "arguments": "{\"city\":\"Ljubljana\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestGenerate_NonStreamingToolCall(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, "application/json", toolCallCompletion)
	m := newTestModel(srv, FlavorOpenAI)

	resp, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("weather in Ljubljana?")},
	}, nil)
	require.NoError(t, err)

	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "get_weather", call.Name)

	args, err := call.ArgumentsMap()
	require.NoError(t, err)
	assert.Equal(t, "Ljubljana", args["city"])

	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGenerate_RequestMapping(t *testing.T) {
	srv, c := newServer(t, http.StatusOK, "application/json", toolCallCompletion)
	m := newTestModel(srv, FlavorOpenAI)

	temp := 0.1
	seed := int64(42)
	msgs := []core.Message{
		core.SystemMessage("be brief"),
		core.UserMessage("weather?"),
		core.AssistantMessage("", core.ToolCall{ID: "c1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Ljubljana"}`)}),
		core.ToolMessage("c1", "get_weather", "sunny"),
	}
	_, err := model.Collect(context.Background(), m, model.Request{
		Messages: msgs,
		Tools: []core.ToolDefinition{{
			Name:        "get_weather",
			Description: "Get the weather",
			Parameters:  map[string]any{"type": "object"},
		}},
		Options: model.Options{
			Model:       "override-model",
			Temperature: &temp,
			Seed:        &seed,
			Stop:        []string{"END"},
			ResponseFormat: &model.ResponseFormat{
				Name:   "answer",
				Schema: map[string]any{"type": "object"},
				Strict: true,
			},
		},
	}, nil)
	require.NoError(t, err)

	body := c.last()
	assert.Equal(t, "override-model", body["model"])
	assert.InDelta(t, 0.1, body["temperature"], 1e-9)
	assert.InDelta(t, 42, body["seed"], 1e-9)
	assert.Equal(t, []any{"END"}, body["stop"])

	rf := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", rf["type"])
	assert.Equal(t, "answer", rf["json_schema"].(map[string]any)["name"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 4)
	roles := make([]string, len(messages))
	for i, raw := range messages {
		roles[i] = raw.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool"}, roles)

	assistant := messages[2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].(map[string]any)["id"])

	toolMsg := messages[3].(map[string]any)
	assert.Equal(t, "c1", toolMsg["tool_call_id"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].(map[string]any)["function"].(map[string]any)["name"])
}

func TestGenerate_OllamaNumCtx(t *testing.T) {
	srv, c := newServer(t, http.StatusOK, "application/json", toolCallCompletion)
	m := newTestModel(srv, FlavorOllama)

	numCtx := 8192
	_, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Options:  model.Options{NumCtx: &numCtx},
	}, nil)
	require.NoError(t, err)

	opts := c.last()["options"].(map[string]any)
	assert.InDelta(t, 8192, opts["num_ctx"], 1e-9)
	assert.Equal(t, "ollama", m.Info().Provider)
}

func TestGenerate_Streaming(t *testing.T) {
	chunks := []string{
		`{"id":"s1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"b","type":"function","function":{"name":"second","arguments":"{}"}}]}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"a","type":"function","function":{"name":"first","arguments":"{\"x\":"}}]}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	var sb strings.Builder
	for _, ch := range chunks {
		sb.WriteString("data: " + ch + "\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")

	srv, _ := newServer(t, http.StatusOK, "text/event-stream", sb.String())
	m := newTestModel(srv, FlavorOpenAI)

	var deltas []string
	resp, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Options:  model.Options{Stream: true},
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Message.Content)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	require.Len(t, resp.Message.ToolCalls, 2)
	assert.Equal(t, "first", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"x":1}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.Equal(t, "second", resp.Message.ToolCalls[1].Name)
}

func TestGenerate_AuthErrorClassified(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, "application/json",
		`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	m := newTestModel(srv, FlavorOpenAI)

	_, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
	}, nil)

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderErrorAuth, pe.Kind)
	assert.Equal(t, "openai", pe.Provider)
}

func TestGenerate_ServerErrorClassifiedAsModel(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, "application/json",
		`{"error":{"message":"unknown model","type":"invalid_request_error"}}`)
	m := newTestModel(srv, FlavorMistral)

	_, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
	}, nil)

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderErrorModel, pe.Kind)
	assert.Equal(t, "mistral", pe.Provider)
}

func TestGenerate_TransportError(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, "application/json", "{}")
	m := newTestModel(srv, FlavorOpenAI)
	srv.Close()

	_, err := model.Collect(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("hi")},
	}, nil)

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderErrorTransport, pe.Kind)
}

func TestAssembleToolCalls_SynthesizesMissingIDs(t *testing.T) {
	calls := assembleToolCalls(map[int64]*aggCall{0: {name: "x"}})
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID)
	assert.Nil(t, calls[0].Arguments)
}

func TestFlavorDefaults(t *testing.T) {
	assert.Equal(t, "", FlavorOpenAI.DefaultBaseURL())
	assert.Equal(t, "http://localhost:11434/v1", FlavorOllama.DefaultBaseURL())
	assert.Equal(t, "https://openrouter.ai/api/v1", FlavorOpenRouter.DefaultBaseURL())
	assert.Equal(t, "https://api.mistral.ai/v1", FlavorMistral.DefaultBaseURL())
}
