package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/agent"
	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/mcp"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/session/redis"
	"github.com/hupe1980/reagent/tool"
)

const fullDefinition = `
name: weather
description: Answers weather questions
provider:
  type: Ollama
  model: qwen3
  base_url: http://localhost:11434/v1
  api_key: ${REAGENT_TEST_KEY}
  headers:
    X-Tenant: acme
prompt:
  system_prompt: You are a helpful assistant.
  template: "What is the weather in {{.city}}?"
  template_data:
    city: Ljubljana
  response_format:
    name: forecast
    schema:
      type: object
      properties:
        temperature:
          type: number
      required: [temperature]
  strip_thinking: true
  clear_history_on_invoke: true
model:
  temperature: 0.2
  top_p: 0.9
  num_ctx: 8192
  seed: 42
  stop: ["</answer>"]
  stream: true
flow:
  name: until_stopword
  stopword: DONE
  max_iterations: 4
mcp_servers:
  - name: files
    transport: stdio
    command: mcp-files
    args: ["--root", "/tmp"]
    timeout: 5s
max_parallel_tools: 3
logging:
  level: debug
  format: text
`

func TestParse(t *testing.T) {
	t.Setenv("REAGENT_TEST_KEY", "secret")

	def, err := Parse([]byte(fullDefinition))
	require.NoError(t, err)

	assert.Equal(t, "weather", def.Name)
	assert.Equal(t, ProviderOllama, def.Provider.Type)
	assert.Equal(t, "secret", def.Provider.APIKey)
	assert.Equal(t, map[string]string{"X-Tenant": "acme"}, def.Provider.Headers)
	assert.Equal(t, "Ljubljana", def.Prompt.TemplateData["city"])
	require.NotNil(t, def.Prompt.ResponseFormat)
	assert.Equal(t, "forecast", def.Prompt.ResponseFormat.Name)
	assert.True(t, def.Prompt.StripThinking)
	require.NotNil(t, def.Model.Temperature)
	assert.InDelta(t, 0.2, *def.Model.Temperature, 1e-9)
	require.NotNil(t, def.Model.Seed)
	assert.Equal(t, int64(42), *def.Model.Seed)
	assert.Equal(t, []string{"</answer>"}, def.Model.Stop)
	assert.Equal(t, FlowUntilStopword, def.Flow.Name)
	require.NotNil(t, def.Flow.MaxIterations)
	assert.Equal(t, 4, *def.Flow.MaxIterations)

	require.Len(t, def.MCPServers, 1)
	assert.Equal(t, mcp.TransportKind("stdio"), def.MCPServers[0].Transport)
	assert.Equal(t, 5*time.Second, def.MCPServers[0].Timeout)
	assert.Equal(t, []string{"--root", "/tmp"}, def.MCPServers[0].Args)
}

func TestParseDefaults(t *testing.T) {
	def, err := Parse([]byte("name: a\nprovider:\n  type: openai\n  model: gpt-4o-mini\nprompt:\n  response_format:\n    schema: {type: object}\n"))
	require.NoError(t, err)

	assert.Equal(t, FlowDefault, def.Flow.Name)
	assert.Equal(t, "response", def.Prompt.ResponseFormat.Name)

	inv := def.invocationOptions()
	assert.Equal(t, agent.DefaultMaxIterations, inv.MaxIterations)
	assert.Equal(t, "gpt-4o-mini", inv.Model)
	require.NotNil(t, inv.ResponseFormat)
	assert.True(t, inv.ResponseFormat.Strict)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "  \n", "payload is empty"},
		{"missing name", "provider: {type: openai, model: m}", "name is required"},
		{"missing provider", "name: a\nprovider: {model: m}", "provider.type is required"},
		{"unknown provider", "name: a\nprovider: {type: gemini, model: m}", `unknown provider "gemini"`},
		{"missing model", "name: a\nprovider: {type: openai}", "provider.model is required"},
		{"unknown flow", "name: a\nprovider: {type: openai, model: m}\nflow: {name: swarm}", `unknown flow "swarm"`},
		{"stopword", "name: a\nprovider: {type: openai, model: m}\nflow: {name: until_stopword}", "requires a stopword"},
		{"negative iterations", "name: a\nprovider: {type: openai, model: m}\nflow: {max_iterations: -1}", "max_iterations cannot be negative"},
		{"temperature", "name: a\nprovider: {type: openai, model: m}\nmodel: {temperature: 3}", "model.temperature"},
		{"top_p", "name: a\nprovider: {type: openai, model: m}\nmodel: {top_p: 1.5}", "model.top_p"},
		{"schema", "name: a\nprovider: {type: openai, model: m}\nprompt: {response_format: {name: x}}", "schema is required"},
		{"mcp name", "name: a\nprovider: {type: openai, model: m}\nmcp_servers: [{transport: stdio}]", "mcp_servers[0].name"},
		{"mcp duplicate", "name: a\nprovider: {type: openai, model: m}\nmcp_servers: [{name: x}, {name: x}]", `duplicate mcp server "x"`},
		{"auto save", "name: a\nprovider: {type: openai, model: m}\nhistory: {auto_save: true}", "history.auto_save requires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseReportsAllProblems(t *testing.T) {
	_, err := Parse([]byte("provider: {type: gemini}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), `unknown provider "gemini"`)
	assert.Contains(t, err.Error(), "provider.model is required")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("name: a\nprovider: {type: openai, model: m}\nmax_iteration: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\nprovider: {type: mistral, model: mistral-small}\n"), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderMistral, def.Provider.Type)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestNewModel(t *testing.T) {
	for _, typ := range []string{ProviderOpenAI, ProviderOllama, ProviderOpenRouter, ProviderMistral, ProviderAnthropic} {
		t.Run(typ, func(t *testing.T) {
			m, err := NewModel(ProviderConfig{Type: typ, Model: "m", APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, typ, m.Info().Provider)
			assert.Equal(t, "m", m.Info().Name)
		})
	}

	_, err := NewModel(ProviderConfig{Type: "gemini", Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestBuild(t *testing.T) {
	def, err := Parse([]byte(`
name: helper
description: Helps
provider: {type: ollama, model: llama3.2}
prompt:
  system_prompt: Be brief.
model: {temperature: 0.5, stream: true}
flow: {max_iterations: 2}
`))
	require.NoError(t, err)

	a, err := Build(context.Background(), def, agent.WithTools(pingTool()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, "helper", a.Name())
	assert.Equal(t, "Helps", a.Description())
	assert.Equal(t, "ollama", a.Model().Info().Provider)
	assert.Equal(t, []string{"ping"}, a.Tools())

	opts := a.Options()
	assert.Equal(t, 2, opts.MaxIterations)
	assert.True(t, opts.Stream)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.5, *opts.Temperature, 1e-9)

	history := a.History()
	require.Len(t, history, 1)
	assert.Equal(t, core.RoleSystem, history[0].Role)
	assert.Equal(t, "Be brief.", history[0].Content)
}

func TestBuildInvalidDefinition(t *testing.T) {
	_, err := Build(context.Background(), &Definition{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func pingTool() tool.Tool {
	return tool.NewFunctionTool("ping", "Ping", map[string]any{"type": "object"}, func(context.Context, map[string]any) (any, error) {
		return "pong", nil
	})
}

func newAgent(t *testing.T, def *Definition, m model.Model, optFns ...func(o *agent.Options)) *agent.Agent {
	t.Helper()
	opts, err := def.AgentOptions()
	require.NoError(t, err)
	a, err := agent.New(context.Background(), def.Name, m, append(opts, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAgentOptionsTemplate(t *testing.T) {
	def, err := Parse([]byte(`
name: tmpl
provider: {type: openai, model: m}
prompt:
  template: "Weather in {{.city}} on {{.day}}?"
  template_data: {city: Ljubljana, day: Monday}
`))
	require.NoError(t, err)

	m := model.NewMockModel("m").Reply("Sunny")
	a := newAgent(t, def, m)

	msg, err := a.InvokeWithTemplate(context.Background(), map[string]any{"day": "Friday"})
	require.NoError(t, err)
	assert.Equal(t, "Sunny", msg.Content)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	assert.Equal(t, "Weather in Ljubljana on Friday?", last.Content)
}

func TestAgentOptionsInvalidTemplate(t *testing.T) {
	def := &Definition{
		Name:     "bad",
		Provider: ProviderConfig{Type: ProviderOpenAI, Model: "m"},
		Prompt:   PromptConfig{Template: "{{.city"},
		Flow:     FlowConfig{Name: FlowDefault},
	}
	_, err := def.AgentOptions()
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestAgentOptionsUntilStopword(t *testing.T) {
	def, err := Parse([]byte(`
name: stop
provider: {type: openai, model: m}
flow: {name: until_stopword, stopword: DONE, max_iterations: 5}
`))
	require.NoError(t, err)

	m := model.NewMockModel("m").Reply("thinking").Reply("all DONE").Reply("never")
	a := newAgent(t, def, m)

	msg, err := a.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "all DONE", msg.Content)
	assert.Equal(t, 2, m.Calls())
}

func TestAgentOptionsReplyWithoutTools(t *testing.T) {
	def, err := Parse([]byte("name: plain\nprovider: {type: openai, model: m}\nflow: {name: reply_without_tools}\n"))
	require.NoError(t, err)

	m := model.NewMockModel("m").Reply("hi")
	a := newAgent(t, def, m, agent.WithTools(pingTool()))

	_, err = a.Invoke(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, m.Requests(), 1)
	assert.Empty(t, m.Requests()[0].Tools)
}

func TestAgentOptionsFlows(t *testing.T) {
	for _, name := range []string{FlowDefault, FlowReplyWithoutTools, FlowCallToolsAndReply, FlowReplyAndCallTools, FlowPlanAndExecute} {
		f, err := FlowConfig{Name: name, MaxSteps: 2}.build()
		require.NoError(t, err, name)
		assert.NotNil(t, f, name)
	}

	_, err := FlowConfig{Name: "swarm"}.build()
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestAgentOptionsHistory(t *testing.T) {
	dir := t.TempDir()
	def, err := Parse([]byte(`
name: persisted
provider: {type: openai, model: m}
history:
  dir: ` + dir + `
  session_key: chat-1
  auto_save: true
`))
	require.NoError(t, err)

	a := newAgent(t, def, model.NewMockModel("m").Reply("Yeah"))
	_, err = a.Invoke(context.Background(), "Say yeah")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "chat-1.json"))
	require.NoError(t, err)

	restored := newAgent(t, def, model.NewMockModel("m"))
	assert.Len(t, restored.History(), 2)
}

func TestLoggingConfig(t *testing.T) {
	assert.Nil(t, LoggingConfig{}.logger())
	assert.NotNil(t, LoggingConfig{Level: "warn", Format: "json"}.logger())
	assert.NotNil(t, LoggingConfig{Level: "debug", Format: "zap"}.logger())
}

func TestAgentOptionsRedisHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	def, err := Parse([]byte(`
name: cached
provider: {type: openai, model: m}
history:
  redis_url: redis://` + mr.Addr() + `
  ttl: 1h
  auto_save: true
`))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, def.History.TTL)

	a := newAgent(t, def, model.NewMockModel("m").Reply("Yeah"))
	_, err = a.Invoke(context.Background(), "Say yeah")
	require.NoError(t, err)

	assert.True(t, mr.Exists(redis.DefaultPrefix+"cached"))
	assert.Equal(t, time.Hour, mr.TTL(redis.DefaultPrefix+"cached"))

	restored := newAgent(t, def, model.NewMockModel("m"))
	assert.Len(t, restored.History(), 2)
}

func TestParseHistoryConflicts(t *testing.T) {
	_, err := Parse([]byte("name: a\nprovider: {type: openai, model: m}\nhistory: {dir: /tmp, redis_url: redis://localhost:6379}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	_, err = Parse([]byte("name: a\nprovider: {type: openai, model: m}\nhistory: {dir: /tmp, sqlite: /tmp/h.db}\n"))
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestAgentOptionsSQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	def, err := Parse([]byte(`
name: local
provider: {type: ollama, model: m}
history:
  sqlite: ` + path + `
  auto_save: true
`))
	require.NoError(t, err)

	a := newAgent(t, def, model.NewMockModel("m").Reply("Yeah"))
	_, err = a.Invoke(context.Background(), "Say yeah")
	require.NoError(t, err)
	assert.FileExists(t, path)

	restored := newAgent(t, def, model.NewMockModel("m"))
	assert.Len(t, restored.History(), 2)
}
