// Package config loads YAML agent definitions and builds agents from them.
//
// String values may reference environment variables (${OPENAI_API_KEY});
// they are expanded before the document is decoded.
//
//	name: weather
//	provider:
//	  type: ollama
//	  model: qwen3
//	prompt:
//	  system_prompt: You are a helpful assistant.
//	  strip_thinking: true
//	model:
//	  temperature: 0.2
//	  stream: true
//	flow:
//	  name: default
//	  max_iterations: 5
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/reagent/mcp"
)

// Provider types understood by Build.
const (
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderMistral    = "mistral"
	ProviderAnthropic  = "anthropic"
)

// Flow names understood by Build.
const (
	FlowDefault           = "default"
	FlowReplyWithoutTools = "reply_without_tools"
	FlowCallToolsAndReply = "call_tools_and_reply"
	FlowReplyAndCallTools = "reply_and_call_tools"
	FlowPlanAndExecute    = "plan_and_execute"
	FlowUntilStopword     = "until_stopword"
)

// ErrInvalidDefinition is wrapped by every validation failure.
var ErrInvalidDefinition = errors.New("invalid agent definition")

// Definition describes one agent.
type Definition struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Provider    ProviderConfig     `yaml:"provider"`
	Prompt      PromptConfig       `yaml:"prompt"`
	Model       ModelConfig        `yaml:"model"`
	Flow        FlowConfig         `yaml:"flow"`
	MCPServers  []mcp.ServerConfig `yaml:"mcp_servers"`
	// SkipFailedMCPServers keeps building when a server cannot be reached.
	SkipFailedMCPServers bool          `yaml:"skip_failed_mcp_servers"`
	MaxParallelTools     int           `yaml:"max_parallel_tools"`
	History              HistoryConfig `yaml:"history"`
	Logging              LoggingConfig `yaml:"logging"`
}

// ProviderConfig selects and authenticates the provider client.
type ProviderConfig struct {
	Type    string            `yaml:"type"`
	Model   string            `yaml:"model"`
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Headers map[string]string `yaml:"headers"`
	// MaxRetries overrides the SDK retry budget when set.
	MaxRetries *int `yaml:"max_retries"`
}

// PromptConfig shapes what is sent to the model.
type PromptConfig struct {
	SystemPrompt         string                `yaml:"system_prompt"`
	Template             string                `yaml:"template"`
	TemplateData         map[string]any        `yaml:"template_data"`
	ResponseFormat       *ResponseFormatConfig `yaml:"response_format"`
	StripThinking        bool                  `yaml:"strip_thinking"`
	ClearHistoryOnInvoke bool                  `yaml:"clear_history_on_invoke"`
}

// ResponseFormatConfig requests schema constrained JSON replies.
type ResponseFormatConfig struct {
	Name   string         `yaml:"name"`
	Schema map[string]any `yaml:"schema"`
	Strict *bool          `yaml:"strict"`
}

// ModelConfig holds the sampling parameters of the invocation options.
type ModelConfig struct {
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	NumCtx      *int     `yaml:"num_ctx"`
	MaxTokens   *int     `yaml:"max_tokens"`
	Seed        *int64   `yaml:"seed"`
	Stop        []string `yaml:"stop"`
	Stream      bool     `yaml:"stream"`
}

// FlowConfig selects the control flow.
type FlowConfig struct {
	Name          string `yaml:"name"`
	MaxIterations *int   `yaml:"max_iterations"`
	Stopword      string `yaml:"stopword"`
	// MaxSteps bounds plan_and_execute.
	MaxSteps int `yaml:"max_steps"`
}

// HistoryConfig persists the conversation in a directory, a SQLite
// database or Redis. At most one backend may be set.
type HistoryConfig struct {
	Dir    string `yaml:"dir"`
	SQLite string `yaml:"sqlite"`
	// RedisURL (redis://host:port/db) selects the Redis store.
	RedisURL   string        `yaml:"redis_url"`
	TTL        time.Duration `yaml:"ttl"`
	SessionKey string        `yaml:"session_key"`
	AutoSave   bool          `yaml:"auto_save"`
}

// LoggingConfig configures the agent logger. An empty level disables logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a definition from disk.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands environment references in data, decodes it and validates
// the result. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidDefinition)
	}

	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	def.normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

func (d *Definition) normalize() {
	d.Provider.Type = strings.ToLower(strings.TrimSpace(d.Provider.Type))
	d.Flow.Name = strings.ToLower(strings.TrimSpace(d.Flow.Name))
	if d.Flow.Name == "" {
		d.Flow.Name = FlowDefault
	}
	if rf := d.Prompt.ResponseFormat; rf != nil && rf.Name == "" {
		rf.Name = "response"
	}
}

// Validate enforces the structural guarantees Build relies on.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}

	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidDefinition}, args...)...))
	}

	if strings.TrimSpace(d.Name) == "" {
		invalid("name is required")
	}

	switch d.Provider.Type {
	case ProviderOpenAI, ProviderOllama, ProviderOpenRouter, ProviderMistral, ProviderAnthropic:
	case "":
		invalid("provider.type is required")
	default:
		invalid("unknown provider %q", d.Provider.Type)
	}
	if strings.TrimSpace(d.Provider.Model) == "" {
		invalid("provider.model is required")
	}

	switch d.Flow.Name {
	case "", FlowDefault, FlowReplyWithoutTools, FlowCallToolsAndReply, FlowReplyAndCallTools, FlowPlanAndExecute:
	case FlowUntilStopword:
		if d.Flow.Stopword == "" {
			invalid("flow %q requires a stopword", d.Flow.Name)
		}
	default:
		invalid("unknown flow %q", d.Flow.Name)
	}
	if d.Flow.MaxIterations != nil && *d.Flow.MaxIterations < 0 {
		invalid("flow.max_iterations cannot be negative: %d", *d.Flow.MaxIterations)
	}
	if d.Flow.MaxSteps < 0 {
		invalid("flow.max_steps cannot be negative: %d", d.Flow.MaxSteps)
	}
	if d.MaxParallelTools < 0 {
		invalid("max_parallel_tools cannot be negative: %d", d.MaxParallelTools)
	}

	if t := d.Model.Temperature; t != nil && (*t < 0 || *t > 2) {
		invalid("model.temperature must be within [0, 2]: %v", *t)
	}
	if p := d.Model.TopP; p != nil && (*p < 0 || *p > 1) {
		invalid("model.top_p must be within [0, 1]: %v", *p)
	}

	if rf := d.Prompt.ResponseFormat; rf != nil && len(rf.Schema) == 0 {
		invalid("prompt.response_format.schema is required")
	}

	seen := make(map[string]struct{}, len(d.MCPServers))
	for i, s := range d.MCPServers {
		if s.Name == "" {
			invalid("mcp_servers[%d].name is required", i)
			continue
		}
		if _, dup := seen[s.Name]; dup {
			invalid("duplicate mcp server %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	if n := d.History.backends(); n > 1 {
		invalid("history.dir, history.sqlite and history.redis_url are mutually exclusive")
	} else if n == 0 && d.History.AutoSave {
		invalid("history.auto_save requires a history backend")
	}
	if d.History.TTL < 0 {
		invalid("history.ttl cannot be negative: %s", d.History.TTL)
	}

	return errors.Join(errs...)
}

func (h HistoryConfig) backends() int {
	n := 0
	for _, v := range []string{h.Dir, h.SQLite, h.RedisURL} {
		if v != "" {
			n++
		}
	}
	return n
}
