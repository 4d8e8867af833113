package agent

import (
	"io"

	"github.com/hupe1980/reagent/flow"
	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/mcp"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/notification"
	"github.com/hupe1980/reagent/session"
	"github.com/hupe1980/reagent/template"
	"github.com/hupe1980/reagent/tool"
)

// DefaultMaxIterations bounds the tool loop unless configured otherwise.
const DefaultMaxIterations = flow.DefaultMaxIterations

// Options configures an Agent instance.
//
// Use functional options with New to override defaults.
type Options struct {
	Description string
	// SystemPrompt seeds the history. It survives ClearHistory.
	SystemPrompt Instruction
	Tools        []tool.Tool
	MCPServers   []mcp.ServerConfig
	MCPOptions   []func(o *mcp.Options)
	// SkipFailedMCPServers logs and skips unreachable MCP servers instead of
	// failing construction.
	SkipFailedMCPServers bool
	// Invocation is the options snapshot copied into every provider request.
	Invocation       model.Options
	Flow             flow.Flow
	Logger           logging.Logger
	MaxParallelTools int
	Template         *template.Template
	// Store persists the history under SessionKey (defaults to the agent
	// name). A stored history is restored when the agent is built.
	Store                session.Store
	SessionKey           string
	AutoSave             bool
	StripThinking        bool
	ClearHistoryOnInvoke bool
	BusOptions           []func(o *notification.BusOptions)
	// Closers are closed together with the agent.
	Closers            []io.Closer
	RequestProcessors  []flow.RequestProcessor
	ResponseProcessors []flow.ResponseProcessor
}

// WithDescription sets the description used by AsTool.
func WithDescription(desc string) func(o *Options) {
	return func(o *Options) { o.Description = desc }
}

// WithSystemPrompt sets a static system prompt.
func WithSystemPrompt(prompt string) func(o *Options) {
	return func(o *Options) { o.SystemPrompt = NewInstructionFromText(prompt) }
}

// WithInstruction sets a dynamic system prompt resolved at construction.
func WithInstruction(i Instruction) func(o *Options) {
	return func(o *Options) { o.SystemPrompt = i }
}

// WithTools registers local tools.
func WithTools(tools ...tool.Tool) func(o *Options) {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

// WithMCPServers discovers tools from MCP servers at construction.
func WithMCPServers(cfgs ...mcp.ServerConfig) func(o *Options) {
	return func(o *Options) { o.MCPServers = append(o.MCPServers, cfgs...) }
}

// WithInvocationOptions replaces the invocation options snapshot.
func WithInvocationOptions(opts model.Options) func(o *Options) {
	return func(o *Options) { o.Invocation = opts.Clone() }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) func(o *Options) {
	return func(o *Options) { o.Invocation.Temperature = &t }
}

// WithStreaming toggles token streaming.
func WithStreaming(stream bool) func(o *Options) {
	return func(o *Options) { o.Invocation.Stream = stream }
}

// WithMaxIterations bounds the tool loop (floor of one attempt).
func WithMaxIterations(n int) func(o *Options) {
	return func(o *Options) { o.Invocation.MaxIterations = n }
}

// WithResponseFormat asks the provider for JSON matching schema and enables
// validation in the structured entry points.
func WithResponseFormat(name string, schema map[string]any) func(o *Options) {
	return func(o *Options) {
		o.Invocation.ResponseFormat = &model.ResponseFormat{Name: name, Schema: schema, Strict: true}
	}
}

// WithFlow replaces the default tool loop.
func WithFlow(f flow.Flow) func(o *Options) {
	return func(o *Options) { o.Flow = f }
}

// WithLogger sets the agent logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithMaxParallelTools bounds concurrent tool calls within one turn.
func WithMaxParallelTools(n int) func(o *Options) {
	return func(o *Options) { o.MaxParallelTools = n }
}

// WithTemplate sets the prompt template used by InvokeWithTemplate.
func WithTemplate(t *template.Template) func(o *Options) {
	return func(o *Options) { o.Template = t }
}

// WithStore persists the history under key.
func WithStore(s session.Store, key string) func(o *Options) {
	return func(o *Options) {
		o.Store = s
		o.SessionKey = key
	}
}

// WithStripThinking removes <think> blocks from replies.
func WithStripThinking() func(o *Options) {
	return func(o *Options) { o.StripThinking = true }
}

// WithClearHistoryOnInvoke resets the history before every invoke.
func WithClearHistoryOnInvoke() func(o *Options) {
	return func(o *Options) { o.ClearHistoryOnInvoke = true }
}
