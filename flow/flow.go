// Package flow provides the control loop that turns one prompt into a final
// reply for an agent.
//
// A Flow receives mutable access to the agent (history, tools, options,
// notification bus) and decides how provider calls and tool dispatch are
// interleaved. Default implements the standard tool loop; the prebuilt flows
// and Func cover the common variations and fully custom control logic.
// Generate and CallTools are the building blocks shared by all of them.
package flow

import (
	"context"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/notification"
	"github.com/hupe1980/reagent/session"
	"github.com/hupe1980/reagent/tool"
)

// Flow defines the control-flow policy of an agent.
//
// Run appends whatever it needs to the agent history and returns the reply
// handed back to the caller. A returned error is terminal for the invoke.
type Flow interface {
	Run(ctx context.Context, a Agent, prompt string) (core.Message, error)
}

// Func adapts an ordinary function into a Flow.
type Func func(ctx context.Context, a Agent, prompt string) (core.Message, error)

// Run implements Flow.
func (f Func) Run(ctx context.Context, a Agent, prompt string) (core.Message, error) {
	return f(ctx, a, prompt)
}

// Agent defines the agent capabilities a flow can use.
//
// This interface gives flows mutable access to one agent without exposing
// the agent implementation. Implementations are not required to be safe for
// concurrent invokes; an agent runs one flow at a time.
type Agent interface {
	// Name returns the agent's display name.
	Name() string

	// Model returns the provider client.
	Model() model.Model

	// Options returns a copy of the invocation options snapshot.
	Options() model.Options

	// History returns the conversation the flow appends to.
	History() *session.History

	// Tools returns the tool registry used for dispatch.
	Tools() *tool.Registry

	// Bus returns the notification bus.
	Bus() *notification.Bus

	// Logger returns the agent logger.
	Logger() logging.Logger

	// Executor returns the tool executor.
	Executor() *Executor

	// RequestProcessors run before every provider call.
	RequestProcessors() []RequestProcessor

	// ResponseProcessors run on every final provider response before it is
	// appended to the history.
	ResponseProcessors() []ResponseProcessor
}

// DefaultMaxIterations bounds the tool loop unless configured otherwise.
const DefaultMaxIterations = 10

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	Options            model.Options
	History            *session.History
	Tools              *tool.Registry
	Bus                *notification.Bus
	Logger             logging.Logger
	Executor           *Executor
	RequestProcessors  []RequestProcessor
	ResponseProcessors []ResponseProcessor
}

// Runtime is the standard Agent implementation handed to flows.
type Runtime struct {
	name  string
	model model.Model
	opts  RuntimeOptions
}

// NewRuntime creates a Runtime. Unset collaborators get empty defaults and
// the invocation options start with DefaultMaxIterations.
func NewRuntime(name string, m model.Model, optFns ...func(o *RuntimeOptions)) *Runtime {
	opts := RuntimeOptions{
		Options: model.Options{MaxIterations: DefaultMaxIterations},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.History == nil {
		opts.History = session.NewHistory("")
	}
	if opts.Tools == nil {
		opts.Tools, _ = tool.NewRegistry()
	}
	if opts.Bus == nil {
		opts.Bus = notification.NewBus(name)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Executor == nil {
		opts.Executor = NewExecutor(func(o *ExecutorOptions) {
			o.Logger = opts.Logger
		})
	}

	return &Runtime{name: name, model: m, opts: opts}
}

// Name implements Agent.
func (r *Runtime) Name() string { return r.name }

// Model implements Agent.
func (r *Runtime) Model() model.Model { return r.model }

// Options implements Agent.
func (r *Runtime) Options() model.Options { return r.opts.Options.Clone() }

// History implements Agent.
func (r *Runtime) History() *session.History { return r.opts.History }

// Tools implements Agent.
func (r *Runtime) Tools() *tool.Registry { return r.opts.Tools }

// Bus implements Agent.
func (r *Runtime) Bus() *notification.Bus { return r.opts.Bus }

// Logger implements Agent.
func (r *Runtime) Logger() logging.Logger { return r.opts.Logger }

// Executor implements Agent.
func (r *Runtime) Executor() *Executor { return r.opts.Executor }

// RequestProcessors implements Agent.
func (r *Runtime) RequestProcessors() []RequestProcessor { return r.opts.RequestProcessors }

// ResponseProcessors implements Agent.
func (r *Runtime) ResponseProcessors() []ResponseProcessor { return r.opts.ResponseProcessors }
