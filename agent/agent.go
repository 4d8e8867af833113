package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/flow"
	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/mcp"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/notification"
	"github.com/hupe1980/reagent/schema"
	"github.com/hupe1980/reagent/session"
	"github.com/hupe1980/reagent/telemetry"
	"github.com/hupe1980/reagent/tool"
)

var (
	// ErrNoTemplate is returned by the template entry points of an agent
	// built without a template.
	ErrNoTemplate = errors.New("agent has no template")
	// ErrNoStore is returned by SaveHistory on an agent without a store.
	ErrNoStore = errors.New("agent has no history store")
)

// Agent is a conversational agent backed by a language model.
//
// It owns exactly one history, one tool registry and one notification bus.
// Invocations are serialized; all exported methods are goroutine-safe.
type Agent struct {
	name        string
	description string
	model       model.Model
	opts        Options

	history   *session.History
	registry  *tool.Registry
	bus       *notification.Bus
	runtime   *flow.Runtime
	flow      flow.Flow
	validator *schema.Validator
	servers   []*mcp.Server
	logger    logging.Logger

	mu        sync.Mutex // serializes invokes and history mutations
	closeOnce sync.Once
	closeErr  error
}

// New builds an agent. Construction fails fast: a missing model, a duplicate
// tool name, an unreachable MCP server or an invalid response schema yields a
// *core.BuildError and no agent.
//
// On failure the configured Closers are closed, since no agent takes
// ownership of them.
func New(ctx context.Context, name string, m model.Model, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{
		Description: fmt.Sprintf("Agent %s", name),
		Invocation:  model.Options{MaxIterations: DefaultMaxIterations},
		Flow:        flow.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a, err := build(ctx, name, m, opts)
	if err != nil {
		if closeErr := closeAll(opts.Closers); closeErr != nil {
			logging.OrNoOp(opts.Logger).Warn("agent.build.close_failed", "agent", name, "error", closeErr.Error())
		}
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, name string, m model.Model, opts Options) (*Agent, error) {
	if m == nil {
		return nil, core.NewBuildError("model", core.ErrMissingModel)
	}

	logger := logging.OrNoOp(opts.Logger)
	if opts.Flow == nil {
		opts.Flow = flow.Default
	}
	if opts.SessionKey == "" {
		opts.SessionKey = name
	}

	systemPrompt, err := opts.SystemPrompt.Resolve(ctx)
	if err != nil {
		return nil, core.NewBuildError("system prompt", err)
	}

	var validator *schema.Validator
	if rf := opts.Invocation.ResponseFormat; rf != nil {
		if validator, err = schema.Compile(rf.Schema); err != nil {
			return nil, core.NewBuildError("response format", err)
		}
	}

	registry, err := tool.NewRegistry(opts.Tools...)
	if err != nil {
		return nil, core.NewBuildError("register tools", err)
	}

	servers, err := discover(ctx, opts, logger)
	if err != nil {
		return nil, core.NewBuildError("discover mcp tools", err)
	}
	for _, srv := range servers {
		if err := registry.Register(srv.Tools()...); err != nil {
			closeServers(servers)
			return nil, core.NewBuildError(fmt.Sprintf("register mcp tools of %s", srv.Name()), err)
		}
	}
	registry.Freeze()

	history := session.NewHistory(systemPrompt)
	if opts.Store != nil {
		msgs, err := opts.Store.Load(ctx, opts.SessionKey)
		switch {
		case err == nil:
			history.Replace(msgs)
		case !errors.Is(err, session.ErrNotFound):
			closeServers(servers)
			return nil, core.NewBuildError("restore history", err)
		}
	}

	busOpts := append([]func(o *notification.BusOptions){}, opts.BusOptions...)
	busOpts = append(busOpts, func(o *notification.BusOptions) {
		userDrop := o.OnDrop
		o.OnDrop = func(n notification.Notification) {
			telemetry.RecordNotificationDropped(context.Background(), name)
			if userDrop != nil {
				userDrop(n)
			}
		}
	})
	bus := notification.NewBus(name, busOpts...)

	responseProcessors := append([]flow.ResponseProcessor(nil), opts.ResponseProcessors...)
	if opts.StripThinking {
		responseProcessors = append(responseProcessors, flow.NewStripThinkingProcessor())
	}

	executor := flow.NewExecutor(func(o *flow.ExecutorOptions) {
		o.MaxParallel = opts.MaxParallelTools
		o.Logger = logger
	})

	runtime := flow.NewRuntime(name, m, func(o *flow.RuntimeOptions) {
		o.Options = opts.Invocation.Clone()
		o.History = history
		o.Tools = registry
		o.Bus = bus
		o.Logger = logger
		o.Executor = executor
		o.RequestProcessors = append([]flow.RequestProcessor(nil), opts.RequestProcessors...)
		o.ResponseProcessors = responseProcessors
	})

	logger.Info("agent.created",
		"agent", name,
		"model", m.Info().Name,
		"provider", m.Info().Provider,
		"tools", registry.Len(),
		"mcp_servers", len(servers),
	)

	return &Agent{
		name:        name,
		description: opts.Description,
		model:       m,
		opts:        opts,
		history:     history,
		registry:    registry,
		bus:         bus,
		runtime:     runtime,
		flow:        opts.Flow,
		validator:   validator,
		servers:     servers,
		logger:      logger,
	}, nil
}

func discover(ctx context.Context, opts Options, logger logging.Logger) ([]*mcp.Server, error) {
	if len(opts.MCPServers) == 0 {
		return nil, nil
	}

	mcpOpts := append([]func(o *mcp.Options){func(o *mcp.Options) { o.Logger = logger }}, opts.MCPOptions...)

	servers, err := mcp.DiscoverAll(ctx, opts.MCPServers, mcpOpts...)
	if err != nil {
		if !opts.SkipFailedMCPServers {
			closeServers(servers)
			return nil, err
		}
		logger.Warn("agent.mcp.skipped", "error", err.Error(), "connected", len(servers))
	}

	return servers, nil
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func closeServers(servers []*mcp.Server) error {
	var errs []error
	for _, s := range servers {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mcp server %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.description }

// Model returns the provider client.
func (a *Agent) Model() model.Model { return a.model }

// Options returns a copy of the invocation options snapshot.
func (a *Agent) Options() model.Options { return a.opts.Invocation.Clone() }

// Tools returns the names of all registered tools in registration order.
func (a *Agent) Tools() []string { return a.registry.Names() }

// Invoke turns prompt into a reply using the configured flow. Exactly one
// FinalMessage notification is published per call; on failure it follows an
// Error notification and carries Success=false.
func (a *Agent) Invoke(ctx context.Context, prompt string) (core.Message, error) {
	return a.invoke(ctx, staticPrompt(prompt), nil)
}

type promptFunc func(ctx context.Context) (string, error)

func staticPrompt(p string) promptFunc {
	return func(context.Context) (string, error) { return p, nil }
}

// invoke runs one flow under the invoke lock. post runs on the reply before
// the final notification; its error fails the invoke.
func (a *Agent) invoke(ctx context.Context, render promptFunc, post func(core.Message) error) (core.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	invocationID := core.NewID()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanInvoke,
		telemetry.KeyAgent.String(a.name),
		telemetry.KeyInvocationID.String(invocationID),
	)

	start := time.Now()
	msg, err := a.run(ctx, render, post)
	dur := time.Since(start)

	telemetry.EndSpan(span, err)

	if err != nil {
		a.logger.Error("agent.invoke.error",
			"agent", a.name,
			"invocation_id", invocationID,
			"duration_ms", dur.Milliseconds(),
			"error", err.Error(),
		)
		a.bus.Publish(notification.NewError(err))
		a.bus.Publish(notification.FinalMessage{Message: msg, Success: false})
		return core.Message{}, err
	}

	a.logger.Info("agent.invoke.complete",
		"agent", a.name,
		"invocation_id", invocationID,
		"duration_ms", dur.Milliseconds(),
		"history", a.history.Len(),
	)
	a.bus.Publish(notification.FinalMessage{Message: msg, Success: true})

	if a.opts.AutoSave && a.opts.Store != nil {
		if err := a.opts.Store.Save(ctx, a.opts.SessionKey, a.history.Messages()); err != nil {
			a.logger.Warn("agent.history.save.error", "agent", a.name, "error", err.Error())
		}
	}

	return msg, nil
}

func (a *Agent) run(ctx context.Context, render promptFunc, post func(core.Message) error) (core.Message, error) {
	prompt, err := render(ctx)
	if err != nil {
		return core.Message{}, err
	}

	if a.opts.ClearHistoryOnInvoke {
		a.history.Reset()
	}

	a.logger.Debug("agent.invoke.start", "agent", a.name, "prompt_length", len(prompt))

	msg, err := a.flow.Run(ctx, a.runtime, prompt)
	if err != nil {
		return core.Message{}, err
	}

	if post != nil {
		if err := post(msg); err != nil {
			return msg, err
		}
	}

	return msg, nil
}

// ClearHistory drops every message except the system prompt.
func (a *Agent) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Reset()
}

// History returns a copy of the conversation.
func (a *Agent) History() []core.Message { return a.history.Messages() }

// Subscribe registers a new notification receiver.
func (a *Agent) Subscribe() *notification.Subscription { return a.bus.Subscribe() }

// Forward re-publishes the notifications of child on this agent's bus until
// the returned stop function is called or child is closed.
func (a *Agent) Forward(child *Agent) (stop func()) {
	return a.bus.Forward(child.Subscribe())
}

// SaveHistory persists the history in the configured store.
func (a *Agent) SaveHistory(ctx context.Context) error {
	if a.opts.Store == nil {
		return ErrNoStore
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.opts.Store.Save(ctx, a.opts.SessionKey, a.history.Messages()); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Close disconnects MCP servers, releases the tool pool, closes all
// subscriptions and the configured closers. Safe to call more than once.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.runtime.Executor().Close()
		a.closeErr = errors.Join(closeServers(a.servers), closeAll(a.opts.Closers))
		a.bus.Close()
		a.logger.Debug("agent.closed", "agent", a.name)
	})
	return a.closeErr
}
