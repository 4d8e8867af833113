package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/notification"
	"github.com/hupe1980/reagent/telemetry"
)

// Generate performs one provider call with the current history and appends
// the reply to it. Streamed fragments are published as TokenChunk
// notifications in emission order. With useTools the registry's declarations
// are attached (if the model supports tools).
func Generate(ctx context.Context, a Agent, useTools bool) (core.Message, error) {
	m := a.Model()
	info := m.Info()

	req := model.Request{
		Messages: a.History().Messages(),
		Options:  a.Options(),
	}
	if useTools && info.SupportsTools {
		if defs := a.Tools().Definitions(); len(defs) > 0 {
			req.Tools = defs
		}
	}

	for _, p := range a.RequestProcessors() {
		if err := p.ProcessRequest(ctx, a, &req); err != nil {
			return core.Message{}, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanGenerate,
		telemetry.KeyAgent.String(a.Name()),
		telemetry.KeyModel.String(info.Name),
		telemetry.KeyProvider.String(info.Provider),
	)

	bus := a.Bus()
	start := time.Now()
	resp, err := model.Collect(ctx, m, req, func(delta string) {
		bus.Publish(notification.TokenChunk{Text: delta})
	})
	dur := time.Since(start)

	telemetry.EndSpan(span, err)
	telemetry.RecordModelCall(ctx, info.Provider, err == nil)

	if err != nil {
		a.Logger().Error("flow.model.error",
			"agent", a.Name(),
			"model", info.Name,
			"duration_ms", dur.Milliseconds(),
			"error", err.Error(),
		)
		return core.Message{}, err
	}

	for _, p := range a.ResponseProcessors() {
		if err := p.ProcessResponse(ctx, a, &resp); err != nil {
			return core.Message{}, fmt.Errorf("response processor %s failed: %w", p.Name(), err)
		}
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	a.Logger().Debug("flow.model.call",
		"agent", a.Name(),
		"model", info.Name,
		"tools", len(req.Tools),
		"tool_calls", len(resp.Message.ToolCalls),
		"tokens", tokens,
		"duration_ms", dur.Milliseconds(),
	)

	a.History().Append(resp.Message)

	return resp.Message, nil
}

// CallTools dispatches calls through the agent's executor and appends one
// tool message per call in request order. ToolCallRequested is published for
// every call before dispatch and ToolCallCompleted for every result. Tool
// failures never abort the flow; the returned error is only the context
// error once ctx is done.
func CallTools(ctx context.Context, a Agent, calls []core.ToolCall) ([]core.Message, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	bus := a.Bus()
	for _, call := range calls {
		bus.Publish(notification.ToolCallRequested{Call: call})
	}

	results := a.Executor().Execute(ctx, a.Tools(), calls)

	msgs := make([]core.Message, 0, len(results))
	for _, r := range results {
		msg := core.ToolMessage(r.Call.ID, r.Call.Name, r.Content)
		a.History().Append(msg)
		msgs = append(msgs, msg)

		completed := notification.ToolCallCompleted{
			Call:     r.Call,
			Result:   r.Content,
			Duration: r.Duration,
		}
		if r.Err != nil {
			completed.Error = r.Err.Error()
		}
		bus.Publish(completed)
	}

	return msgs, ctx.Err()
}
