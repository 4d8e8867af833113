package flow

import (
	"context"
	"strings"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/notification"
)

// Default is the standard tool loop: append the prompt, then alternate
// provider calls and tool rounds until a reply carries no tool calls or the
// iteration bound is hit.
var Default Flow = Func(func(ctx context.Context, a Agent, prompt string) (core.Message, error) {
	a.History().Append(core.UserMessage(prompt))
	return Loop(ctx, a)
})

// Loop runs the tool loop on the current history without appending a
// prompt. On exhaustion it publishes IterationLimitReached and returns the
// last assistant message as-is, including unresolved tool calls.
func Loop(ctx context.Context, a Agent) (core.Message, error) {
	return loop(ctx, a, func(msg core.Message) bool { return !msg.HasToolCalls() })
}

// UntilStopword keeps the agent working (tool rounds and plain replies)
// until a reply contains stopword or the iteration bound is hit. An empty
// stopword behaves like Default.
func UntilStopword(stopword string) Flow {
	return Func(func(ctx context.Context, a Agent, prompt string) (core.Message, error) {
		a.History().Append(core.UserMessage(prompt))
		if stopword == "" {
			return Loop(ctx, a)
		}
		return loop(ctx, a, func(msg core.Message) bool {
			return strings.Contains(msg.Content, stopword)
		})
	})
}

func loop(ctx context.Context, a Agent, done func(core.Message) bool) (core.Message, error) {
	limiter := core.NewIterationLimiter(a.Options().MaxIterations)
	logger := a.Logger()

	var last core.Message
	for {
		if err := limiter.Increment(); err != nil {
			logger.Warn("flow.iterations.exhausted",
				"agent", a.Name(),
				"max_iterations", limiter.Max(),
				"pending_tool_calls", len(last.ToolCalls),
			)
			a.Bus().Publish(notification.IterationLimitReached{Limit: limiter.Max(), Message: last})
			return last, nil
		}

		logger.Debug("flow.iteration.start", "agent", a.Name(), "iteration", limiter.Count())

		msg, err := Generate(ctx, a, true)
		if err != nil {
			return core.Message{}, err
		}
		last = msg

		if msg.HasToolCalls() {
			if _, err := CallTools(ctx, a, msg.ToolCalls); err != nil {
				return core.Message{}, err
			}
		}

		if done(msg) {
			return msg, nil
		}
	}
}

// ReplyWithoutTools is a single provider call with tools disabled.
var ReplyWithoutTools Flow = Func(func(ctx context.Context, a Agent, prompt string) (core.Message, error) {
	a.History().Append(core.UserMessage(prompt))
	return Generate(ctx, a, false)
})

// CallToolsAndReply runs one tool round and then asks for a reply with tools
// disabled. A first reply without tool calls is returned directly.
var CallToolsAndReply Flow = Func(func(ctx context.Context, a Agent, prompt string) (core.Message, error) {
	a.History().Append(core.UserMessage(prompt))

	msg, err := Generate(ctx, a, true)
	if err != nil {
		return core.Message{}, err
	}
	if !msg.HasToolCalls() {
		return msg, nil
	}

	if _, err := CallTools(ctx, a, msg.ToolCalls); err != nil {
		return core.Message{}, err
	}

	return Generate(ctx, a, false)
})

// ReplyAndCallTools makes one provider call, executes the requested tools
// and returns the first reply. Tool results stay in the history for the next
// invoke.
var ReplyAndCallTools Flow = Func(func(ctx context.Context, a Agent, prompt string) (core.Message, error) {
	a.History().Append(core.UserMessage(prompt))

	msg, err := Generate(ctx, a, true)
	if err != nil {
		return core.Message{}, err
	}
	if _, err := CallTools(ctx, a, msg.ToolCalls); err != nil {
		return core.Message{}, err
	}

	return msg, nil
})
