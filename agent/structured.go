package agent

import (
	"context"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/schema"
)

// InvokeStructured invokes a and decodes the reply into T.
//
// The reply is validated against the agent's response format. An agent
// built without one validates against the schema derived from T instead
// (locally only; nothing is sent to the provider). A non-conforming reply
// yields a *core.StructuredOutputError, a conforming reply that cannot
// populate T a *core.DeserializationError, both with the zero value.
func InvokeStructured[T any](ctx context.Context, a *Agent, prompt string) (T, error) {
	return invokeStructured[T](ctx, a, staticPrompt(prompt))
}

// InvokeWithTemplate renders the agent template with data and invokes the
// agent with the result. Caller data overrides values of the template's
// data source.
func (a *Agent) InvokeWithTemplate(ctx context.Context, data map[string]any) (core.Message, error) {
	return a.invoke(ctx, a.templatePrompt(data), nil)
}

// InvokeWithTemplateStructured combines InvokeWithTemplate and
// InvokeStructured.
func InvokeWithTemplateStructured[T any](ctx context.Context, a *Agent, data map[string]any) (T, error) {
	return invokeStructured[T](ctx, a, a.templatePrompt(data))
}

func (a *Agent) templatePrompt(data map[string]any) promptFunc {
	return func(ctx context.Context) (string, error) {
		if a.opts.Template == nil {
			return "", ErrNoTemplate
		}
		return a.opts.Template.Compile(ctx, data)
	}
}

func invokeStructured[T any](ctx context.Context, a *Agent, render promptFunc) (T, error) {
	var zero T

	v := a.validator
	if v == nil {
		s, err := schema.For[T]()
		if err != nil {
			return zero, err
		}
		if v, err = schema.Compile(s); err != nil {
			return zero, err
		}
	}

	var out T
	_, err := a.invoke(ctx, render, func(msg core.Message) error {
		decoded, err := schema.Parse[T](v, msg.Content)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		return zero, err
	}

	return out, nil
}
