// Package reagent provides a high-level façade over the agent invocation
// engine. An agent turns a prompt into a reply by letting a language model
// call tools (local or discovered from MCP servers) in a bounded loop, while
// publishing progress as notifications. Most applications interact with this
// package by:
//  1. Creating a provider client (model/openai, model/anthropic)
//  2. Building an agent with NewAgent, or from a YAML definition with LoadAgent
//  3. Invoking it (Invoke, InvokeStructured, InvokeWithTemplate) while
//     optionally subscribing to its notifications
//
// The façade delegates to the agent and config packages; use them directly
// for the full option surface.
package reagent

import (
	"context"

	"github.com/hupe1980/reagent/agent"
	"github.com/hupe1980/reagent/config"
	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/model"
)

type (
	// Agent is a conversational agent backed by a language model.
	Agent = agent.Agent
	// Options configures an Agent.
	Options = agent.Options
	// Message is one conversation entry.
	Message = core.Message
)

// NewAgent builds an agent around m.
func NewAgent(ctx context.Context, name string, m model.Model, optFns ...func(o *Options)) (*Agent, error) {
	return agent.New(ctx, name, m, optFns...)
}

// LoadAgent builds the agent described by the YAML definition at path.
// optFns are applied after the definition.
func LoadAgent(ctx context.Context, path string, optFns ...func(o *Options)) (*Agent, error) {
	def, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return config.Build(ctx, def, optFns...)
}

// InvokeStructured invokes a and decodes the validated reply into T.
func InvokeStructured[T any](ctx context.Context, a *Agent, prompt string) (T, error) {
	return agent.InvokeStructured[T](ctx, a, prompt)
}
