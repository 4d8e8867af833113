package config

import (
	"context"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/reagent/agent"
	"github.com/hupe1980/reagent/flow"
	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/model/anthropic"
	"github.com/hupe1980/reagent/model/openai"
	"github.com/hupe1980/reagent/session"
	"github.com/hupe1980/reagent/session/redis"
	"github.com/hupe1980/reagent/session/sqlite"
	"github.com/hupe1980/reagent/template"
)

// Build constructs the agent described by def. optFns run after the
// definition has been applied, so callers can add local tools or override
// any setting.
func Build(ctx context.Context, def *Definition, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m, err := NewModel(def.Provider)
	if err != nil {
		return nil, err
	}

	opts, err := def.AgentOptions()
	if err != nil {
		return nil, err
	}

	return agent.New(ctx, def.Name, m, append(opts, optFns...)...)
}

// NewModel creates the provider client selected by cfg.Type. Headers are
// only forwarded by the OpenAI compatible providers.
func NewModel(cfg ProviderConfig) (model.Model, error) {
	switch cfg.Type {
	case ProviderOpenAI, ProviderOllama, ProviderOpenRouter, ProviderMistral:
		return openai.NewModel(func(o *openai.Options) {
			o.Flavor = openai.Flavor(cfg.Type)
			o.Model = cfg.Model
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Headers = cfg.Headers
			if cfg.MaxRetries != nil {
				o.MaxRetries = cfg.MaxRetries
			}
		}), nil
	case ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Model)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.MaxRetries != nil {
				o.MaxRetries = cfg.MaxRetries
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidDefinition, cfg.Type)
	}
}

// AgentOptions translates the definition into agent options.
func (d *Definition) AgentOptions() ([]func(o *agent.Options), error) {
	f, err := d.Flow.build()
	if err != nil {
		return nil, err
	}

	invocation := d.invocationOptions()

	var tmpl *template.Template
	if d.Prompt.Template != "" {
		var source template.DataSource
		if len(d.Prompt.TemplateData) > 0 {
			source = template.StaticSource(d.Prompt.TemplateData)
		}
		if tmpl, err = template.New(d.Prompt.Template, source); err != nil {
			return nil, fmt.Errorf("%w: prompt.template: %v", ErrInvalidDefinition, err)
		}
	}

	opts := []func(o *agent.Options){
		func(o *agent.Options) {
			if d.Description != "" {
				o.Description = d.Description
			}
			o.SystemPrompt = agent.NewInstructionFromText(d.Prompt.SystemPrompt)
			o.Invocation = invocation
			o.Flow = f
			o.Template = tmpl
			o.StripThinking = d.Prompt.StripThinking
			o.ClearHistoryOnInvoke = d.Prompt.ClearHistoryOnInvoke
			o.MCPServers = append(o.MCPServers, d.MCPServers...)
			o.SkipFailedMCPServers = d.SkipFailedMCPServers
			o.MaxParallelTools = d.MaxParallelTools
		},
	}

	store, err := d.History.store()
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, func(o *agent.Options) {
			o.Store = store
			o.SessionKey = d.History.SessionKey
			o.AutoSave = d.History.AutoSave
			if c, ok := store.(io.Closer); ok {
				o.Closers = append(o.Closers, c)
			}
		})
	}

	if l := d.Logging.logger(); l != nil {
		opts = append(opts, agent.WithLogger(l))
	}

	return opts, nil
}

func (h HistoryConfig) store() (session.Store, error) {
	switch {
	case h.RedisURL != "":
		s, err := redis.New(func(o *redis.Options) {
			o.URL = h.RedisURL
			o.TTL = h.TTL
		})
		if err != nil {
			return nil, fmt.Errorf("%w: history.redis_url: %v", ErrInvalidDefinition, err)
		}
		return s, nil
	case h.SQLite != "":
		s, err := sqlite.New(h.SQLite)
		if err != nil {
			return nil, fmt.Errorf("%w: history.sqlite: %v", ErrInvalidDefinition, err)
		}
		return s, nil
	case h.Dir != "":
		return session.NewFileStore(h.Dir), nil
	default:
		return nil, nil
	}
}

func (d *Definition) invocationOptions() model.Options {
	inv := model.Options{
		Model:         d.Provider.Model,
		Temperature:   d.Model.Temperature,
		TopP:          d.Model.TopP,
		NumCtx:        d.Model.NumCtx,
		MaxTokens:     d.Model.MaxTokens,
		Seed:          d.Model.Seed,
		Stop:          d.Model.Stop,
		Stream:        d.Model.Stream,
		MaxIterations: agent.DefaultMaxIterations,
		Endpoint:      d.Provider.BaseURL,
	}
	if d.Flow.MaxIterations != nil {
		inv.MaxIterations = *d.Flow.MaxIterations
	}
	if rf := d.Prompt.ResponseFormat; rf != nil {
		strict := true
		if rf.Strict != nil {
			strict = *rf.Strict
		}
		inv.ResponseFormat = &model.ResponseFormat{Name: rf.Name, Schema: rf.Schema, Strict: strict}
	}
	return inv.Clone()
}

func (f FlowConfig) build() (flow.Flow, error) {
	switch f.Name {
	case "", FlowDefault:
		return flow.Default, nil
	case FlowReplyWithoutTools:
		return flow.ReplyWithoutTools, nil
	case FlowCallToolsAndReply:
		return flow.CallToolsAndReply, nil
	case FlowReplyAndCallTools:
		return flow.ReplyAndCallTools, nil
	case FlowUntilStopword:
		return flow.UntilStopword(f.Stopword), nil
	case FlowPlanAndExecute:
		return flow.PlanAndExecute(func(o *flow.PlanOptions) {
			if f.MaxSteps > 0 {
				o.MaxSteps = f.MaxSteps
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown flow %q", ErrInvalidDefinition, f.Name)
	}
}

func (l LoggingConfig) logger() logging.Logger {
	if l.Level == "" {
		return nil
	}
	level := logging.ParseLevel(l.Level)
	if l.Format == "zap" {
		return logging.NewZapLogger(level)
	}
	return logging.NewSlogLogger(level, l.Format, false)
}
