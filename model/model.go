package model

import (
	"context"
	"errors"

	"github.com/hupe1980/reagent/core"
)

// ResponseFormat asks the provider for JSON output matching Schema.
type ResponseFormat struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Schema      map[string]any `json:"schema" yaml:"schema"`
	Strict      bool           `json:"strict,omitempty" yaml:"strict"`
}

// Options is the invocation options snapshot copied into every request.
// Nil pointers leave the provider default in place. The engine performs no
// provider specific validation.
type Options struct {
	Model          string          `json:"model,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	NumCtx         *int            `json:"num_ctx,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Seed           *int64          `json:"seed,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	MaxIterations  int             `json:"max_iterations,omitempty"`
	Endpoint       string          `json:"endpoint,omitempty"`
}

// Clone returns a deep copy so request mutations never leak into the agent's
// snapshot.
func (o Options) Clone() Options {
	cp := o
	if o.Temperature != nil {
		v := *o.Temperature
		cp.Temperature = &v
	}
	if o.TopP != nil {
		v := *o.TopP
		cp.TopP = &v
	}
	if o.NumCtx != nil {
		v := *o.NumCtx
		cp.NumCtx = &v
	}
	if o.MaxTokens != nil {
		v := *o.MaxTokens
		cp.MaxTokens = &v
	}
	if o.Seed != nil {
		v := *o.Seed
		cp.Seed = &v
	}
	if o.Stop != nil {
		cp.Stop = append([]string(nil), o.Stop...)
	}
	if o.ResponseFormat != nil {
		rf := *o.ResponseFormat
		cp.ResponseFormat = &rf
	}
	return cp
}

// Request captures the normalized model input produced by flows.
type Request struct {
	Messages []core.Message        `json:"messages"`
	Tools    []core.ToolDefinition `json:"tools,omitempty"`
	Options  Options               `json:"options"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial token fragment or the final assembled message.
// A well behaved provider emits zero or more partial responses followed by
// exactly one final response.
type Response struct {
	ID           string       `json:"id,omitempty"`
	Partial      bool         `json:"partial"`
	Delta        string       `json:"delta,omitempty"`   // token fragment (partial only)
	Message      core.Message `json:"message,omitempty"` // assembled reply (final only)
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "ollama", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the provider client contract consumed by flows.
//
// Generate must close both channels when done. Errors are sent on the error
// channel and should be *core.ProviderError values so callers can tell
// transport, auth and model failures apart.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate call, forwarding token fragments to onDelta in
// emission order, and returns the final response. Any failure is returned as
// a *core.ProviderError (context cancellation is returned unchanged).
func Collect(ctx context.Context, m Model, req Request, onDelta func(delta string)) (Response, error) {
	provider := m.Info().Provider
	respCh, errCh := m.Generate(ctx, req)

	var (
		final    Response
		hasFinal bool
	)

	// Unblock the provider goroutine when returning early.
	defer func() {
		if respCh != nil {
			go func(ch <-chan Response) {
				for range ch {
				}
			}(respCh)
		}
	}()

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				if onDelta != nil && r.Delta != "" {
					onDelta(r.Delta)
				}
				continue
			}
			if hasFinal {
				return Response{}, core.NewProviderError(provider, core.ProviderErrorProtocol, errors.New("more than one final response"))
			}
			final, hasFinal = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, asProviderError(provider, err)
			}
		}
	}

	if !hasFinal {
		return Response{}, core.NewProviderError(provider, core.ProviderErrorProtocol, core.ErrEmptyResponse)
	}

	final.Message.Role = core.RoleAssistant

	return final, nil
}

func asProviderError(provider string, err error) error {
	var pe *core.ProviderError
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewProviderError(provider, core.ProviderErrorModel, err)
}
