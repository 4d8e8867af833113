package flow

import (
	"context"

	"github.com/hupe1980/reagent/internal/util"
	"github.com/hupe1980/reagent/model"
)

// RequestProcessor processes the request before it is sent to the provider.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request in place.
	ProcessRequest(ctx context.Context, a Agent, req *model.Request) error
}

// ResponseProcessor processes the final provider response.
type ResponseProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessResponse modifies the response in place before it is recorded.
	ProcessResponse(ctx context.Context, a Agent, resp *model.Response) error
}

// StripThinkingProcessor removes <think> blocks from assistant replies.
type StripThinkingProcessor struct{}

// NewStripThinkingProcessor creates a new strip thinking processor.
func NewStripThinkingProcessor() *StripThinkingProcessor { return &StripThinkingProcessor{} }

// Name returns the processor's identifier.
func (p *StripThinkingProcessor) Name() string { return "strip_thinking" }

// ProcessResponse strips reasoning blocks from the reply content.
func (p *StripThinkingProcessor) ProcessResponse(_ context.Context, a Agent, resp *model.Response) error {
	before := len(resp.Message.Content)
	resp.Message.Content = util.StripThinking(resp.Message.Content)

	if removed := before - len(resp.Message.Content); removed > 0 {
		a.Logger().Debug("flow.thinking.stripped", "agent", a.Name(), "removed_bytes", removed)
	}

	return nil
}

// ToolFilterProcessor limits the tool declarations sent to the provider to
// an allowlist. Dispatch is not affected.
type ToolFilterProcessor struct {
	allowed map[string]struct{}
}

// NewToolFilterProcessor creates a processor exposing only the named tools.
func NewToolFilterProcessor(names ...string) *ToolFilterProcessor {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return &ToolFilterProcessor{allowed: allowed}
}

// Name returns the processor's identifier.
func (p *ToolFilterProcessor) Name() string { return "tool_filter" }

// ProcessRequest drops tool declarations that are not allowlisted.
func (p *ToolFilterProcessor) ProcessRequest(_ context.Context, _ Agent, req *model.Request) error {
	if len(req.Tools) == 0 {
		return nil
	}
	kept := req.Tools[:0:0]
	for _, def := range req.Tools {
		if _, ok := p.allowed[def.Name]; ok {
			kept = append(kept, def)
		}
	}
	req.Tools = kept
	return nil
}
