// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/model"
)

const providerName = "anthropic"

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Per request model.Options take precedence.
type Options struct {
	Model       anthropic.Model
	Temperature *float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	MaxRetries  *int
	HTTPClient  *http.Client
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.MaxRetries != nil {
		clientOpts = append(clientOpts, option.WithMaxRetries(*opts.MaxRetries))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

func defaultOptions() Options {
	return Options{
		Model:     anthropic.ModelClaudeSonnet4_0,
		MaxTokens: 4096,
	}
}

// Generate implements unified streaming / non-streaming generation.
// It adapts Anthropic Messages API (with function/tool calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)

		var reqOpts []option.RequestOption
		if req.Options.Endpoint != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(req.Options.Endpoint))
		}

		if req.Options.Stream {
			m.handleStreaming(ctx, params, reqOpts, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params, reqOpts...)
		if err != nil {
			errCh <- classify(fmt.Errorf("anthropic api error: %w", err))
			return
		}

		send(ctx, out, errCh, toResponse(resp))
	}()

	return out, errCh
}

func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	reqOpts []option.RequestOption,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params, reqOpts...)
	defer stream.Close()

	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			errCh <- core.NewProviderError(providerName, core.ProviderErrorProtocol, err)
			return
		}

		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- model.Response{Partial: true, Delta: text.Text}:
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- classify(fmt.Errorf("anthropic streaming error: %w", err))
		return
	}

	send(ctx, out, errCh, toResponse(&acc))
}

func send(ctx context.Context, out chan<- model.Response, errCh chan<- error, r model.Response) {
	select {
	case <-ctx.Done():
		errCh <- ctx.Err()
	case out <- r:
	}
}

// toResponse converts a complete Anthropic message into the final response.
func toResponse(resp *anthropic.Message) model.Response {
	var (
		text  string
		calls []core.ToolCall
	)

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			var args json.RawMessage
			if len(block.Input) > 0 && string(block.Input) != "null" {
				args = append(json.RawMessage(nil), block.Input...)
			}
			id := block.ID
			if id == "" {
				id = core.NewID()
			}
			calls = append(calls, core.ToolCall{ID: id, Name: block.Name, Arguments: args})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	var usage *model.TokenUsage
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		usage = &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}

	return model.Response{
		ID:           resp.ID,
		Message:      core.AssistantMessage(text, calls...),
		FinishReason: finishReason,
		Usage:        usage,
	}
}

// buildParams assembles the message request. Per request options override
// adapter defaults.
func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	o := req.Options

	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		Messages:  buildMessages(req.Messages),
		MaxTokens: m.opts.MaxTokens,
	}
	if o.Model != "" {
		params.Model = anthropic.Model(o.Model)
	}
	if o.MaxTokens != nil {
		params.MaxTokens = int64(*o.MaxTokens)
	}

	switch {
	case o.Temperature != nil:
		params.Temperature = anthropic.Float(*o.Temperature)
	case m.opts.Temperature != nil:
		params.Temperature = anthropic.Float(*m.opts.Temperature)
	}
	if o.TopP != nil {
		params.TopP = anthropic.Float(*o.TopP)
	}
	if len(o.Stop) > 0 {
		params.StopSequences = append([]string(nil), o.Stop...)
	}

	system := extractSystemMessage(req.Messages)
	if rf := o.ResponseFormat; rf != nil {
		system = append(system, anthropic.TextBlockParam{Text: responseFormatInstruction(rf)})
	}
	if len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params
}

// responseFormatInstruction renders the schema as a system instruction; the
// Messages API has no native JSON schema response format.
func responseFormatInstruction(rf *model.ResponseFormat) string {
	schema, err := json.Marshal(rf.Schema)
	if err != nil {
		schema = []byte("{}")
	}
	return fmt.Sprintf("Respond only with a JSON document (no prose, no code fences) that conforms to this JSON schema:\n%s", schema)
}

// buildMessages converts history messages to Anthropic message format.
// Tool results travel in user turns; consecutive tool messages are merged
// into one user turn answering the preceding tool_use blocks.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		messages = append(messages, anthropic.NewUserMessage(pendingResults...))
		pendingResults = nil
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case core.RoleAssistant:
			flushResults()
			content := buildAssistantContent(msg)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		default:
			flushResults()
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flushResults()

	return messages
}

// extractSystemMessage extracts system message blocks
func extractSystemMessage(msgs []core.Message) []anthropic.TextBlockParam {
	var systemBlocks []anthropic.TextBlockParam

	for _, msg := range msgs {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}

	return systemBlocks
}

// buildAssistantContent builds content for assistant messages
func buildAssistantContent(msg core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	if msg.Content != "" {
		content = append(content, anthropic.NewTextBlock(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		args, err := tc.ArgumentsMap()
		if err != nil {
			args = map[string]any{}
		}
		content = append(content, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
	}

	return content
}

// buildTools converts tool definitions to Anthropic tool format
func buildTools(tools []core.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := params["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}

		param := anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if tool.Description != "" {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		anthropicTools[i] = param
	}

	return anthropicTools
}

// classify maps SDK errors onto the provider error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return core.NewProviderError(providerName, core.ClassifyStatus(apiErr.StatusCode), err)
	}
	return core.NewProviderError(providerName, core.ProviderErrorTransport, err)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      providerName,
		SupportsTools: true,
	}
}
