// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including streaming + function/tool calling). Any
// OpenAI compatible endpoint is supported through flavors: openai, ollama,
// openrouter and mistral differ only in base URL and a few request extras.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/model"
)

// Flavor selects an OpenAI compatible backend.
type Flavor string

const (
	// FlavorOpenAI targets api.openai.com.
	FlavorOpenAI Flavor = "openai"
	// FlavorOllama targets a local Ollama server's OpenAI compatible API.
	FlavorOllama Flavor = "ollama"
	// FlavorOpenRouter targets openrouter.ai.
	FlavorOpenRouter Flavor = "openrouter"
	// FlavorMistral targets api.mistral.ai.
	FlavorMistral Flavor = "mistral"
)

// DefaultBaseURL returns the base URL used when none is configured. An empty
// result means the SDK default.
func (f Flavor) DefaultBaseURL() string {
	switch f {
	case FlavorOllama:
		return "http://localhost:11434/v1"
	case FlavorOpenRouter:
		return "https://openrouter.ai/api/v1"
	case FlavorMistral:
		return "https://api.mistral.ai/v1"
	default:
		return ""
	}
}

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete function calls once the stream ends.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter. Per request model.Options take
// precedence over the defaults configured here.
type Options struct {
	Flavor              Flavor
	Model               string
	APIKey              string
	BaseURL             string
	Temperature         *float64
	MaxCompletionTokens int64
	MaxRetries          *int
	HTTPClient          *http.Client
	Headers             map[string]string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client. Credentials
// fall back to the SDK environment lookup (OPENAI_API_KEY) when APIKey is empty.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var reqOpts []option.RequestOption

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = opts.Flavor.DefaultBaseURL()
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	apiKey := opts.APIKey
	if apiKey == "" && opts.Flavor == FlavorOllama {
		apiKey = "ollama"
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}

	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.MaxRetries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*opts.MaxRetries))
	}
	for k, v := range opts.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}

	client := openai.NewClient(reqOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Flavor:              FlavorOpenAI,
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
	}
}

// Generate implements unified streaming / non-streaming generation.
// It adapts OpenAI Chat Completions (with function/tool calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, buildMessages(req.Messages))
		reqOpts := m.requestOptions(req.Options)
		if req.Options.Stream {
			m.handleStreaming(ctx, params, reqOpts, out, errCh)
			return
		}
		m.handleNonStreaming(ctx, params, reqOpts, out, errCh)
	}()
	return out, errCh
}

// buildMessages converts history messages into OpenAI chat messages. Tool
// messages keep their position directly after the assistant turn that
// requested them.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case core.RoleAssistant:
			if !msg.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: extractToolCalls(msg),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		default:
			if msg.Content != "" {
				messages = append(messages, openai.UserMessage(msg.Content))
			}
		}
	}
	return messages
}

// extractToolCalls converts tool calls into OpenAI formatted tool calls.
func extractToolCalls(msg core.Message) []openai.ChatCompletionMessageToolCallParam {
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args := string(tc.Arguments)
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return toolCalls
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	o := req.Options

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    m.opts.Model,
	}
	if o.Model != "" {
		params.Model = o.Model
	}

	switch {
	case o.Temperature != nil:
		params.Temperature = openai.Float(*o.Temperature)
	case m.opts.Temperature != nil:
		params.Temperature = openai.Float(*m.opts.Temperature)
	}

	switch {
	case o.MaxTokens != nil:
		params.MaxCompletionTokens = openai.Int(int64(*o.MaxTokens))
	case m.opts.MaxCompletionTokens > 0:
		params.MaxCompletionTokens = openai.Int(m.opts.MaxCompletionTokens)
	}

	if o.TopP != nil {
		params.TopP = openai.Float(*o.TopP)
	}
	if o.Seed != nil {
		params.Seed = openai.Int(*o.Seed)
	}
	if len(o.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: o.Stop}
	}
	if o.Stream && m.opts.Flavor == FlavorOpenAI {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	if rf := o.ResponseFormat; rf != nil {
		name := rf.Name
		if name == "" {
			name = "response"
		}
		jsonSchema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   name,
			Schema: rf.Schema,
			Strict: openai.Bool(rf.Strict),
		}
		if rf.Description != "" {
			jsonSchema.Description = openai.String(rf.Description)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: jsonSchema},
		}
	}

	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// requestOptions maps options the typed params cannot express.
func (m *Model) requestOptions(o model.Options) []option.RequestOption {
	var reqOpts []option.RequestOption
	if o.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.Endpoint))
	}
	if o.NumCtx != nil && m.opts.Flavor == FlavorOllama {
		reqOpts = append(reqOpts, option.WithJSONSet("options", map[string]any{"num_ctx": *o.NumCtx}))
	}
	return reqOpts
}

// handleStreaming processes streaming responses and forwards partial / final events.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	reqOpts []option.RequestOption,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
	defer stream.Close()

	var (
		textBuilder  strings.Builder
		toolAgg      = map[int64]*aggCall{}
		id           string
		finishReason string
		usage        *model.TokenUsage
	)

	for stream.Next() {
		ck := stream.Current()
		if id == "" {
			id = ck.ID
		}
		if ck.Usage.TotalTokens > 0 {
			usage = convertUsage(ck.Usage)
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				textBuilder.WriteString(ch.Delta.Content)
				if !send(ctx, out, model.Response{Partial: true, Delta: ch.Delta.Content}) {
					errCh <- ctx.Err()
					return
				}
			}
			aggregateToolCallDeltas(ch, toolAgg)
			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- m.classify(fmt.Errorf("openai streaming error: %w", err))
		return
	}

	msg := core.AssistantMessage(textBuilder.String(), assembleToolCalls(toolAgg)...)
	if !send(ctx, out, model.Response{ID: id, Message: msg, FinishReason: finishReason, Usage: usage}) {
		errCh <- ctx.Err()
	}
}

func aggregateToolCallDeltas(ch openai.ChatCompletionChunkChoice, agg map[int64]*aggCall) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{}
			agg[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			ac.args += tc.Function.Arguments
		}
	}
}

// assembleToolCalls orders aggregated calls by stream index.
func assembleToolCalls(agg map[int64]*aggCall) []core.ToolCall {
	if len(agg) == 0 {
		return nil
	}
	indexes := make([]int64, 0, len(agg))
	for idx := range agg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	calls := make([]core.ToolCall, 0, len(agg))
	for _, idx := range indexes {
		ac := agg[idx]
		calls = append(calls, toolCall(ac.id, ac.name, ac.args))
	}
	return calls
}

func toolCall(id, name, args string) core.ToolCall {
	if id == "" {
		id = core.NewID()
	}
	var raw json.RawMessage
	if strings.TrimSpace(args) != "" {
		raw = json.RawMessage(args)
	}
	return core.ToolCall{ID: id, Name: name, Arguments: raw}
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (m *Model) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	reqOpts []option.RequestOption,
	out chan<- model.Response,
	errCh chan<- error,
) {
	resp, err := m.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		errCh <- m.classify(fmt.Errorf("openai api error: %w", err))
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- core.NewProviderError(string(m.opts.Flavor), core.ProviderErrorProtocol, errors.New("no choices returned"))
		return
	}
	ch0 := resp.Choices[0]

	calls := make([]core.ToolCall, 0, len(ch0.Message.ToolCalls))
	for _, tc := range ch0.Message.ToolCalls {
		calls = append(calls, toolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	if !send(ctx, out, model.Response{
		ID:           resp.ID,
		Message:      core.AssistantMessage(ch0.Message.Content, calls...),
		FinishReason: ch0.FinishReason,
		Usage:        convertUsage(resp.Usage),
	}) {
		errCh <- ctx.Err()
	}
}

// classify maps SDK errors onto the provider error taxonomy.
func (m *Model) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return core.NewProviderError(string(m.opts.Flavor), core.ClassifyStatus(apiErr.StatusCode), err)
	}
	return core.NewProviderError(string(m.opts.Flavor), core.ProviderErrorTransport, err)
}

func convertUsage(u openai.CompletionUsage) *model.TokenUsage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      string(m.opts.Flavor),
		SupportsTools: true,
	}
}
