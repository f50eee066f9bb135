// Package llm provides ChatAdapter implementations backed by real provider
// SDKs, each translating the provider-agnostic
// external.ChatRequest/external.ChatStream shape to one provider's API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/srs-writer/agent-engine/external"
)

type (
	// AnthropicMessagesClient captures the subset of the Anthropic SDK used
	// by the adapter, so tests can substitute a fake.
	AnthropicMessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// AnthropicOptions configures the model identifier and sampling
	// parameters.
	AnthropicOptions struct {
		DefaultModel string
		MaxTokens    int
		Temperature  float64
	}

	// AnthropicAdapter implements external.ChatAdapter on top of Anthropic
	// Claude Messages streaming.
	AnthropicAdapter struct {
		msg  AnthropicMessagesClient
		opts AnthropicOptions
	}
)

// NewAnthropicAdapter builds an adapter from an explicit Messages client.
func NewAnthropicAdapter(msg AnthropicMessagesClient, opts AnthropicOptions) (*AnthropicAdapter, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: default model identifier is required")
	}
	return &AnthropicAdapter{msg: msg, opts: opts}, nil
}

// NewAnthropicAdapterFromAPIKey constructs an adapter using the SDK's
// default HTTP client.
func NewAnthropicAdapterFromAPIKey(apiKey, defaultModel string) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicAdapter(&client.Messages, AnthropicOptions{DefaultModel: defaultModel})
}

// SendRequest implements external.ChatAdapter by translating req into a
// Messages streaming call and re-emitting its text deltas on a fragment
// channel.
func (a *AnthropicAdapter) SendRequest(ctx context.Context, req external.ChatRequest) (external.ChatStream, error) {
	params, err := a.prepareRequest(req)
	if err != nil {
		return external.ChatStream{}, err
	}

	stream := a.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return external.ChatStream{}, fmt.Errorf("llm: anthropic messages.new stream: %w", err)
	}

	fragments := make(chan string, 32)
	errc := make(chan error, 1)
	go a.pump(stream, fragments, errc)

	return external.ChatStream{Fragments: fragments, Err: errc}, nil
}

func (a *AnthropicAdapter) prepareRequest(req external.ChatRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: messages are required")
	}

	var system []sdk.TextBlockParam
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case external.ChatRoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case external.ChatRoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default: // user, tool
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	maxTokens := a.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(a.opts.DefaultModel),
	}
	if len(system) > 0 {
		params.System = system
	}
	if a.opts.Temperature > 0 {
		params.Temperature = sdk.Float(a.opts.Temperature)
	}
	if len(req.Tools) > 0 && req.ToolMode != external.ToolModeNone {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
		if req.ToolMode == external.ToolModeRequired {
			params.ToolChoice = sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
		}
	}
	return &params, nil
}

// encodeTools builds each tool's InputSchema as ExtraFields off the raw
// JSON schema map, then wraps name/description/schema with
// sdk.ToolUnionParamOfTool.
func encodeTools(descs []external.ToolDescriptor) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(descs))
	for _, d := range descs {
		raw, err := json.Marshal(d.ParametersSchema)
		if err != nil {
			return nil, fmt.Errorf("llm: encoding schema for tool %q: %w", d.Name, err)
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("llm: decoding schema for tool %q: %w", d.Name, err)
		}
		schema := sdk.ToolInputSchemaParam{ExtraFields: fields}
		u := sdk.ToolUnionParamOfTool(schema, d.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

// pump drains the SSE stream, forwarding text deltas and reassembled
// tool_use JSON as fragments, closing fragments and publishing the terminal
// error exactly once.
func (a *AnthropicAdapter) pump(stream *ssestream.Stream[sdk.MessageStreamEventUnion], fragments chan<- string, errc chan<- error) {
	defer close(fragments)

	var toolJSON strings.Builder
	var inToolUse bool

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				inToolUse = true
				toolJSON.Reset()
				fragments <- fmt.Sprintf(`{"tool_calls":[{"name":%q,"args":`, toolUse.Name)
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					fragments <- delta.Text
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON != "" {
					toolJSON.WriteString(delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if inToolUse {
				inToolUse = false
				body := toolJSON.String()
				if body == "" {
					body = "{}"
				}
				fragments <- body + "}]}"
			}
		}
	}

	errc <- stream.Err()
}
