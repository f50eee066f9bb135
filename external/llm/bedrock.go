package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/srs-writer/agent-engine/external"
)

// BedrockRuntimeClient mirrors the subset of the AWS Bedrock runtime
// client the adapter needs. It is satisfied by *bedrockruntime.Client.
type BedrockRuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures the model identifier and sampling parameters.
type BedrockOptions struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// BedrockAdapter implements external.ChatAdapter on top of the AWS Bedrock
// Converse API.
type BedrockAdapter struct {
	runtime BedrockRuntimeClient
	opts    BedrockOptions
}

// NewBedrockAdapter builds an adapter wrapping an AWS Bedrock runtime client.
func NewBedrockAdapter(runtime BedrockRuntimeClient, opts BedrockOptions) (*BedrockAdapter, error) {
	if runtime == nil {
		return nil, errors.New("llm: bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: default model identifier is required")
	}
	return &BedrockAdapter{runtime: runtime, opts: opts}, nil
}

// SendRequest implements external.ChatAdapter via a single (non-streaming)
// Converse call, emitting its result as one fragment. The Converse API does
// not offer the fine-grained SSE the Anthropic adapter streams, so the
// whole reply is delivered as soon as it is available.
func (a *BedrockAdapter) SendRequest(ctx context.Context, req external.ChatRequest) (external.ChatStream, error) {
	input, err := a.prepareRequest(req)
	if err != nil {
		return external.ChatStream{}, err
	}

	out, err := a.runtime.Converse(ctx, input)
	if err != nil {
		return external.ChatStream{}, fmt.Errorf("llm: bedrock converse: %w", err)
	}

	text, err := translateConverseOutput(out)
	if err != nil {
		return external.ChatStream{}, err
	}

	fragments := make(chan string, 1)
	fragments <- text
	close(fragments)
	errc := make(chan error, 1)
	errc <- nil

	return external.ChatStream{Fragments: fragments, Err: errc}, nil
}

func (a *BedrockAdapter) prepareRequest(req external.ChatRequest) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: messages are required")
	}

	var system []brtypes.SystemContentBlock
	var msgs []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == external.ChatRoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == external.ChatRoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		msgs = append(msgs, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(a.opts.DefaultModel),
		Messages: msgs,
		System:   system,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: clampMaxTokens(a.opts.MaxTokens),
		},
	}
	if a.opts.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(a.opts.Temperature)
	}
	if len(req.Tools) > 0 && req.ToolMode != external.ToolModeNone {
		toolCfg, err := encodeBedrockTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolCfg
	}
	return input, nil
}

func clampMaxTokens(n int) *int32 {
	if n <= 0 {
		n = 4096
	}
	v := int32(n)
	return &v
}

func encodeBedrockTools(descs []external.ToolDescriptor) (*brtypes.ToolConfiguration, error) {
	specs := make([]brtypes.Tool, 0, len(descs))
	for _, d := range descs {
		doc, err := schemaDocument(d.ParametersSchema)
		if err != nil {
			return nil, fmt.Errorf("llm: encoding schema for tool %q: %w", d.Name, err)
		}
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: doc},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}, nil
}

func schemaDocument(schema map[string]any) (document.Interface, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return document.NewLazyDocument(raw), nil
}

// translateConverseOutput flattens a Converse response's text and tool_use
// blocks into the same tool_calls JSON fragment shape the Anthropic adapter
// emits, so the Specialist Runner's parser (specialist.ParseLLMOutput) works
// identically regardless of provider.
func translateConverseOutput(out *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("llm: bedrock converse returned no message")
	}

	var text string
	var toolCalls []map[string]any
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			text += b.Value
		case *brtypes.ContentBlockMemberToolUse:
			var args map[string]any
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err == nil {
					_ = json.Unmarshal(raw, &args)
				}
			}
			toolCalls = append(toolCalls, map[string]any{
				"name": aws.ToString(b.Value.Name),
				"args": args,
			})
		}
	}

	if len(toolCalls) == 0 {
		return text, nil
	}
	raw, err := json.Marshal(map[string]any{"tool_calls": toolCalls})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
