package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/srs-writer/agent-engine/external"
)

// OpenAIAdapter implements external.ChatAdapter over the Chat Completions
// API.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// NewOpenAIAdapter builds an adapter from an API key, optional base URL
// override, and model identifier.
func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), model: model}, nil
}

// SendRequest implements external.ChatAdapter via a single non-streaming
// Chat Completions call, emitting the whole reply as one fragment
// re-encoded the same way the Anthropic and Bedrock adapters do, so the
// Specialist Runner's parser stays provider-agnostic.
func (a *OpenAIAdapter) SendRequest(ctx context.Context, req external.ChatRequest) (external.ChatStream, error) {
	params, err := a.prepareRequest(req)
	if err != nil {
		return external.ChatStream{}, err
	}

	resp, err := a.client.Chat.Completions.New(ctx, *params)
	if err != nil {
		return external.ChatStream{}, fmt.Errorf("llm: openai chat completions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return external.ChatStream{}, errors.New("llm: openai returned no choices")
	}

	text, err := translateChatCompletion(resp.Choices[0])
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

func (a *OpenAIAdapter) prepareRequest(req external.ChatRequest) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case external.ChatRoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case external.ChatRoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case external.ChatRoleTool:
			messages = append(messages, openai.UserMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := &openai.ChatCompletionNewParams{
		Model:               a.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(4096),
	}
	if len(req.Tools) > 0 && req.ToolMode != external.ToolModeNone {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return params, nil
}

func convertTools(descs []external.ToolDescriptor) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, len(descs))
	for i, d := range descs {
		var params shared.FunctionParameters
		if d.ParametersSchema != nil {
			data, err := json.Marshal(d.ParametersSchema)
			if err != nil {
				return nil, fmt.Errorf("llm: encoding schema for tool %q: %w", d.Name, err)
			}
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("llm: decoding schema for tool %q: %w", d.Name, err)
			}
		}
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		}
	}
	return out, nil
}

// translateChatCompletion re-encodes an OpenAI choice's tool calls into the
// same tool_calls JSON fragment shape the Anthropic and Bedrock adapters
// emit (specialist.ParseLLMOutput is provider-agnostic).
func translateChatCompletion(choice openai.ChatCompletionChoice) (string, error) {
	if len(choice.Message.ToolCalls) == 0 {
		return choice.Message.Content, nil
	}

	toolCalls := make([]map[string]any, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		toolCalls = append(toolCalls, map[string]any{"name": tc.Function.Name, "args": args})
	}
	raw, err := json.Marshal(map[string]any{"tool_calls": toolCalls})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
