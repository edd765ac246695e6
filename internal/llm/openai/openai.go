// Package openai implements the streaming provider for the OpenAI Chat Completions API.
// It also serves any OpenAI-compatible endpoint (e.g. z.ai) through WithBaseURL and WithName.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jkaninda/agent42/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultMaxTokens = 4096
)

// Client implements llm.Provider on top of openai-go.
type Client struct {
	model   string
	baseURL string
	name    string
	api     openai.Client
	logger  *slog.Logger
}

// Option configures the OpenAI client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (including the /v1 prefix).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithName overrides the provider name (e.g. "zai").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient creates an OpenAI-compatible provider.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		model:   model,
		baseURL: defaultBaseURL,
		name:    "openai",
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Retries are left to the caller: a failed stream is surfaced, not replayed.
	c.api = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
	)
	return c
}

func (c *Client) Name() string { return c.name }

// StreamMessage streams a chat completion, translating chunks into llm.StreamEvents.
func (c *Client) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)

	stream := c.api.Chat.Completions.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	var usage llm.Usage
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				events <- llm.StreamEvent{Type: llm.EventTextDelta, Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				events <- llm.StreamEvent{
					Type: llm.EventToolCallDelta,
					ToolCall: &llm.ToolCallFragment{
						Index:          int(tc.Index),
						ID:             tc.ID,
						Name:           tc.Function.Name,
						ArgumentsDelta: tc.Function.Arguments,
					},
				}
			}
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = llm.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
			events <- llm.StreamEvent{Type: llm.EventUsage, Usage: &usage}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming chat completion: %w", err)
	}

	c.logger.DebugContext(ctx, "llm stream completed",
		slog.String("provider", c.name),
		slog.String("model", c.model),
		slog.Int("input_tokens", usage.InputTokens),
		slog.Int("output_tokens", usage.OutputTokens),
	)
	events <- llm.StreamEvent{Type: llm.EventDone}
	return nil
}

func (c *Client) buildParams(req *llm.Request) openai.ChatCompletionNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	params.MaxTokens = openai.Int(int64(maxTokens))

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			})
		}
		params.Tools = tools
	}
	return params
}

func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case llm.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = param.NewOpt(m.Content)
			}
			if len(m.ToolCalls) > 0 {
				calls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					args := tc.Arguments
					if args == "" {
						args = "{}"
					}
					calls[i] = openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: args,
							},
						},
					}
				}
				assistant.ToolCalls = calls
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.RoleTool:
			tool := openai.ChatCompletionToolMessageParam{ToolCallID: m.ToolCallID}
			tool.Content.OfString = param.NewOpt(m.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &tool})
		}
	}
	return out
}
