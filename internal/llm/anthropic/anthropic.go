// Package anthropic implements the streaming provider for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jkaninda/agent42/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 4096
)

// Client implements llm.Provider on top of anthropic-sdk-go.
type Client struct {
	model   string
	baseURL string
	api     anthropic.Client
	logger  *slog.Logger
}

// Option configures the Anthropic client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// NewClient creates an Anthropic provider.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		model:   model,
		baseURL: defaultBaseURL,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
	)
	return c
}

func (c *Client) Name() string { return "anthropic" }

// StreamMessage streams a message, mapping content blocks to text and tool-call fragments.
// The content block index is used as the tool-call fragment index.
func (c *Client) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	system, messages := convertMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  messages,
		Tools:     convertTools(req.Tools),
	}

	stream := c.api.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var usage llm.Usage
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = int(ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				events <- llm.StreamEvent{
					Type:     llm.EventToolCallDelta,
					ToolCall: &llm.ToolCallFragment{Index: int(ev.Index), ID: block.ID, Name: block.Name},
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				events <- llm.StreamEvent{Type: llm.EventTextDelta, Text: delta.Text}
			case anthropic.InputJSONDelta:
				events <- llm.StreamEvent{
					Type:     llm.EventToolCallDelta,
					ToolCall: &llm.ToolCallFragment{Index: int(ev.Index), ArgumentsDelta: delta.PartialJSON},
				}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Usage.InputTokens > 0 {
				usage.InputTokens = int(ev.Usage.InputTokens)
			}
			usage.OutputTokens = int(ev.Usage.OutputTokens)
			u := usage
			events <- llm.StreamEvent{Type: llm.EventUsage, Usage: &u}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming message: %w", err)
	}

	c.logger.DebugContext(ctx, "llm stream completed",
		slog.String("provider", "anthropic"),
		slog.String("model", c.model),
		slog.Int("input_tokens", usage.InputTokens),
		slog.Int("output_tokens", usage.OutputTokens),
	)
	events <- llm.StreamEvent{Type: llm.EventDone}
	return nil
}

// convertMessages splits out system messages and groups consecutive tool
// results into one user message, as the Messages API requires.
func convertMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam

	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case llm.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := strings.TrimSpace(m.Content); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				input := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Input: input, Name: tc.Name},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			j := i
			for j < len(msgs) && msgs[j].Role == llm.RoleTool {
				blocks = append(blocks, anthropic.NewToolResultBlock(msgs[j].ToolCallID, msgs[j].Content, msgs[j].IsError))
				j++
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
			i = j - 1
		}
	}
	return system, out
}

func convertTools(schemas []llm.ToolSchema) []anthropic.ToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, len(schemas))
	for i, s := range schemas {
		var required []string
		switch r := s.Parameters["required"].(type) {
		case []string:
			required = r
		case []any:
			for _, v := range r {
				if name, ok := v.(string); ok {
					required = append(required, name)
				}
			}
		}
		tools[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: s.Parameters["properties"],
				Required:   required,
			},
		}}
	}
	return tools
}
