// Package llm defines the provider-agnostic streaming interface for model interactions.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider is the abstraction over any streaming model backend (OpenAI-compatible, Anthropic).
type Provider interface {
	// StreamMessage sends a request and streams events to the channel.
	// The channel is closed by the provider when the response is complete or an error occurs.
	StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request represents a full conversation sent to the model.
type Request struct {
	Messages  []Message
	Tools     []ToolSchema // nil = no tool use
	MaxTokens int
}

// ToolSchema describes a tool the model can invoke.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Role identifies who sent a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in the conversation.
//
// ToolCalls is only set on assistant messages; ToolCallID and IsError only on tool messages.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// HasToolCalls reports whether the message requests tool execution.
func (m *Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall is a structured request emitted by the model to invoke a named tool.
// Arguments holds the raw JSON object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentsMap decodes the JSON arguments. Empty arguments decode to an empty map.
func (c ToolCall) ArgumentsMap() (map[string]any, error) {
	args := map[string]any{}
	if c.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decoding arguments of %s: %w", c.Name, err)
	}
	return args, nil
}

// SystemMessage creates a system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant message, optionally carrying tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolMessage creates the tool-role answer for one tool call.
func ToolMessage(toolCallID, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, IsError: isError}
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ProviderError is a network, auth or stream failure of a model provider.
// It is fatal to the current turn.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
