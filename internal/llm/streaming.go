package llm

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// EventType classifies a StreamEvent.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolCallDelta EventType = "tool_call_delta"
	EventUsage         EventType = "usage"
	EventDone          EventType = "done"
)

// StreamEvent represents a single event in a streaming model response.
type StreamEvent struct {
	Type     EventType
	Text     string            // EventTextDelta
	ToolCall *ToolCallFragment // EventToolCallDelta
	Usage    *Usage            // EventUsage
}

// ToolCallFragment is a piece of a tool call. Fragments sharing an Index belong
// to the same call; ID and Name usually arrive on the first fragment only.
type ToolCallFragment struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// Assembler accumulates stream events into one assistant message.
type Assembler struct {
	text  strings.Builder
	calls map[int]*ToolCall
	args  map[int]*strings.Builder
	usage Usage
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		calls: make(map[int]*ToolCall),
		args:  make(map[int]*strings.Builder),
	}
}

// Add folds one event into the assembled response.
func (a *Assembler) Add(ev StreamEvent) {
	switch ev.Type {
	case EventTextDelta:
		a.text.WriteString(ev.Text)
	case EventToolCallDelta:
		if ev.ToolCall == nil {
			return
		}
		f := ev.ToolCall
		call, ok := a.calls[f.Index]
		if !ok {
			call = &ToolCall{}
			a.calls[f.Index] = call
			a.args[f.Index] = &strings.Builder{}
		}
		if f.ID != "" {
			call.ID = f.ID
		}
		if f.Name != "" {
			call.Name = f.Name
		}
		a.args[f.Index].WriteString(f.ArgumentsDelta)
	case EventUsage:
		if ev.Usage != nil {
			if ev.Usage.InputTokens > 0 {
				a.usage.InputTokens = ev.Usage.InputTokens
			}
			if ev.Usage.OutputTokens > 0 {
				a.usage.OutputTokens = ev.Usage.OutputTokens
			}
		}
	}
}

// Message returns the assembled assistant message. Tool calls are ordered by
// their stream index; calls without an ID get a generated one.
func (a *Assembler) Message() Message {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var calls []ToolCall
	for _, i := range indexes {
		call := *a.calls[i]
		call.Arguments = strings.TrimSpace(a.args[i].String())
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		calls = append(calls, call)
	}
	return AssistantMessage(a.text.String(), calls...)
}

// Usage returns the last usage reported by the stream.
func (a *Assembler) Usage() Usage {
	return a.usage
}

// Collect streams a request to completion and returns the assembled message.
func Collect(ctx context.Context, p Provider, req *Request) (Message, Usage, error) {
	events := make(chan StreamEvent)
	asm := NewAssembler()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.StreamMessage(gctx, req, events)
	})
	g.Go(func() error {
		for ev := range events {
			asm.Add(ev)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Message{}, Usage{}, err
	}
	return asm.Message(), asm.Usage(), nil
}

// Summarize sends messages without tools and returns the trimmed text answer.
func Summarize(ctx context.Context, p Provider, messages []Message, maxTokens int) (string, Usage, error) {
	msg, usage, err := Collect(ctx, p, &Request{Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(msg.Content), usage, nil
}
