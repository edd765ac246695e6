package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider emits a fixed list of events, then returns err.
type scriptedProvider struct {
	name   string
	events []StreamEvent
	err    error
	calls  int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) StreamMessage(_ context.Context, _ *Request, events chan<- StreamEvent) error {
	defer close(events)
	p.calls++
	for _, ev := range p.events {
		events <- ev
	}
	return p.err
}

func TestAssembler_InterleavedFragments(t *testing.T) {
	asm := NewAssembler()
	for _, ev := range []StreamEvent{
		{Type: EventTextDelta, Text: "Let me "},
		{Type: EventToolCallDelta, ToolCall: &ToolCallFragment{Index: 1, ID: "b", Name: "read_file"}},
		{Type: EventToolCallDelta, ToolCall: &ToolCallFragment{Index: 0, ID: "a", Name: "bash"}},
		{Type: EventTextDelta, Text: "check."},
		{Type: EventToolCallDelta, ToolCall: &ToolCallFragment{Index: 0, ArgumentsDelta: `{"command":`}},
		{Type: EventToolCallDelta, ToolCall: &ToolCallFragment{Index: 1, ArgumentsDelta: `{"path":"a.txt"}`}},
		{Type: EventToolCallDelta, ToolCall: &ToolCallFragment{Index: 0, ArgumentsDelta: `"ls"}`}},
		{Type: EventUsage, Usage: &Usage{InputTokens: 100}},
		{Type: EventUsage, Usage: &Usage{OutputTokens: 20}},
		{Type: EventDone},
	} {
		asm.Add(ev)
	}

	msg := asm.Message()
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "Let me check.", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "a", Name: "bash", Arguments: `{"command":"ls"}`}, msg.ToolCalls[0])
	assert.Equal(t, ToolCall{ID: "b", Name: "read_file", Arguments: `{"path":"a.txt"}`}, msg.ToolCalls[1])
	assert.Equal(t, Usage{InputTokens: 100, OutputTokens: 20}, asm.Usage())
	assert.Equal(t, 120, asm.Usage().Total())
}

func TestAssembler_GeneratesMissingID(t *testing.T) {
	asm := NewAssembler()
	asm.Add(StreamEvent{Type: EventToolCallDelta, ToolCall: &ToolCallFragment{Name: "bash", ArgumentsDelta: "{}"}})
	msg := asm.Message()
	require.Len(t, msg.ToolCalls, 1)
	assert.NotEmpty(t, msg.ToolCalls[0].ID)
	assert.True(t, msg.HasToolCalls())
}

func TestToolCall_ArgumentsMap(t *testing.T) {
	args, err := ToolCall{Name: "bash", Arguments: `{"command":"ls"}`}.ArgumentsMap()
	require.NoError(t, err)
	assert.Equal(t, "ls", args["command"])

	args, err = ToolCall{Name: "bash"}.ArgumentsMap()
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = ToolCall{Name: "bash", Arguments: `{"command":`}.ArgumentsMap()
	assert.Error(t, err)
}

func TestCollect_PropagatesError(t *testing.T) {
	boom := errors.New("connection reset")
	p := &scriptedProvider{name: "p", events: []StreamEvent{{Type: EventTextDelta, Text: "partial"}}, err: boom}
	_, _, err := Collect(context.Background(), p, &Request{})
	assert.ErrorIs(t, err, boom)
}

func TestProviderError(t *testing.T) {
	inner := errors.New("401 unauthorized")
	err := error(&ProviderError{Provider: "openai", Err: inner})
	assert.EqualError(t, err, "provider openai: 401 unauthorized")
	assert.ErrorIs(t, err, inner)

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackProvider_FallsBackBeforeFirstEvent(t *testing.T) {
	first := &scriptedProvider{name: "first", err: errors.New("down")}
	second := &scriptedProvider{name: "second", events: []StreamEvent{{Type: EventTextDelta, Text: "ok"}}}
	fb := NewFallbackProvider([]Provider{first, second}, discardLogger())

	msg, _, err := Collect(context.Background(), fb, &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, "first+fallback", fb.Name())
}

func TestFallbackProvider_NoFallbackMidStream(t *testing.T) {
	boom := errors.New("stream broke")
	first := &scriptedProvider{name: "first", events: []StreamEvent{{Type: EventTextDelta, Text: "par"}}, err: boom}
	second := &scriptedProvider{name: "second"}
	fb := NewFallbackProvider([]Provider{first, second}, discardLogger())

	_, _, err := Collect(context.Background(), fb, &Request{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, second.calls)
}

func TestFallbackProvider_AllFail(t *testing.T) {
	fb := NewFallbackProvider([]Provider{
		&scriptedProvider{name: "a", err: errors.New("a down")},
		&scriptedProvider{name: "b", err: errors.New("b down")},
	}, discardLogger())

	_, _, err := Collect(context.Background(), fb, &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 providers failed")
	assert.Contains(t, err.Error(), "b down")
}

func TestSummarize(t *testing.T) {
	p := &scriptedProvider{name: "s", events: []StreamEvent{
		{Type: EventTextDelta, Text: "  Goal: fix the build"},
		{Type: EventTextDelta, Text: "\n"},
		{Type: EventDone},
	}}

	text, _, err := Summarize(context.Background(), p, []Message{UserMessage("summarize")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "Goal: fix the build", text)
}
