package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/agent42/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sseEvent struct {
	name string
	data string
}

func sseServer(t *testing.T, captured *map[string]any, events ...sseEvent) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
}

const messageStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`

func TestStreamMessage_Text(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, &body,
		sseEvent{"message_start", messageStart},
		sseEvent{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		sseEvent{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
		sseEvent{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`},
		sseEvent{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		sseEvent{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":7}}`},
		sseEvent{"message_stop", `{"type":"message_stop"}`},
	)
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-20250514", discardLogger(), WithBaseURL(srv.URL))
	msg, usage, err := llm.Collect(context.Background(), client, &llm.Request{
		Messages: []llm.Message{llm.SystemMessage("You are helpful."), llm.UserMessage("Hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", msg.Content)
	assert.Equal(t, 12, usage.InputTokens)
	assert.Equal(t, 7, usage.OutputTokens)

	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "You are helpful.", system[0].(map[string]any)["text"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestStreamMessage_ToolUse(t *testing.T) {
	srv := sseServer(t, nil,
		sseEvent{"message_start", messageStart},
		sseEvent{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		sseEvent{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Listing."}}`},
		sseEvent{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		sseEvent{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"bash","input":{}}}`},
		sseEvent{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"command\": "}}`},
		sseEvent{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"ls /workspace\"}"}}`},
		sseEvent{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		sseEvent{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}`},
		sseEvent{"message_stop", `{"type":"message_stop"}`},
	)
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-20250514", discardLogger(), WithBaseURL(srv.URL))
	msg, _, err := llm.Collect(context.Background(), client, &llm.Request{
		Messages: []llm.Message{llm.UserMessage("list files")},
		Tools: []llm.ToolSchema{{
			Name:        "bash",
			Description: "Execute a bash command.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"command": map[string]any{"type": "string"}},
				"required":   []string{"command"},
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Listing.", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "bash", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"ls /workspace"}`, msg.ToolCalls[0].Arguments)
}

func TestConvertMessages_GroupsToolResults(t *testing.T) {
	system, msgs := convertMessages([]llm.Message{
		llm.SystemMessage("sys"),
		llm.UserMessage("do two things"),
		llm.AssistantMessage("",
			llm.ToolCall{ID: "a", Name: "bash", Arguments: `{"command":"ls"}`},
			llm.ToolCall{ID: "b", Name: "read_file", Arguments: `{"path":"x"}`},
		),
		llm.ToolMessage("a", "out", false),
		llm.ToolMessage("b", "missing", true),
		llm.AssistantMessage("done"),
	})

	require.Len(t, system, 1)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, "user", string(msgs[2].Role))
	assert.Len(t, msgs[2].Content, 2)
	assert.Equal(t, "assistant", string(msgs[3].Role))
}

func TestConvertTools(t *testing.T) {
	tools := convertTools([]llm.ToolSchema{{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path", "content"},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "write_file", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path", "content"}, tools[0].OfTool.InputSchema.Required)

	assert.Nil(t, convertTools(nil))
}
