package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jkaninda/agent42/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeShell struct {
	got []BashParams
	res *Result
	err error
}

func (f *fakeShell) Run(_ context.Context, p BashParams) (*Result, error) {
	f.got = append(f.got, p)
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &Result{Content: "ran: " + p.Command}, nil
}

type fakeFiles struct {
	reads  []ReadFileParams
	writes []WriteFileParams
	err    error
}

func (f *fakeFiles) Read(_ context.Context, p ReadFileParams) (*Result, error) {
	f.reads = append(f.reads, p)
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Content: "   1 | hello"}, nil
}

func (f *fakeFiles) Write(_ context.Context, p WriteFileParams) (*Result, error) {
	f.writes = append(f.writes, p)
	return &Result{Content: "OK"}, nil
}

func newTestDispatcher(t *testing.T, sh Shell, fs Files, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(sh, fs, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v, true", k.String(), got, ok, k)
		}
	}
	if _, ok := ParseKind("rm_rf"); ok {
		t.Error("ParseKind should reject unknown names")
	}
}

func TestSchemas(t *testing.T) {
	schemas := Schemas()
	if len(schemas) != 3 {
		t.Fatalf("len(Schemas()) = %d, want 3", len(schemas))
	}
	names := []string{"bash", "read_file", "write_file"}
	for i, s := range schemas {
		if s.Name != names[i] {
			t.Errorf("schema[%d].Name = %q, want %q", i, s.Name, names[i])
		}
		if s.Description == "" || s.Parameters["type"] != "object" {
			t.Errorf("schema %q incomplete: %+v", s.Name, s)
		}
	}
}

func TestDispatch_Bash(t *testing.T) {
	sh := &fakeShell{}
	d := newTestDispatcher(t, sh, &fakeFiles{})

	res := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "bash", Arguments: `{"command":"ls /workspace"}`})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.ToolCallID != "c1" || res.Tool != "bash" {
		t.Errorf("result ids = %q/%q, want c1/bash", res.ToolCallID, res.Tool)
	}
	if res.Status != StatusOK {
		t.Errorf("status = %q, want ok", res.Status)
	}
	if len(sh.got) != 1 || sh.got[0].Command != "ls /workspace" {
		t.Errorf("shell got %+v", sh.got)
	}
}

func TestDispatch_ReadFileOptionalBounds(t *testing.T) {
	fs := &fakeFiles{}
	d := newTestDispatcher(t, &fakeShell{}, fs)

	d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "read_file", Arguments: `{"path":"a.txt","start_line":2}`})
	if len(fs.reads) != 1 {
		t.Fatalf("reads = %d, want 1", len(fs.reads))
	}
	p := fs.reads[0]
	if p.Path != "a.txt" || p.StartLine == nil || *p.StartLine != 2 || p.EndLine != nil {
		t.Errorf("read params = %+v", p)
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t, &fakeShell{}, &fakeFiles{})

	res := d.Dispatch(context.Background(), llm.ToolCall{ID: "c9", Name: "browse", Arguments: `{}`})
	if !res.IsError {
		t.Fatal("unknown tool should produce an error result")
	}
	if res.Content != "Unknown tool: browse" {
		t.Errorf("content = %q", res.Content)
	}
	if res.ToolCallID != "c9" {
		t.Errorf("ToolCallID = %q, want c9", res.ToolCallID)
	}
}

func TestDispatch_ValidationErrors(t *testing.T) {
	sh := &fakeShell{}
	fs := &fakeFiles{}
	d := newTestDispatcher(t, sh, fs)

	tests := []struct {
		name string
		call llm.ToolCall
		want string
	}{
		{"missing command", llm.ToolCall{Name: "bash", Arguments: `{}`}, "command"},
		{"wrong type", llm.ToolCall{Name: "bash", Arguments: `{"command":42}`}, "string"},
		{"empty path", llm.ToolCall{Name: "read_file", Arguments: `{"path":""}`}, "path"},
		{"bad line type", llm.ToolCall{Name: "read_file", Arguments: `{"path":"a","start_line":"one"}`}, "integer"},
		{"missing content", llm.ToolCall{Name: "write_file", Arguments: `{"path":"a"}`}, "content"},
		{"unknown field", llm.ToolCall{Name: "write_file", Arguments: `{"path":"a","content":"","mode":"x"}`}, "mode"},
		{"not json", llm.ToolCall{Name: "bash", Arguments: `{"command":`}, "not valid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), tc.call)
			if !res.IsError {
				t.Fatalf("expected error result, got %q", res.Content)
			}
			if !strings.Contains(res.Content, tc.want) {
				t.Errorf("content = %q, want it to mention %q", res.Content, tc.want)
			}
			if !strings.Contains(res.Content, "expected schema") {
				t.Errorf("content = %q, want the expected schema", res.Content)
			}
		})
	}
	if len(sh.got) != 0 || len(fs.reads) != 0 || len(fs.writes) != 0 {
		t.Error("invalid calls must not reach the tools")
	}
}

func TestDispatch_ExecutionError(t *testing.T) {
	sh := &fakeShell{err: errors.New("docker daemon unreachable")}
	d := newTestDispatcher(t, sh, &fakeFiles{})

	res := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "bash", Arguments: `{"command":"ls"}`})
	if !res.IsError || res.Status != StatusError {
		t.Fatalf("result = %+v, want error", res)
	}
	if !strings.Contains(res.Content, "bash failed: docker daemon unreachable") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestDispatch_PreservesToolStatus(t *testing.T) {
	sh := &fakeShell{res: ErrorResult(StatusTimeout, "Error: command timed out after 30s")}
	d := newTestDispatcher(t, sh, &fakeFiles{})

	res := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "bash", Arguments: `{"command":"sleep 99"}`})
	if res.Status != StatusTimeout || !res.IsError {
		t.Errorf("result = %+v, want timeout error", res)
	}
}

func TestDispatch_TruncatesOutput(t *testing.T) {
	sh := &fakeShell{res: &Result{Content: strings.Repeat("x", 500)}}
	d := newTestDispatcher(t, sh, &fakeFiles{}, WithMaxOutputChars(100))

	res := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "bash", Arguments: `{"command":"yes"}`})
	if len(res.Content) != 100 {
		t.Errorf("len(content) = %d, want 100", len(res.Content))
	}
	if !strings.HasSuffix(res.Content, "[output truncated]") {
		t.Errorf("content should end with truncation notice: %q", res.Content[80:])
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Tool: "bash", Problems: []string{"command is required"}, Schema: `{"type":"object"}`}
	want := `invalid arguments for bash: command is required; expected schema: {"type":"object"}`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTruncateOutput_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 100) // 200 bytes
	got := TruncateOutput(s, 50)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated output is not valid UTF-8: %q", got)
	}
	if len(got) > 50 {
		t.Errorf("len = %d, want <= 50", len(got))
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("missing truncation notice: %q", got)
	}
}

func TestCutUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本", 4, "日"},
		{"abc", 0, ""},
	}
	for _, tc := range tests {
		if got := CutUTF8(tc.in, tc.n); got != tc.want {
			t.Errorf("CutUTF8(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
