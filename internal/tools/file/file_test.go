package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/agent42/internal/tools"
	"github.com/jkaninda/agent42/internal/workspace"
)

func newTestTool(t *testing.T) (*Tool, string) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return NewTool(ws, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil))), ws.Root
}

func intPtr(i int) *int { return &i }

func TestWrite_CreatesParents(t *testing.T) {
	tool, root := newTestTool(t)

	res, err := tool.Write(context.Background(), tools.WriteFileParams{Path: "a/b/c/notes.txt", Content: "hello\n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "OK: wrote 6 bytes to a/b/c/notes.txt" {
		t.Errorf("content = %q", res.Content)
	}
	data, err := os.ReadFile(filepath.Join(root, "a", "b", "c", "notes.txt"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("file content = %q, want %q", data, "hello\n")
	}
}

func TestWrite_OverwritesWithoutLeftovers(t *testing.T) {
	tool, root := newTestTool(t)
	ctx := context.Background()

	for _, content := range []string{"first version, quite long", "second"} {
		if _, err := tool.Write(ctx, tools.WriteFileParams{Path: "f.txt", Content: content}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Errorf("workspace has %d entries, want only f.txt (no temp files)", len(entries))
	}
}

func TestWrite_MountPointPath(t *testing.T) {
	tool, root := newTestTool(t)

	if _, err := tool.Write(context.Background(), tools.WriteFileParams{Path: "/workspace/src/x.go", Content: "package x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "src", "x.go")); err != nil {
		t.Errorf("file not mapped into workspace: %v", err)
	}
}

func TestWrite_OutsideWorkspace(t *testing.T) {
	tool, _ := newTestTool(t)

	res, err := tool.Write(context.Background(), tools.WriteFileParams{Path: "../../escape.txt", Content: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || res.Content != "Error: path outside workspace" {
		t.Errorf("result = %+v, want path outside workspace error", res)
	}
}

func TestRead_LineNumbers(t *testing.T) {
	tool, root := newTestTool(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("alpha\nbeta\ngamma\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Read(context.Background(), tools.ReadFileParams{Path: "f.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "   1 | alpha\n   2 | beta\n   3 | gamma"
	if res.Content != want {
		t.Errorf("content = %q, want %q", res.Content, want)
	}
}

func TestRead_ClampsBounds(t *testing.T) {
	tool, root := newTestTool(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("1\n2\n3\n4\n5"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		start, end *int
		want       string
	}{
		{"middle", intPtr(2), intPtr(3), "   2 | 2\n   3 | 3"},
		{"start below one", intPtr(-4), intPtr(1), "   1 | 1"},
		{"end past eof", intPtr(4), intPtr(100), "   4 | 4\n   5 | 5"},
		{"only start", intPtr(5), nil, "   5 | 5"},
		{"start past eof", intPtr(50), nil, "(no lines in range; file has 5 lines)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tool.Read(context.Background(), tools.ReadFileParams{Path: "f.txt", StartLine: tc.start, EndLine: tc.end})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.IsError {
				t.Fatalf("clamped read should not be an error: %s", res.Content)
			}
			if res.Content != tc.want {
				t.Errorf("content = %q, want %q", res.Content, tc.want)
			}
		})
	}
}

func TestRead_NotFound(t *testing.T) {
	tool, _ := newTestTool(t)

	res, err := tool.Read(context.Background(), tools.ReadFileParams{Path: "missing/file.txt"})
	if err != nil {
		t.Fatalf("not-found must be a result, not an error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected is_error result")
	}
	if res.Content != "Error: file not found: missing/file.txt" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRead_Directory(t *testing.T) {
	tool, root := newTestTool(t)
	if err := os.Mkdir(filepath.Join(root, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, _ := tool.Read(context.Background(), tools.ReadFileParams{Path: "dir"})
	if !res.IsError || !strings.Contains(res.Content, "is a directory") {
		t.Errorf("result = %+v, want directory error", res)
	}
}

func TestRead_EmptyFile(t *testing.T) {
	tool, root := newTestTool(t)
	if err := os.WriteFile(filepath.Join(root, "empty"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, _ := tool.Read(context.Background(), tools.ReadFileParams{Path: "empty"})
	if res.IsError || res.Content != "(empty file)" {
		t.Errorf("result = %+v", res)
	}
}

func TestWriteThenRead(t *testing.T) {
	tool, _ := newTestTool(t)
	ctx := context.Background()

	if _, err := tool.Write(ctx, tools.WriteFileParams{Path: "new/dir/main.go", Content: "package main\n\nfunc main() {}\n"}); err != nil {
		t.Fatal(err)
	}
	res, err := tool.Read(ctx, tools.ReadFileParams{Path: "/workspace/new/dir/main.go", StartLine: intPtr(3)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "   3 | func main() {}" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestWrite_FileModes(t *testing.T) {
	tool, root := newTestTool(t)
	ctx := context.Background()

	if _, err := tool.Write(ctx, tools.WriteFileParams{Path: "new.txt", Content: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o644 {
		t.Errorf("new file mode = %v, want 0644", got)
	}

	script := filepath.Join(root, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Write(ctx, tools.WriteFileParams{Path: "run.sh", Content: "#!/bin/sh\necho hi\n"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err = os.Stat(script)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o755 {
		t.Errorf("overwritten file mode = %v, want 0755", got)
	}
}

func TestRead_CRLF(t *testing.T) {
	tool, root := newTestTool(t)
	if err := os.WriteFile(filepath.Join(root, "dos.txt"), []byte("x\r\ny\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Read(context.Background(), tools.ReadFileParams{Path: "dos.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "   1 | x\n   2 | y"; res.Content != want {
		t.Errorf("content = %q, want %q", res.Content, want)
	}
}
