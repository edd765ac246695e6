// Package file implements the read_file and write_file tools.
//
// Both tools run on the host against the workspace directory, not inside the
// sandbox. Paths are resolved through workspace.Resolve before any I/O occurs.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/jkaninda/agent42/internal/tools"
	"github.com/jkaninda/agent42/internal/workspace"
)

// Config configures the file tools.
type Config struct {
	MaxFileSizeBytes int64 // Maximum file size for read/write. 0 = 10 MB default.
}

const (
	defaultMaxFileSize = 10 << 20 // 10 MB
	defaultFileMode    = 0o644
)

// Tool implements tools.Files on top of a workspace.
type Tool struct {
	ws          *workspace.Workspace
	maxFileSize int64
	logger      *slog.Logger
}

// NewTool creates the file tools for the given workspace.
func NewTool(ws *workspace.Workspace, cfg Config, logger *slog.Logger) *Tool {
	size := cfg.MaxFileSizeBytes
	if size <= 0 {
		size = defaultMaxFileSize
	}
	return &Tool{ws: ws, maxFileSize: size, logger: logger}
}

// Read returns the file content with each line prefixed by its 1-indexed number.
// Out-of-range bounds are clamped to the file's extent.
func (t *Tool) Read(ctx context.Context, p tools.ReadFileParams) (*tools.Result, error) {
	resolved, err := t.ws.Resolve(p.Path)
	if err != nil {
		return tools.ErrorResult(tools.StatusError, "Error: %v", err), nil
	}

	t.logger.InfoContext(ctx, "read_file executing", slog.String("path", resolved))

	info, err := os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return tools.ErrorResult(tools.StatusError, "Error: file not found: %s", p.Path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p.Path, err)
	}
	if info.IsDir() {
		return tools.ErrorResult(tools.StatusError, "Error: %s is a directory", p.Path), nil
	}
	if info.Size() > t.maxFileSize {
		return tools.ErrorResult(tools.StatusError, "Error: file size %d exceeds limit %d bytes", info.Size(), t.maxFileSize), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.Path, err)
	}

	lines := splitLines(string(data))
	start, end := clampRange(p.StartLine, p.EndLine, len(lines))

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i, lines[i-1])
	}
	content := strings.TrimSuffix(b.String(), "\n")
	switch {
	case len(lines) == 0:
		content = "(empty file)"
	case start > end:
		content = fmt.Sprintf("(no lines in range; file has %d lines)", len(lines))
	}

	return &tools.Result{
		Content: content,
		Status:  tools.StatusOK,
		Metadata: map[string]any{
			"path":       resolved,
			"size_bytes": info.Size(),
			"lines":      len(lines),
		},
	}, nil
}

// Write creates or replaces a file. Missing parent directories are created and
// the content is written to a temp file that is renamed over the target.
func (t *Tool) Write(ctx context.Context, p tools.WriteFileParams) (*tools.Result, error) {
	resolved, err := t.ws.Resolve(p.Path)
	if err != nil {
		return tools.ErrorResult(tools.StatusError, "Error: %v", err), nil
	}
	if int64(len(p.Content)) > t.maxFileSize {
		return tools.ErrorResult(tools.StatusError, "Error: content size %d exceeds limit %d bytes", len(p.Content), t.maxFileSize), nil
	}

	t.logger.InfoContext(ctx, "write_file executing",
		slog.String("path", resolved),
		slog.Int("content_size", len(p.Content)),
	)

	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}
	// The temp file behind atomic.WriteFile is 0600; keep an existing mode
	// and give new files 0644 so a different sandbox uid can read them.
	mode := os.FileMode(defaultFileMode)
	if info, err := os.Stat(resolved); err == nil {
		mode = info.Mode().Perm()
	}
	if err := atomic.WriteFile(resolved, bytes.NewReader([]byte(p.Content))); err != nil {
		return nil, fmt.Errorf("writing %s: %w", p.Path, err)
	}
	if err := os.Chmod(resolved, mode); err != nil {
		return nil, fmt.Errorf("setting mode of %s: %w", p.Path, err)
	}

	return &tools.Result{
		Content: fmt.Sprintf("OK: wrote %d bytes to %s", len(p.Content), p.Path),
		Status:  tools.StatusOK,
		Metadata: map[string]any{
			"path":       resolved,
			"size_bytes": len(p.Content),
		},
	}, nil
}

// splitLines splits on newlines; a trailing newline does not start a new line.
// CRLF endings are accepted.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// clampRange resolves optional 1-indexed inclusive bounds against n lines.
func clampRange(startLine, endLine *int, n int) (int, int) {
	start, end := 1, n
	if startLine != nil {
		start = *startLine
	}
	if endLine != nil {
		end = *endLine
	}
	start = max(start, 1)
	end = min(end, n)
	return start, end
}
