// Package tools defines the closed set of tools the model can call and the
// dispatcher that turns a tool call into a tool result.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind tags one of the supported tools.
type Kind int

const (
	KindBash Kind = iota + 1
	KindReadFile
	KindWriteFile
)

// Kinds lists every tool in the order it is advertised to the model.
var Kinds = []Kind{KindBash, KindReadFile, KindWriteFile}

// String returns the wire name of the tool.
func (k Kind) String() string {
	switch k {
	case KindBash:
		return "bash"
	case KindReadFile:
		return "read_file"
	case KindWriteFile:
		return "write_file"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a wire name to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// BashParams are the arguments of the bash tool.
type BashParams struct {
	Command string `json:"command"`
}

// ReadFileParams are the arguments of the read_file tool. Line bounds are 1-indexed and inclusive.
type ReadFileParams struct {
	Path      string `json:"path"`
	StartLine *int   `json:"start_line,omitempty"`
	EndLine   *int   `json:"end_line,omitempty"`
}

// WriteFileParams are the arguments of the write_file tool.
type WriteFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Shell runs bash commands, normally through a sandbox.
type Shell interface {
	Run(ctx context.Context, p BashParams) (*Result, error)
}

// Files reads and writes workspace files on the host.
type Files interface {
	Read(ctx context.Context, p ReadFileParams) (*Result, error)
	Write(ctx context.Context, p WriteFileParams) (*Result, error)
}

// Status describes how a tool execution ended.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of one tool call, ready to become a tool-role message.
type Result struct {
	ToolCallID string         `json:"tool_call_id"`
	Tool       string         `json:"tool"`
	Content    string         `json:"content"`
	IsError    bool           `json:"is_error"`
	Status     Status         `json:"status"`
	Duration   time.Duration  `json:"duration"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ErrorResult builds an is_error result with the given content.
func ErrorResult(status Status, format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true, Status: status}
}

// ValidationError reports tool arguments that do not match the tool's schema.
type ValidationError struct {
	Tool     string
	Problems []string
	Schema   string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
	if e.Schema != "" {
		msg += "; expected schema: " + e.Schema
	}
	return msg
}

// ToolExecutionError reports a failure while running a tool (I/O, sandbox).
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// DefaultMaxOutputChars caps tool output handed back to the model.
const DefaultMaxOutputChars = 30000

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return CutUTF8(s, maxBytes)
	}
	return CutUTF8(s, maxBytes-len(suffix)) + suffix
}

// CutUTF8 returns the longest prefix of s that fits in n bytes without
// splitting a rune.
func CutUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
