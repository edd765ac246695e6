// Package shell implements the bash tool.
// All commands run through the sandbox, never directly on the host.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/agent42/internal/sandbox"
	"github.com/jkaninda/agent42/internal/tools"
)

// Tool executes bash commands inside a sandbox.
type Tool struct {
	sandbox sandbox.Sandbox
	timeout time.Duration
	logger  *slog.Logger
}

// NewTool creates a bash tool that delegates all execution to the given sandbox.
// A zero timeout uses 30s.
func NewTool(sbx sandbox.Sandbox, timeout time.Duration, logger *slog.Logger) *Tool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tool{
		sandbox: sbx,
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes the command and formats stdout and stderr for the model.
// Non-zero exits, timeouts and cancellation are reported as is_error results.
func (t *Tool) Run(ctx context.Context, p tools.BashParams) (*tools.Result, error) {
	req := sandbox.ExecutionRequest{
		// bash, not sh: on Debian-based images sh is dash. The process
		// sandbox runs this under its own ulimit wrapper.
		Command: []string{"bash", "-c", p.Command},
		Timeout: t.timeout,
	}

	t.logger.InfoContext(ctx, "bash tool executing", slog.String("command", p.Command))

	result, err := t.sandbox.Execute(ctx, req)
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return tools.ErrorResult(tools.StatusTimeout, "Error: command timed out after %s", formatSeconds(t.timeout)), nil
	case errors.Is(err, sandbox.ErrCancelled):
		return tools.ErrorResult(tools.StatusCancelled, "Error: command cancelled"), nil
	case err != nil:
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}

	output := strings.TrimSpace(combine(result.Stdout, result.Stderr))
	if output == "" {
		output = "(no output)"
	}

	res := &tools.Result{
		Content: output,
		Status:  tools.StatusOK,
		Metadata: map[string]any{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
		},
	}
	if result.ExitCode != 0 {
		res.Content = fmt.Sprintf("%s\nexit code: %d", output, result.ExitCode)
		res.IsError = true
		res.Status = tools.StatusError
	}
	return res, nil
}

func combine(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}

// formatSeconds renders 30s as "30s" and 1m30s as "90s".
func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}
