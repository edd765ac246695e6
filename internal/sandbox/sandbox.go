// Package sandbox provides isolated execution environments for the bash tool.
// Every shell command from the model runs through a sandbox, never directly on the host.
package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned (wrapped) when a command exceeds its timeout.
	ErrTimeout = errors.New("execution timed out")
	// ErrCancelled is returned (wrapped) when the caller cancels a running command.
	ErrCancelled = errors.New("execution cancelled")
)

// Sandbox executes commands in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute (e.g. ["sh", "-c", "ls"]).
	Command []string

	// Env adds extra environment variables to the sanitized base set.
	Env map[string]string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = use sandbox defaults.
	Limits ResourceLimits
}

// ResourceLimits constrains the sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// Status describes how an execution ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// ExecutionResult captures the outcome of a sandboxed command.
// A non-zero ExitCode is a normal result, not an error.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Status   Status
}

// interrupted maps a context failure to a timeout or cancelled result.
// parent is the caller's context; run is the context carrying the timeout.
func interrupted(parent, run context.Context, timeout time.Duration, res *ExecutionResult) (*ExecutionResult, error) {
	if parent.Err() != nil {
		res.Status = StatusCancelled
		res.ExitCode = -1
		return res, ErrCancelled
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		res.Status = StatusTimeout
		res.ExitCode = -1
		return res, &timeoutError{timeout: timeout}
	}
	return nil, nil
}

type timeoutError struct {
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return "execution timed out after " + e.timeout.String()
}

func (e *timeoutError) Is(target error) bool { return target == ErrTimeout }
