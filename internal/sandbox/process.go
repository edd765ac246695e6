package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
	maxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout    = 30 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	Workspace      string // Working directory shared with the file tools.
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
}

// ProcessSandbox executes commands as local OS processes rooted in the workspace.
//
// It offers resource and lifetime isolation only:
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel
//   - No environment inheritance from parent
//   - Resource limits enforced via ulimit
//   - stdout/stderr capped to prevent OOM
//
// It does not remove network access; use DockerSandbox for untrusted models.
type ProcessSandbox struct {
	workspace      string
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	limits := cfg.DefaultLimits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}

	return &ProcessSandbox{
		workspace:      cfg.Workspace,
		defaultTimeout: timeout,
		defaultLimits:  limits,
		logger:         logger,
	}
}

// Execute runs a command in its own process group inside the workspace.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// HOME and TMPDIR live in a throwaway directory; only the workspace persists.
	tmpDir, err := os.MkdirTemp("", "agent42-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	limits := s.resolveLimits(req.Limits)

	// sh -c 'ulimit ...; exec "$@"' _ cmd args...
	// The command is passed as positional parameters, never interpolated.
	memKB := limits.MaxMemoryMB * 1024
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(req.Command))
	args = append(args, "-c", shellScript, "_")
	args = append(args, req.Command...)

	cmd := exec.CommandContext(runCtx, "/bin/sh", args...)
	cmd.Dir = tmpDir
	if s.workspace != "" {
		cmd.Dir = s.workspace
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// Children that inherited the pipes must not keep Wait blocked past the kill.
	cmd.WaitDelay = time.Second
	cmd.Env = s.buildEnv(tmpDir, req.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Info("sandbox executing",
		slog.Any("command", req.Command),
		slog.String("dir", cmd.Dir),
		slog.Int("memory_limit_mb", limits.MaxMemoryMB),
		slog.Int("cpu_limit_sec", limits.MaxCPUSeconds),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		Status:   StatusCompleted,
	}

	if runErr != nil {
		if res, err := interrupted(ctx, runCtx, timeout, result); res != nil {
			s.logger.Warn("sandbox execution interrupted",
				slog.String("status", string(res.Status)),
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return res, err
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)
	return result, nil
}

// resolveLimits merges request-level overrides with sandbox defaults.
func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

// buildEnv constructs a minimal environment. The parent environment is never
// inherited so provider API keys cannot leak into commands.
func (s *ProcessSandbox) buildEnv(tmpDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	if s.workspace != "" {
		env = append(env, "WORKSPACE="+s.workspace)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is discarded but reported as written so the child never sees a short write.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > lw.remaining {
		chunk = chunk[:lw.remaining]
	}
	n, err := lw.w.Write(chunk)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
