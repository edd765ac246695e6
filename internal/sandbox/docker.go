package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/jkaninda/agent42/internal/workspace"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerImage     = "python:3.12-slim"

	containerPrefix = "agent42-sbx-"
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image          string        // Container image.
	Workspace      string        // Host directory bind-mounted at /workspace.
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit      int           // --pids-limit (prevents fork bombs).
	NetworkAllowed bool          // false = --network=none (no network stack at all).
	User           string        // --user; defaults to the host uid:gid so workspace files stay owned by the caller.
}

// DockerSandbox executes commands inside ephemeral Docker containers.
//
// Each execution gets its own container with the workspace as the only
// writable bind mount, a read-only root filesystem, all capabilities dropped,
// and no network stack unless NetworkAllowed is set.
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger
}

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	if cfg.User == "" {
		cfg.User = strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid())
	}
	return &DockerSandbox{
		config: cfg,
		logger: logger,
	}
}

// Execute runs a command inside an ephemeral container.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName, err := generateContainerName()
	if err != nil {
		return nil, fmt.Errorf("generating container name: %w", err)
	}

	memoryMB := s.config.MemoryMB
	if req.Limits.MaxMemoryMB > 0 {
		memoryMB = req.Limits.MaxMemoryMB
	}

	args := s.buildDockerArgs(containerName, memoryMB, req)
	args = append(args, req.Command...)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Info("docker sandbox executing",
		slog.String("container", containerName),
		slog.String("image", s.config.Image),
		slog.Any("command", req.Command),
		slog.Int("memory_mb", memoryMB),
		slog.Float64("cpu_cores", s.config.CPUCores),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// Killing the docker client does not stop the container; remove it
	// explicitly on every path, including timeout and cancellation.
	s.forceRemoveContainer(containerName)

	result := &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		Status:   StatusCompleted,
	}

	if runErr != nil {
		if res, err := interrupted(ctx, runCtx, timeout, result); res != nil {
			s.logger.Warn("docker sandbox interrupted",
				slog.String("container", containerName),
				slog.String("status", string(res.Status)),
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return res, err
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("docker execution failed: %w", runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	s.logger.Info("docker sandbox completed",
		slog.String("container", containerName),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)
	return result, nil
}

// buildDockerArgs constructs the docker run argument list. The command itself
// is not included; the caller appends it.
func (s *DockerSandbox) buildDockerArgs(name string, memoryMB int, req ExecutionRequest) []string {
	memoryFlag := strconv.Itoa(memoryMB) + "m"
	cpuFlag := strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64)
	pidsFlag := strconv.Itoa(s.config.PIDsLimit)

	args := []string{
		"run", "--rm",
		"--name", name,

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=" + s.config.User,

		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag, // same as memory: no swap
		"--cpus=" + cpuFlag,
		"--pids-limit=" + pidsFlag,

		"--tmpfs", "/tmp:rw,nosuid,size=64m",
		"--tmpfs", "/home/sandbox:rw,nosuid,size=64m",

		"--env", "HOME=/home/sandbox",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=C.UTF-8",
		"--env", "TERM=dumb",
		"--env", "WORKSPACE=" + workspace.MountPoint,
	}

	if s.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}

	if s.config.Workspace != "" {
		args = append(args, "--volume", s.config.Workspace+":"+workspace.MountPoint+":rw")
		args = append(args, "--workdir", workspace.MountPoint)
	} else {
		args = append(args, "--workdir", "/home/sandbox")
	}

	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}

	// Image must come after all flags, before the command.
	args = append(args, s.config.Image)
	return args
}

// forceRemoveContainer removes a container by name. Errors are logged, not returned.
func (s *DockerSandbox) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		// "No such container" is expected when --rm already cleaned up.
		if !bytes.Contains(out, []byte("No such container")) {
			s.logger.Warn("docker rm -f failed",
				slog.String("container", name),
				slog.String("error", err.Error()),
				slog.String("output", string(out)),
			)
		}
	}
}

// Ping checks that the Docker daemon answers. Used as a readiness check.
func (s *DockerSandbox) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}").CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker daemon unavailable: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// generateContainerName returns a unique container name: agent42-sbx-<16 hex chars>.
func generateContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return containerPrefix + hex.EncodeToString(b), nil
}
