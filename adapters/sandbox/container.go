package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

// runtimeErrorExit is the exit code podman and docker use when the run
// itself failed (image pull, bad flags) as opposed to the workload. The CLI
// passes the workload's own exit code through, so a workload exiting 125 is
// indistinguishable and is also reported as a launch failure.
const runtimeErrorExit = 125

// ContainerSandbox runs the workload in a throwaway OCI container through
// the podman or docker CLI.
type ContainerSandbox struct {
	// Runtime is the CLI binary, "podman" or "docker"
	Runtime string

	MaxStdout int
	MaxStderr int
	Logger    *slog.Logger
}

var _ ports.Sandbox = (*ContainerSandbox)(nil)

// Launch starts a container named spec.Name from spec.Image
func (s *ContainerSandbox) Launch(ctx context.Context, spec core.LaunchSpec) (ports.Execution, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	path, err := exec.LookPath(s.runtime())
	if err != nil {
		return nil, fmt.Errorf("container runtime not found: %w", err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(path, s.Args(spec)...)
	cmd.Env = runtimeEnv()

	e, err := start(cmd, orDefault(s.MaxStdout, DefaultMaxStdout), orDefault(s.MaxStderr, DefaultMaxStderr), logger, hooks{
		classify: classifyRuntimeExit,
		// Killing the CLI client does not necessarily stop the container.
		teardown: func(ctx context.Context) error {
			return s.remove(ctx, path, spec.Name, logger)
		},
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Args builds the "run" command line for spec
func (s *ContainerSandbox) Args(spec core.LaunchSpec) []string {
	args := []string{
		"run", "--rm", "-i",
		"--name", spec.Name,
		"--network=none",
		"--read-only",
		"--tmpfs=/tmp",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
	}
	if spec.Limits.MemoryMB > 0 {
		args = append(args, "--memory="+strconv.Itoa(spec.Limits.MemoryMB)+"m")
	}
	if spec.Limits.CPUs > 0 {
		args = append(args, "--cpus="+strconv.FormatFloat(spec.Limits.CPUs, 'f', -1, 64))
	}
	if spec.Limits.PidsLimit > 0 {
		args = append(args, "--pids-limit="+strconv.Itoa(spec.Limits.PidsLimit))
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func (s *ContainerSandbox) remove(ctx context.Context, path, name string, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, path, "rm", "-f", name)
	cmd.Env = runtimeEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if strings.Contains(strings.ToLower(stderr.String()), "no such container") {
			return nil
		}
		logger.Error("failed to remove container", "name", name, "error", err, "stderr", stderr.String())
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

func (s *ContainerSandbox) runtime() string {
	if s.Runtime == "" {
		return "podman"
	}
	return s.Runtime
}

// runtimeEnv passes through only what the container CLI needs to find its
// daemon or rootless state.
func runtimeEnv() []string {
	extra := map[string]string{}
	for _, k := range []string{"HOME", "XDG_RUNTIME_DIR", "DOCKER_HOST", "CONTAINER_HOST"} {
		if v, ok := os.LookupEnv(k); ok {
			extra[k] = v
		}
	}
	return minimalEnv(extra)
}

// classifyRuntimeExit turns a container runtime failure into ErrLaunchFailed
func classifyRuntimeExit(result *ports.ExecutionResult) {
	if result.ExitCode == runtimeErrorExit {
		result.Err = fmt.Errorf("%w: %s", core.ErrLaunchFailed, strings.TrimSpace(string(result.Stderr)))
	}
}
