package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

// BwrapSandbox runs the workload under bubblewrap with every namespace
// unshared (no network), a read-only view of the host's system directories
// and a private /tmp.
type BwrapSandbox struct {
	// Path to the bwrap binary. Looked up in PATH when empty.
	Path string

	// ReadOnlyBinds are extra host paths exposed read-only at the same location
	ReadOnlyBinds []string

	MaxStdout int
	MaxStderr int
	Logger    *slog.Logger
}

var _ ports.Sandbox = (*BwrapSandbox)(nil)

// Launch starts spec.Command inside a new bubblewrap sandbox
func (s *BwrapSandbox) Launch(ctx context.Context, spec core.LaunchSpec) (ports.Execution, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	path := s.Path
	if path == "" {
		var err error
		path, err = exec.LookPath("bwrap")
		if err != nil {
			return nil, fmt.Errorf("bwrap not found: %w", err)
		}
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Limits != (core.ResourceLimits{}) {
		logger.Warn("resource limits are not enforced by the bwrap sandbox", "name", spec.Name)
	}

	cmd := exec.Command(path, s.Args(spec)...)
	cmd.Env = minimalEnv(nil)

	e, err := start(cmd, orDefault(s.MaxStdout, DefaultMaxStdout), orDefault(s.MaxStderr, DefaultMaxStderr), logger, hooks{})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Args builds the bwrap command line for spec
func (s *BwrapSandbox) Args(spec core.LaunchSpec) []string {
	args := []string{
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--clearenv",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind-try", "/bin", "/bin",
		"--ro-bind-try", "/sbin", "/sbin",
		"--ro-bind-try", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}
	for _, bind := range s.ReadOnlyBinds {
		args = append(args, "--ro-bind", bind, bind)
	}

	args = append(args, "--setenv", "PATH", "/usr/local/bin:/usr/bin:/bin")
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "--setenv", k, spec.Env[k])
	}

	args = append(args, "--chdir", "/tmp", "--")
	return append(args, spec.Command...)
}
