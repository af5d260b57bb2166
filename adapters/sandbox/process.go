package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

// ProcessSandbox runs the workload as a plain subprocess in its own process
// group and scratch directory. It offers no isolation beyond that and is
// meant for development and tests.
type ProcessSandbox struct {
	MaxStdout int
	MaxStderr int
	Logger    *slog.Logger
}

var _ ports.Sandbox = (*ProcessSandbox)(nil)

// Launch starts spec.Command
func (s *ProcessSandbox) Launch(ctx context.Context, spec core.LaunchSpec) (ports.Execution, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	workdir, err := os.MkdirTemp("", "prover-"+spec.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = workdir
	cmd.Env = minimalEnv(spec.Env)

	e, err := start(cmd, orDefault(s.MaxStdout, DefaultMaxStdout), orDefault(s.MaxStderr, DefaultMaxStderr), s.Logger, hooks{
		teardown: func(context.Context) error {
			return os.RemoveAll(workdir)
		},
	})
	if err != nil {
		os.RemoveAll(workdir)
		return nil, err
	}
	return e, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
