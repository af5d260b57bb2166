package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/internal/clock"
	"github.com/layer-3/prover/ports"
)

const (
	// DefaultJobTimeout applies to jobs submitted without a timeout
	DefaultJobTimeout = 10 * time.Minute

	// terminateTimeout bounds how long teardown may take after a job
	terminateTimeout = 30 * time.Second
)

// Runner executes jobs in isolated contexts, one fresh context per job.
// It owns every context it launches: the caller's cancellation does not
// stop a job, only the job timeout does, and each context is terminated and
// reaped before Run returns.
type Runner struct {
	clock  clock.Clock
	logger *slog.Logger

	active sync.Map // job ID -> ports.Execution
}

// NewRunner creates a runner
func NewRunner(clk clock.Clock, logger *slog.Logger) *Runner {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		clock:  clk,
		logger: logger,
	}
}

// Run launches job.Target on sandbox, feeds it job.Input and returns its
// standard output verbatim.
func (r *Runner) Run(ctx context.Context, sandbox ports.Sandbox, job core.RunnerJob) ([]byte, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultJobTimeout
	}
	logger := r.logger.With("job_id", job.ID, "backend", job.Backend)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), job.Timeout)
	defer cancel()

	spec := job.Target
	spec.Name = "prover-" + job.ID

	exe, err := sandbox.Launch(runCtx, spec)
	if err != nil {
		logger.Error("sandbox launch failed", "error", err)
		return nil, fmt.Errorf("%w: %v", core.ErrLaunchFailed, err)
	}

	r.active.Store(job.ID, exe)
	defer r.active.Delete(job.ID)
	defer r.terminate(exe, logger)

	go feed(exe, job.Input, logger)

	started := r.clock.Now()
	select {
	case <-exe.Done():
	case <-runCtx.Done():
		select {
		case <-exe.Done():
		default:
			logger.Warn("sandbox timed out", "timeout", job.Timeout)
			return nil, fmt.Errorf("%w after %s", core.ErrTimeout, job.Timeout)
		}
	}

	result := exe.Result()
	logger.Info("sandbox finished", "exit_code", result.ExitCode, "duration", r.clock.Now().Sub(started), "output_bytes", len(result.Stdout))

	if result.Err != nil {
		if errors.Is(result.Err, core.ErrLaunchFailed) {
			return nil, result.Err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrLaunchFailed, result.Err)
	}
	if result.ExitCode != 0 {
		return nil, &core.ExecutionError{ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	if result.Truncated {
		return nil, fmt.Errorf("%w (%d bytes kept)", core.ErrOutputTooLarge, len(result.Stdout))
	}
	return result.Stdout, nil
}

// Active returns the number of running jobs
func (r *Runner) Active() int {
	n := 0
	r.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown terminates every running job
func (r *Runner) Shutdown(ctx context.Context) error {
	var errs []error
	r.active.Range(func(_, v any) bool {
		if err := v.(ports.Execution).Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func (r *Runner) terminate(exe ports.Execution, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := exe.Terminate(ctx); err != nil {
		logger.Error("sandbox teardown failed", "error", err)
	}
}

// feed writes input and closes stdin. A workload that exits without reading
// its input surfaces as EPIPE here and is judged by its exit status instead.
func feed(exe ports.Execution, input []byte, logger *slog.Logger) {
	stdin := exe.Stdin()
	if _, err := stdin.Write(input); err != nil && !errors.Is(err, syscall.EPIPE) {
		logger.Debug("failed to write sandbox input", "error", err)
	}
	if err := stdin.Close(); err != nil {
		logger.Debug("failed to close sandbox input", "error", err)
	}
}
