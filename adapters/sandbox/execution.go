package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/layer-3/prover/ports"
)

const (
	// DefaultMaxStdout caps captured workload output
	DefaultMaxStdout = 64 << 20

	// DefaultMaxStderr caps captured workload diagnostics
	DefaultMaxStderr = 64 << 10

	// waitDelay bounds how long Wait waits for I/O after the process exits,
	// in case a stray descendant keeps the pipes open.
	waitDelay = 2 * time.Second
)

// execution is a started command running in its own process group
type execution struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *cappedBuffer
	stderr *cappedBuffer
	logger *slog.Logger

	done   chan struct{}
	result ports.ExecutionResult

	hooks hooks

	terminateOnce sync.Once
	terminateErr  error
}

// hooks let a launcher adjust the generic process lifecycle
type hooks struct {
	// classify may rewrite the result once the command has exited
	classify func(*ports.ExecutionResult)

	// teardown releases resources outside the process itself
	teardown func(ctx context.Context) error
}

// start launches cmd in a fresh process group and begins reaping it
func start(cmd *exec.Cmd, maxStdout, maxStderr int, logger *slog.Logger, h hooks) (*execution, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &execution{
		cmd:    cmd,
		stdout: newCappedBuffer(maxStdout),
		stderr: newCappedBuffer(maxStderr),
		logger: logger,
		done:   make(chan struct{}),
		hooks:  h,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	e.stdin = stdin
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	cmd.WaitDelay = waitDelay

	// Own process group so the whole tree can be killed at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, err
	}

	go e.wait()
	return e, nil
}

func (e *execution) wait() {
	err := e.cmd.Wait()

	result := ports.ExecutionResult{
		Stdout:    e.stdout.Bytes(),
		Stderr:    e.stderr.Bytes(),
		Truncated: e.stdout.Truncated(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		result.Err = err
	}
	if result.Truncated {
		e.logger.Warn("sandbox stdout truncated", "limit", e.stdout.limit)
	}
	if e.hooks.classify != nil {
		e.hooks.classify(&result)
	}

	e.result = result
	close(e.done)
}

func (e *execution) Stdin() io.WriteCloser { return e.stdin }

func (e *execution) Done() <-chan struct{} { return e.done }

func (e *execution) Result() ports.ExecutionResult {
	<-e.done
	return e.result
}

// Terminate kills the process group if it is still running, waits for the
// reaper and runs the teardown hook. Later calls return the first result.
func (e *execution) Terminate(ctx context.Context) error {
	e.terminateOnce.Do(func() {
		select {
		case <-e.done:
		default:
			pid := e.cmd.Process.Pid
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				e.logger.Warn("failed to kill sandbox process group", "pid", pid, "error", err)
			}
		}

		select {
		case <-e.done:
		case <-ctx.Done():
			e.terminateErr = fmt.Errorf("sandbox process not reaped: %w", ctx.Err())
		}

		if e.hooks.teardown != nil {
			if err := e.hooks.teardown(ctx); err != nil {
				e.terminateErr = errors.Join(e.terminateErr, err)
			}
		}
	})
	return e.terminateErr
}

// cappedBuffer keeps the first limit bytes written to it and discards the rest
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - len(b.buf)
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// minimalEnv returns PATH plus the given variables, so the sandbox process
// never inherits the server's environment.
func minimalEnv(extra map[string]string) []string {
	env := []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	for _, k := range sortedKeys(extra) {
		env = append(env, k+"="+extra[k])
	}
	return env
}
