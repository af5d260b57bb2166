package ports

import (
	"context"
	"io"

	"github.com/layer-3/prover/core"
)

// Sandbox launches isolated execution contexts. Any isolation technology
// can satisfy it: containers, bubblewrap, plain subprocesses.
type Sandbox interface {
	Launch(ctx context.Context, spec core.LaunchSpec) (Execution, error)
}

// Execution is a single running isolated context
type Execution interface {
	// Stdin receives the job input. Closing it signals end of data.
	Stdin() io.WriteCloser

	// Done is closed once the context has exited and been reaped
	Done() <-chan struct{}

	// Result returns exit code and captured output. Only valid after Done.
	Result() ExecutionResult

	// Terminate forcibly stops the context and waits until it is reaped.
	// Safe to call more than once and after a normal exit.
	Terminate(ctx context.Context) error
}

// ExecutionResult is the captured outcome of an Execution
type ExecutionResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error // Non-exit failure while waiting, e.g. I/O error

	// Truncated is set when Stdout was cut at the capture limit
	Truncated bool
}
