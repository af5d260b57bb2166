package core

import (
	"errors"
	"fmt"
)

// Authentication errors. None of them is retried by the server; the client
// has to request a fresh challenge.
var (
	ErrNonceNotFound        = errors.New("nonce not found")
	ErrNonceExpired         = errors.New("nonce has expired")
	ErrNonceAlreadyConsumed = errors.New("nonce already consumed")
	ErrUnknownKey           = errors.New("unknown access key")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrTokenMalformed       = errors.New("malformed token")
	ErrTokenExpired         = errors.New("token has expired")
)

// Registry errors
var (
	ErrAlreadyRegistered = errors.New("access key already registered")
	ErrInvalidKey        = errors.New("invalid access key")
)

// Runner errors
var (
	// ErrLaunchFailed means the sandbox infrastructure could not start the
	// execution context. Callers may retry.
	ErrLaunchFailed = errors.New("sandbox launch failed")

	ErrTimeout         = errors.New("sandbox execution timed out")
	ErrExecutionFailed = errors.New("sandbox execution failed")
	ErrOutputMalformed = errors.New("sandbox output malformed")

	// ErrOutputTooLarge means stdout exceeded the capture limit. It matches
	// ErrOutputMalformed.
	ErrOutputTooLarge = fmt.Errorf("%w: output exceeds capture limit", ErrOutputMalformed)
)

// Request errors
var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrInvalidInput   = errors.New("invalid input")
)

// ExecutionError is returned when the workload exits with a non-zero code.
// It matches ErrExecutionFailed with errors.Is.
type ExecutionError struct {
	ExitCode int
	Stderr   []byte
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: exit code %d", ErrExecutionFailed, e.ExitCode)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

// IsAuthError reports whether err belongs to the authentication taxonomy.
func IsAuthError(err error) bool {
	for _, target := range []error{
		ErrNonceNotFound,
		ErrNonceExpired,
		ErrNonceAlreadyConsumed,
		ErrUnknownKey,
		ErrInvalidSignature,
		ErrTokenMalformed,
		ErrTokenExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
