package prover

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the server rejects credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyRegistered is returned when registering a known key
	ErrAlreadyRegistered = errors.New("key already registered")

	// ErrUnknownBackend is returned when the server has no such backend
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidKey is returned when a key cannot be decoded
	ErrInvalidKey = errors.New("invalid key")
)

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
	ExitCode   *int   // Set when a workload failed
	Stderr     string // Workload diagnostics, if any
}

func (e *APIError) Error() string {
	if e.ExitCode != nil {
		return fmt.Sprintf("prover: %d %s (exit code %d)", e.StatusCode, e.Message, *e.ExitCode)
	}
	return fmt.Sprintf("prover: %d %s", e.StatusCode, e.Message)
}
