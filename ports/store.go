package ports

import (
	"context"

	"github.com/layer-3/prover/core"
)

// NonceStore issues and consumes single-use challenges
type NonceStore interface {
	// Issue creates a fresh nonce, optionally bound to a key hint
	Issue(ctx context.Context, keyHint string) (core.Nonce, error)

	// Consume marks the nonce consumed and returns it. It fails with
	// core.ErrNonceNotFound, core.ErrNonceExpired or core.ErrNonceAlreadyConsumed.
	// At most one concurrent caller succeeds for a given value.
	Consume(ctx context.Context, value string) (core.Nonce, error)
}

// KeyRegistry holds the access keys authorized to obtain sessions
type KeyRegistry interface {
	Contains(ctx context.Context, key core.AccessKey) (bool, error)

	// Add registers key, failing with core.ErrAlreadyRegistered if present
	Add(ctx context.Context, key core.AccessKey) error

	// Seed registers keys at startup, skipping those already present
	Seed(ctx context.Context, keys []core.AccessKey) error

	List(ctx context.Context) ([]core.AccessKey, error)
}
