package ports

import (
	"context"
	"time"

	"github.com/layer-3/prover/core"
)

// Tokenizer mints and validates stateless session credentials
type Tokenizer interface {
	// Issue mints a credential for subject valid from now for the configured lifetime
	Issue(subject string, now time.Time) (core.Session, error)

	// Validate decodes token and checks it against now. It fails with
	// core.ErrTokenMalformed or core.ErrTokenExpired.
	Validate(token string, now time.Time) (core.Claims, error)
}

// SignatureVerifier checks signatures made by registered access keys. It
// fails with core.ErrUnknownKey or core.ErrInvalidSignature.
type SignatureVerifier interface {
	Verify(ctx context.Context, message, signature []byte, key core.AccessKey) error
}
