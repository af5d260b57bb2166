package signature

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

// Verifier checks that a signature was produced by a registered access key.
// Registry membership is looked up on every call.
type Verifier struct {
	registry ports.KeyRegistry
}

// NewVerifier creates a verifier backed by registry
func NewVerifier(registry ports.KeyRegistry) *Verifier {
	return &Verifier{registry: registry}
}

var _ ports.SignatureVerifier = (*Verifier)(nil)

// Verify fails with core.ErrUnknownKey before looking at the signature, so an
// unregistered key is rejected regardless of signature validity.
func (v *Verifier) Verify(ctx context.Context, message, sig []byte, key core.AccessKey) error {
	registered, err := v.registry.Contains(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to look up access key: %w", err)
	}
	if !registered {
		return core.ErrUnknownKey
	}
	return Check(message, sig, key)
}

// Check verifies sig over message with key, delegating to the scheme's
// verification routine.
func Check(message, sig []byte, key core.AccessKey) error {
	switch key.Scheme {
	case core.SchemeEd25519:
		if len(key.Bytes) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return core.ErrInvalidSignature
		}
		if !ed25519.Verify(ed25519.PublicKey(key.Bytes), message, sig) {
			return core.ErrInvalidSignature
		}
		return nil

	case core.SchemeSecp256k1:
		return checkSecp256k1(message, sig, key)

	default:
		return fmt.Errorf("%w: unsupported scheme %q", core.ErrInvalidSignature, key.Scheme)
	}
}

// checkSecp256k1 accepts 64-byte R||S signatures, checked with
// VerifySignature, and 65-byte R||S||V signatures, checked by recovering the
// signer so that the recovery byte is covered too. The signed digest is
// keccak256(message).
func checkSecp256k1(message, sig []byte, key core.AccessKey) error {
	digest := crypto.Keccak256(message)

	switch len(sig) {
	case crypto.SignatureLength - 1:
		if !crypto.VerifySignature(key.Bytes, digest, sig) {
			return core.ErrInvalidSignature
		}
		return nil

	case crypto.SignatureLength:
		normalized := make([]byte, len(sig))
		copy(normalized, sig)
		if normalized[64] >= 27 {
			normalized[64] -= 27
		}
		if !crypto.VerifySignature(key.Bytes, digest, normalized[:64]) {
			return core.ErrInvalidSignature
		}
		pub, err := crypto.SigToPub(digest, normalized)
		if err != nil {
			return core.ErrInvalidSignature
		}
		if !bytes.Equal(crypto.CompressPubkey(pub), key.Bytes) {
			return core.ErrInvalidSignature
		}
		return nil

	default:
		return core.ErrInvalidSignature
	}
}
