package prover

import "context"

// Signer signs authentication challenges with an access key
type Signer interface {
	// PublicKey returns the hex-encoded public key registered with the server
	PublicKey() string

	// Sign signs the raw nonce bytes
	Sign(nonce []byte) ([]byte, error)
}

// API represents the public interface of a prover server
type API interface {
	// Authenticate runs the challenge/response flow and stores the session
	Authenticate(ctx context.Context) (Session, error)

	// Register authorizes another access key
	Register(ctx context.Context, publicKey, label string) error

	// Prove submits a workload request and returns the raw output
	Prove(ctx context.Context, backend string, payload []byte) ([]byte, error)
}
