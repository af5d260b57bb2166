package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyScheme names the signature algorithm an access key belongs to
type KeyScheme string

const (
	// SchemeEd25519 keys are 32 raw bytes
	SchemeEd25519 KeyScheme = "ed25519"

	// SchemeSecp256k1 keys are 33-byte compressed points
	SchemeSecp256k1 KeyScheme = "secp256k1"
)

const (
	ed25519KeySize        = 32
	secp256k1Compressed   = 33
	secp256k1Uncompressed = 65
)

// AccessKey is a public verifying key authorized to obtain sessions.
// Identity is the raw key bytes; the label is informational only.
type AccessKey struct {
	Scheme KeyScheme
	Bytes  []byte
	Label  string
}

// ParseAccessKey decodes a hex public key (with or without 0x prefix) and
// infers its scheme from the length. Uncompressed secp256k1 keys are
// normalized to their compressed form so that one key has one identity.
func ParseAccessKey(s string) (AccessKey, error) {
	raw, err := decodeHex(strings.TrimSpace(s))
	if err != nil {
		return AccessKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewAccessKey(raw)
}

// NewAccessKey builds an AccessKey from raw public key bytes.
func NewAccessKey(raw []byte) (AccessKey, error) {
	switch len(raw) {
	case ed25519KeySize:
		return AccessKey{Scheme: SchemeEd25519, Bytes: clone(raw)}, nil
	case secp256k1Compressed:
		if _, err := crypto.DecompressPubkey(raw); err != nil {
			return AccessKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return AccessKey{Scheme: SchemeSecp256k1, Bytes: clone(raw)}, nil
	case secp256k1Uncompressed:
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return AccessKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return AccessKey{Scheme: SchemeSecp256k1, Bytes: crypto.CompressPubkey(pub)}, nil
	default:
		return AccessKey{}, fmt.Errorf("%w: unsupported key length %d", ErrInvalidKey, len(raw))
	}
}

// ID returns the hex identity of the key
func (k AccessKey) ID() string {
	return hex.EncodeToString(k.Bytes)
}

// WithLabel returns a copy of the key carrying label
func (k AccessKey) WithLabel(label string) AccessKey {
	k.Label = label
	return k
}

// DecodeHex decodes hex with an optional 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	return decodeHex(s)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
