package prover

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Ed25519Key is an ed25519 access key
type Ed25519Key struct {
	private ed25519.PrivateKey
}

// GenerateEd25519Key creates a random ed25519 access key
func GenerateEd25519Key() (*Ed25519Key, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &Ed25519Key{private: private}, nil
}

// Ed25519KeyFromHex loads an ed25519 access key from its hex-encoded 32-byte seed
func Ed25519KeyFromHex(seedHex string) (*Ed25519Key, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed has %d bytes, want %d", ErrInvalidKey, len(seed), ed25519.SeedSize)
	}
	return &Ed25519Key{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the hex public key
func (k *Ed25519Key) PublicKey() string {
	return hex.EncodeToString(k.private.Public().(ed25519.PublicKey))
}

// Sign signs nonce
func (k *Ed25519Key) Sign(nonce []byte) ([]byte, error) {
	return ed25519.Sign(k.private, nonce), nil
}

// Seed returns the hex private seed
func (k *Ed25519Key) Seed() string {
	return hex.EncodeToString(k.private.Seed())
}

// Secp256k1Key is a secp256k1 access key. It signs keccak256(nonce).
type Secp256k1Key struct {
	private *ecdsa.PrivateKey
}

// GenerateSecp256k1Key creates a random secp256k1 access key
func GenerateSecp256k1Key() (*Secp256k1Key, error) {
	private, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &Secp256k1Key{private: private}, nil
}

// Secp256k1KeyFromHex loads a secp256k1 access key from its hex private key
func Secp256k1KeyFromHex(privateHex string) (*Secp256k1Key, error) {
	private, err := crypto.HexToECDSA(strings.TrimPrefix(privateHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Secp256k1Key{private: private}, nil
}

// PublicKey returns the hex compressed public key
func (k *Secp256k1Key) PublicKey() string {
	return hex.EncodeToString(crypto.CompressPubkey(&k.private.PublicKey))
}

// Sign returns a 65-byte R||S||V signature over keccak256(nonce)
func (k *Secp256k1Key) Sign(nonce []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(nonce), k.private)
}

var (
	_ Signer = (*Ed25519Key)(nil)
	_ Signer = (*Secp256k1Key)(nil)
)
