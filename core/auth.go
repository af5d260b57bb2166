package core

import "time"

// Nonce is a single-use challenge handed out by a NonceStore
type Nonce struct {
	Value     string    // Hex-encoded random bytes
	KeyHint   string    // Hex-encoded access key the nonce was requested for, may be empty
	IssuedAt  time.Time // When the nonce was issued
	ExpiresAt time.Time // When the nonce stops being accepted
	Consumed  bool      // Set on the first verification attempt
}

// Bytes returns the raw nonce bytes that clients sign.
func (n Nonce) Bytes() ([]byte, error) {
	return decodeHex(n.Value)
}

// Expired reports whether the nonce is past its expiry at now.
func (n Nonce) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}

// Claims are the contents of a session credential
type Claims struct {
	ID        string    // Unique credential identifier
	Subject   string    // Hex-encoded access key of the authenticated principal
	IssuedAt  time.Time // When the credential was minted
	ExpiresAt time.Time // When the credential stops being accepted
}

// Session is a minted credential together with its claims
type Session struct {
	Token  string
	Claims Claims
}
