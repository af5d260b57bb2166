package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the registered claims of a session token. The subject
// is the hex access key of the authenticated principal.
type SessionClaims struct {
	jwt.RegisteredClaims
}
