package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

const (
	AudienceSession = "prover:session"
	Issuer          = "prover"
)

// MaxSessionLifetime bounds the configurable session lifetime
const MaxSessionLifetime = 24 * time.Hour

func init() {
	// NumericDate defaults to whole seconds, which would move the expiry of a
	// token issued mid-second.
	jwt.TimePrecision = time.Microsecond
}

// JWTTokenizer implements the Tokenizer interface with HS256 tokens signed
// by a shared secret, so any instance holding the secret can validate.
type JWTTokenizer struct {
	secret   []byte
	lifetime time.Duration
	options  []jwt.ParserOption
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(secret []byte, lifetime time.Duration) (*JWTTokenizer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if lifetime <= 0 || lifetime > MaxSessionLifetime {
		return nil, fmt.Errorf("session lifetime must be in (0, %s], got %s", MaxSessionLifetime, lifetime)
	}

	return &JWTTokenizer{
		secret:   secret,
		lifetime: lifetime,
		options: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(AudienceSession),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		},
	}, nil
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// Lifetime returns the configured session lifetime
func (j *JWTTokenizer) Lifetime() time.Duration {
	return j.lifetime
}

// Issue mints a session token for subject valid from now for the configured
// lifetime. Encoded timestamps carry microsecond precision.
func (j *JWTTokenizer) Issue(subject string, now time.Time) (core.Session, error) {
	claims := core.Claims{
		ID:        uuid.New().String(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(j.lifetime),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   claims.Subject,
			ID:        claims.ID,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
	})

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return core.Session{Token: signedToken, Claims: claims}, nil
}

// Validate parses the token and checks it against now. It needs nothing but
// the shared secret.
func (j *JWTTokenizer) Validate(tokenStr string, now time.Time) (core.Claims, error) {
	var claims SessionClaims
	options := append([]jwt.ParserOption{jwt.WithTimeFunc(func() time.Time { return now })}, j.options...)
	_, err := jwt.ParseWithClaims(tokenStr, &claims, j.keyFunc, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.Claims{}, core.ErrTokenExpired
		}
		return core.Claims{}, fmt.Errorf("%w: %v", core.ErrTokenMalformed, err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil {
		return core.Claims{}, fmt.Errorf("%w: missing claims", core.ErrTokenMalformed)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return core.Claims{}, fmt.Errorf("%w: expiry not after issuance", core.ErrTokenMalformed)
	}

	return core.Claims{
		ID:        claims.ID,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (j *JWTTokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return j.secret, nil
}
