package tokenizer

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/prover/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func newTokenizer(t *testing.T, lifetime time.Duration) *JWTTokenizer {
	t.Helper()
	tk, err := NewJWTTokenizer([]byte("test-secret"), lifetime)
	require.NoError(t, err)
	return tk
}

func TestIssueValidateRoundTrip(t *testing.T) {
	lifetime := time.Hour
	tk := newTokenizer(t, lifetime)

	session, err := tk.Issue("abcd", t0)
	require.NoError(t, err)
	assert.Equal(t, t0, session.Claims.IssuedAt)
	assert.Equal(t, t0.Add(lifetime), session.Claims.ExpiresAt)

	tests := []struct {
		name    string
		delta   time.Duration
		wantErr error
	}{
		{"immediately", 0, nil},
		{"half way", lifetime / 2, nil},
		{"just before expiry", lifetime - time.Second, nil},
		{"at expiry", lifetime, core.ErrTokenExpired},
		{"after expiry", lifetime + time.Minute, core.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tk.Validate(session.Token, t0.Add(tt.delta))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "abcd", claims.Subject)
			assert.Equal(t, session.Claims.ID, claims.ID)
			assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
		})
	}
}

func TestIssueValidateFractionalSecond(t *testing.T) {
	lifetime := time.Hour
	tk := newTokenizer(t, lifetime)

	issued := t0.Add(900 * time.Millisecond)
	session, err := tk.Issue("abcd", issued)
	require.NoError(t, err)
	assert.Equal(t, issued, session.Claims.IssuedAt)
	assert.Equal(t, issued.Add(lifetime), session.Claims.ExpiresAt)

	tests := []struct {
		name    string
		delta   time.Duration
		wantErr error
	}{
		{"immediately", 0, nil},
		{"half a second before expiry", lifetime - 500*time.Millisecond, nil},
		{"a millisecond before expiry", lifetime - time.Millisecond, nil},
		{"at expiry", lifetime, core.ErrTokenExpired},
		{"just after expiry", lifetime + time.Millisecond, core.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tk.Validate(session.Token, issued.Add(tt.delta))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.WithinDuration(t, issued, claims.IssuedAt, time.Microsecond)
			assert.WithinDuration(t, issued.Add(lifetime), claims.ExpiresAt, time.Microsecond)
		})
	}
}

func TestValidateMalformed(t *testing.T) {
	tk := newTokenizer(t, time.Hour)
	session, err := tk.Issue("abcd", t0)
	require.NoError(t, err)

	other, err := NewJWTTokenizer([]byte("other-secret"), time.Hour)
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := tk.Validate("not-a-token", t0)
		assert.ErrorIs(t, err, core.ErrTokenMalformed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := other.Validate(session.Token, t0)
		assert.ErrorIs(t, err, core.ErrTokenMalformed)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(session.Token, ".")
		require.Len(t, parts, 3)
		payload := []byte(parts[1])
		payload[len(payload)/2] ^= 0x01
		tampered := parts[0] + "." + string(payload) + "." + parts[2]
		_, err := tk.Validate(tampered, t0)
		assert.ErrorIs(t, err, core.ErrTokenMalformed)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				Subject:   "abcd",
				Audience:  jwt.ClaimStrings{"elsewhere"},
				IssuedAt:  jwt.NewNumericDate(t0),
				ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
			},
		})
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = tk.Validate(signed, t0)
		assert.ErrorIs(t, err, core.ErrTokenMalformed)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				Subject:   "abcd",
				Audience:  jwt.ClaimStrings{AudienceSession},
				IssuedAt:  jwt.NewNumericDate(t0),
				ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
			},
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tk.Validate(signed, t0)
		assert.ErrorIs(t, err, core.ErrTokenMalformed)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:   Issuer,
				Subject:  "abcd",
				Audience: jwt.ClaimStrings{AudienceSession},
				IssuedAt: jwt.NewNumericDate(t0),
			},
		})
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = tk.Validate(signed, t0)
		assert.ErrorIs(t, err, core.ErrTokenMalformed)
	})
}

func TestNewJWTTokenizerBounds(t *testing.T) {
	_, err := NewJWTTokenizer(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewJWTTokenizer([]byte("s"), 0)
	assert.Error(t, err)
	_, err = NewJWTTokenizer([]byte("s"), MaxSessionLifetime+time.Second)
	assert.Error(t, err)
}
