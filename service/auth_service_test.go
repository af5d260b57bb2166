package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/prover/adapters/events"
	"github.com/layer-3/prover/adapters/signature"
	"github.com/layer-3/prover/adapters/store"
	"github.com/layer-3/prover/adapters/tokenizer"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

type authFixture struct {
	svc      *AuthService
	registry *store.MemoryKeyRegistry
	clock    *clock.FakeClock
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	clk := clock.Fake(epoch)
	registry := store.NewMemoryKeyRegistry()
	tk, err := tokenizer.NewJWTTokenizer([]byte("secret"), time.Hour)
	require.NoError(t, err)

	svc := NewAuthService(AuthConfig{
		Nonces:    store.NewMemoryNonceStore(time.Minute, clk),
		Registry:  registry,
		Verifier:  signature.NewVerifier(registry),
		Tokenizer: tk,
		EventPub:  events.NopPublisher{},
		Clock:     clk,
	})
	return authFixture{svc: svc, registry: registry, clock: clk}
}

type edKey struct {
	pub  string
	priv ed25519.PrivateKey
}

func newEdKey(t *testing.T) edKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return edKey{pub: hex.EncodeToString(pub), priv: priv}
}

func (k edKey) sign(t *testing.T, nonce core.Nonce) string {
	t.Helper()
	msg, err := nonce.Bytes()
	require.NoError(t, err)
	return hex.EncodeToString(ed25519.Sign(k.priv, msg))
}

func (f authFixture) register(t *testing.T, pubHex string) {
	t.Helper()
	key, err := core.ParseAccessKey(pubHex)
	require.NoError(t, err)
	require.NoError(t, f.registry.Add(context.Background(), key))
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	k := newEdKey(t)
	f.register(t, k.pub)

	nonce, err := f.svc.CreateChallenge(ctx, "")
	require.NoError(t, err)

	session, err := f.svc.Login(ctx, k.pub, k.sign(t, nonce), nonce.Value)
	require.NoError(t, err)
	assert.Equal(t, k.pub, session.Claims.Subject)

	claims, err := f.svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, k.pub, claims.Subject)

	// The nonce cannot be replayed.
	_, err = f.svc.Login(ctx, k.pub, k.sign(t, nonce), nonce.Value)
	assert.ErrorIs(t, err, core.ErrNonceAlreadyConsumed)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Authenticate(session.Token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestLoginSecp256k1(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub := hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
	f.register(t, pub)

	nonce, err := f.svc.CreateChallenge(ctx, pub)
	require.NoError(t, err)
	msg, err := nonce.Bytes()
	require.NoError(t, err)
	sig, err := crypto.Sign(crypto.Keccak256(msg), priv)
	require.NoError(t, err)

	session, err := f.svc.Login(ctx, "0x"+pub, "0x"+hex.EncodeToString(sig), nonce.Value)
	require.NoError(t, err)
	assert.Equal(t, pub, session.Claims.Subject)
}

func TestLoginFailuresConsumeNonce(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	k := newEdKey(t)
	f.register(t, k.pub)
	stranger := newEdKey(t)

	tests := []struct {
		name    string
		login   func(nonce core.Nonce) error
		wantErr error
	}{
		{
			name: "unknown key",
			login: func(n core.Nonce) error {
				_, err := f.svc.Login(ctx, stranger.pub, stranger.sign(t, n), n.Value)
				return err
			},
			wantErr: core.ErrUnknownKey,
		},
		{
			name: "bad signature",
			login: func(n core.Nonce) error {
				_, err := f.svc.Login(ctx, k.pub, stranger.sign(t, n), n.Value)
				return err
			},
			wantErr: core.ErrInvalidSignature,
		},
		{
			name: "undecodable signature",
			login: func(n core.Nonce) error {
				_, err := f.svc.Login(ctx, k.pub, "xyz", n.Value)
				return err
			},
			wantErr: core.ErrInvalidSignature,
		},
		{
			name: "garbage key",
			login: func(n core.Nonce) error {
				_, err := f.svc.Login(ctx, "beef", k.sign(t, n), n.Value)
				return err
			},
			wantErr: core.ErrUnknownKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce, err := f.svc.CreateChallenge(ctx, "")
			require.NoError(t, err)

			assert.ErrorIs(t, tt.login(nonce), tt.wantErr)

			// A correct retry on the same nonce is refused.
			_, err = f.svc.Login(ctx, k.pub, k.sign(t, nonce), nonce.Value)
			assert.ErrorIs(t, err, core.ErrNonceAlreadyConsumed)
		})
	}
}

func TestLoginExpiredNonce(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	k := newEdKey(t)
	f.register(t, k.pub)

	nonce, err := f.svc.CreateChallenge(ctx, "")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	_, err = f.svc.Login(ctx, k.pub, k.sign(t, nonce), nonce.Value)
	assert.ErrorIs(t, err, core.ErrNonceExpired)
}

func TestLoginKeyHintMismatch(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	a, b := newEdKey(t), newEdKey(t)
	f.register(t, a.pub)
	f.register(t, b.pub)

	nonce, err := f.svc.CreateChallenge(ctx, a.pub)
	require.NoError(t, err)
	assert.Equal(t, a.pub, nonce.KeyHint)

	_, err = f.svc.Login(ctx, b.pub, b.sign(t, nonce), nonce.Value)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestLoginBoundNonceUnknownKey(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	a, stranger := newEdKey(t), newEdKey(t)
	f.register(t, a.pub)

	tests := []struct {
		name   string
		signer edKey
	}{
		{"valid signature", stranger},
		{"invalid signature", a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce, err := f.svc.CreateChallenge(ctx, a.pub)
			require.NoError(t, err)

			_, err = f.svc.Login(ctx, stranger.pub, tt.signer.sign(t, nonce), nonce.Value)
			assert.ErrorIs(t, err, core.ErrUnknownKey)
		})
	}

	t.Run("undecodable signature", func(t *testing.T) {
		nonce, err := f.svc.CreateChallenge(ctx, a.pub)
		require.NoError(t, err)

		_, err = f.svc.Login(ctx, stranger.pub, "xyz", nonce.Value)
		assert.ErrorIs(t, err, core.ErrUnknownKey)
	})
}

func TestCreateChallengeInvalidHint(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.CreateChallenge(context.Background(), "nothex")
	assert.ErrorIs(t, err, core.ErrInvalidKey)
}

func TestRegisterKey(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	admin := core.Claims{Subject: "admin"}
	k := newEdKey(t)

	key, err := f.svc.RegisterKey(ctx, admin, k.pub, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop", key.Label)

	_, err = f.svc.RegisterKey(ctx, admin, k.pub, "")
	assert.ErrorIs(t, err, core.ErrAlreadyRegistered)

	_, err = f.svc.RegisterKey(ctx, admin, "0102", "")
	assert.ErrorIs(t, err, core.ErrInvalidKey)

	keys, err := f.svc.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, k.pub, keys[0].ID())
}
