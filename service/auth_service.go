package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/internal/clock"
	"github.com/layer-3/prover/ports"
)

// AuthService handles the challenge/response flow, session validation and
// key registration
type AuthService struct {
	nonces    ports.NonceStore
	registry  ports.KeyRegistry
	verifier  ports.SignatureVerifier
	tokenizer ports.Tokenizer
	eventPub  ports.EventPublisher
	clock     clock.Clock
	logger    *slog.Logger
}

// AuthConfig holds the collaborators of an AuthService
type AuthConfig struct {
	Nonces    ports.NonceStore
	Registry  ports.KeyRegistry
	Verifier  ports.SignatureVerifier
	Tokenizer ports.Tokenizer
	EventPub  ports.EventPublisher
	Clock     clock.Clock
	Logger    *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg AuthConfig) *AuthService {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthService{
		nonces:    cfg.Nonces,
		registry:  cfg.Registry,
		verifier:  cfg.Verifier,
		tokenizer: cfg.Tokenizer,
		eventPub:  cfg.EventPub,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// CreateChallenge issues a nonce. When keyHint is set the nonce can only be
// redeemed by that key.
func (s *AuthService) CreateChallenge(ctx context.Context, keyHint string) (core.Nonce, error) {
	hint := ""
	if keyHint != "" {
		key, err := core.ParseAccessKey(keyHint)
		if err != nil {
			return core.Nonce{}, err
		}
		hint = key.ID()
	}

	nonce, err := s.nonces.Issue(ctx, hint)
	if err != nil {
		return core.Nonce{}, fmt.Errorf("failed to issue nonce: %w", err)
	}
	return nonce, nil
}

// Login redeems a signed nonce for a session. The nonce is consumed before
// anything else is checked, so a failed attempt cannot be retried with it.
func (s *AuthService) Login(ctx context.Context, keyHex, signatureHex, nonceValue string) (core.Session, error) {
	nonce, err := s.nonces.Consume(ctx, nonceValue)
	if err != nil {
		return core.Session{}, err
	}

	key, err := core.ParseAccessKey(keyHex)
	if err != nil {
		return core.Session{}, fmt.Errorf("%w: %v", core.ErrUnknownKey, err)
	}

	// An undecodable signature is verified as empty and fails after the
	// registry lookup like any other bad signature.
	signature, _ := core.DecodeHex(signatureHex)
	message, err := nonce.Bytes()
	if err != nil {
		return core.Session{}, fmt.Errorf("%w: %v", core.ErrNonceNotFound, err)
	}

	// Registry membership is checked first, so an unknown key is reported as
	// such even when the nonce was bound to another key.
	if err := s.verifier.Verify(ctx, message, signature, key); err != nil {
		return core.Session{}, err
	}
	if nonce.KeyHint != "" && nonce.KeyHint != key.ID() {
		return core.Session{}, fmt.Errorf("%w: nonce was issued for another key", core.ErrInvalidSignature)
	}

	session, err := s.tokenizer.Issue(key.ID(), s.clock.Now())
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session issued", "subject", key.ID(), "session_id", session.Claims.ID, "expires_at", session.Claims.ExpiresAt)
	return session, nil
}

// Authenticate validates a presented session token. It touches no shared state.
func (s *AuthService) Authenticate(token string) (core.Claims, error) {
	return s.tokenizer.Validate(token, s.clock.Now())
}

// RegisterKey adds a new access key on behalf of an authenticated principal
func (s *AuthService) RegisterKey(ctx context.Context, claims core.Claims, keyHex, label string) (core.AccessKey, error) {
	key, err := core.ParseAccessKey(keyHex)
	if err != nil {
		return core.AccessKey{}, err
	}
	key = key.WithLabel(label)

	if err := s.registry.Add(ctx, key); err != nil {
		if errors.Is(err, core.ErrAlreadyRegistered) {
			return core.AccessKey{}, err
		}
		return core.AccessKey{}, fmt.Errorf("failed to register key: %w", err)
	}

	s.logger.Info("access key registered", "key", key.ID(), "scheme", key.Scheme, "registered_by", claims.Subject)

	if s.eventPub != nil {
		if err := s.eventPub.PublishKeyRegistered(ctx, key, claims.Subject); err != nil {
			// The key is registered; the event is informational.
			s.logger.Warn("failed to publish key registration", "key", key.ID(), "error", err)
		}
	}

	return key, nil
}

// ListKeys returns all registered access keys
func (s *AuthService) ListKeys(ctx context.Context) ([]core.AccessKey, error) {
	return s.registry.List(ctx)
}
