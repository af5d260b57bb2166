package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to a prover server on behalf of a single access key.
// Sessions are obtained lazily and renewed when they are about to expire.
type Client struct {
	baseURL    string
	signer     Signer
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	session Session
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for session expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, signer Signer, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type challengeResponse struct {
	Nonce      string    `json:"nonce"`
	Expiration time.Time `json:"expiration"`
}

type loginRequest struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type loginResponse struct {
	SessionToken string    `json:"session_token"`
	Expiration   time.Time `json:"expiration"`
}

type registerRequest struct {
	PublicKey string `json:"public_key"`
	Label     string `json:"label,omitempty"`
}

type errorResponse struct {
	Error    string `json:"error"`
	ExitCode *int   `json:"exit_code"`
	Stderr   string `json:"stderr"`
}

// Authenticate requests a nonce bound to the client's key, signs it and
// exchanges the signature for a session token
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	query := url.Values{"public_key": {c.signer.PublicKey()}}
	var challenge challengeResponse
	if err := c.do(ctx, http.MethodGet, "/auth?"+query.Encode(), "", nil, &challenge); err != nil {
		return Session{}, fmt.Errorf("requesting challenge: %w", err)
	}

	nonce, err := hex.DecodeString(challenge.Nonce)
	if err != nil {
		return Session{}, fmt.Errorf("decoding nonce: %w", err)
	}
	signature, err := c.signer.Sign(nonce)
	if err != nil {
		return Session{}, fmt.Errorf("signing nonce: %w", err)
	}

	req := loginRequest{
		Key:       c.signer.PublicKey(),
		Signature: hex.EncodeToString(signature),
		Nonce:     challenge.Nonce,
	}
	var login loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth", "", req, &login); err != nil {
		return Session{}, fmt.Errorf("logging in: %w", err)
	}

	session := Session{Token: login.SessionToken, Expiration: login.Expiration}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return session, nil
}

// Register authorizes publicKey on the server
func (c *Client) Register(ctx context.Context, publicKey, label string) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/register", token, registerRequest{PublicKey: publicKey, Label: label}, nil)
}

// Prove submits payload to backend and returns the raw JSON output
func (c *Client) Prove(ctx context.Context, backend string, payload []byte) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/prove/"+url.PathEscape(backend), token, json.RawMessage(payload), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session.Valid(c.now()) {
		return session.Token, nil
	}
	session, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func responseError(status int, data []byte) error {
	var er errorResponse
	_ = json.Unmarshal(data, &er)
	if er.Error == "" {
		er.Error = http.StatusText(status)
	}
	apiErr := &APIError{StatusCode: status, Message: er.Error, ExitCode: er.ExitCode, Stderr: er.Stderr}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrAlreadyRegistered, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrUnknownBackend, apiErr)
	}
	return apiErr
}

var _ API = (*Client)(nil)
