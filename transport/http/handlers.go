package http

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/service"
)

// DefaultMaxBodyBytes caps workload request bodies
const DefaultMaxBodyBytes = 64 << 20

// Options tune the HTTP surface
type Options struct {
	MaxBodyBytes int64

	// SecureCookie marks the session cookie Secure
	SecureCookie bool
}

// Handlers contains HTTP handlers for all endpoints
type Handlers struct {
	authService   *service.AuthService
	proverService *service.ProverService
	opts          Options
	logger        *slog.Logger
}

// NewHandlers creates new handlers
func NewHandlers(authService *service.AuthService, proverService *service.ProverService, opts Options, logger *slog.Logger) *Handlers {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handlers{
		authService:   authService,
		proverService: proverService,
		opts:          opts,
		logger:        logger,
	}
}

// ChallengeResponse is returned by GET /auth
type ChallengeResponse struct {
	Nonce      string    `json:"nonce"`
	Expiration time.Time `json:"expiration"`
}

// LoginRequest is the body of POST /auth
type LoginRequest struct {
	Key       string `json:"key" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
}

// LoginResponse is returned by a successful POST /auth
type LoginResponse struct {
	SessionToken string    `json:"session_token"`
	TokenType    string    `json:"token_type"`
	Expiration   time.Time `json:"expiration"`
	ExpiresIn    int64     `json:"expires_in"`
}

// RegisterRequest is the body of POST /register
type RegisterRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	Label     string `json:"label"`
}

// KeyResponse describes a registered access key
type KeyResponse struct {
	Key    string `json:"key"`
	Scheme string `json:"scheme"`
	Label  string `json:"label,omitempty"`
}

// Challenge handles nonce issuance
func (h *Handlers) Challenge(c *gin.Context) {
	nonce, err := h.authService.CreateChallenge(c.Request.Context(), c.Query("public_key"))
	if err != nil {
		if errors.Is(err, core.ErrInvalidKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid public key"})
			return
		}
		h.logger.Error("failed to create challenge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, ChallengeResponse{
		Nonce:      nonce.Value,
		Expiration: nonce.ExpiresAt.UTC(),
	})
}

// Login handles signature verification and session issuance
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.authService.Login(c.Request.Context(), req.Key, req.Signature, req.Nonce)
	if err != nil {
		c.Error(err)
		if core.IsAuthError(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": authMessage(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	ttl := session.Claims.ExpiresAt.Sub(session.Claims.IssuedAt)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookie, session.Token, int(ttl.Seconds()), "/", "", h.opts.SecureCookie, true)

	c.JSON(http.StatusOK, LoginResponse{
		SessionToken: session.Token,
		TokenType:    "Bearer",
		Expiration:   session.Claims.ExpiresAt.UTC(),
		ExpiresIn:    int64(ttl.Seconds()),
	})
}

// Register adds a new access key. Only authenticated principals get here.
func (h *Handlers) Register(c *gin.Context) {
	claims, _ := claimsFrom(c)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	key, err := h.authService.RegisterKey(c.Request.Context(), claims, req.PublicKey, req.Label)
	if err != nil {
		c.Error(err)
		switch {
		case errors.Is(err, core.ErrAlreadyRegistered):
			c.JSON(http.StatusConflict, gin.H{"error": "Key already registered"})
		case errors.Is(err, core.ErrInvalidKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid public key"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register key"})
		}
		return
	}

	c.JSON(http.StatusCreated, keyResponse(key))
}

// Keys lists registered access keys
func (h *Handlers) Keys(c *gin.Context) {
	keys, err := h.authService.ListKeys(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, keyResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// Prove forwards the workload request to the backend's sandbox and relays
// the raw output
func (h *Handlers) Prove(c *gin.Context) {
	claims, _ := claimsFrom(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBodyBytes)
	payload, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.proverService.Prove(c.Request.Context(), claims.Subject, c.Param("backend"), payload)
	if result.JobID != "" {
		c.Header("X-Prover-Job-Id", result.JobID)
	}
	if err != nil {
		c.Error(err)
		h.writeProveError(c, err)
		return
	}

	if result.Signature != nil {
		c.Header("X-Prover-Signature", hex.EncodeToString(result.Signature))
		c.Header("X-Prover-Key", h.proverService.IdentityKey())
	}
	c.Data(http.StatusOK, "application/json", result.Output)
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_jobs": h.proverService.ActiveJobs(),
		"backends":    h.proverService.Backends(),
	})
}

func (h *Handlers) writeProveError(c *gin.Context, err error) {
	var execErr *core.ExecutionError
	switch {
	case errors.Is(err, core.ErrUnknownBackend):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown backend"})
	case errors.Is(err, core.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must be a JSON document"})
	case errors.Is(err, core.ErrLaunchFailed):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sandbox unavailable"})
	case errors.Is(err, core.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Workload timed out"})
	case errors.As(err, &execErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Workload failed",
			"exit_code": execErr.ExitCode,
			"stderr":    string(execErr.Stderr),
		})
	case errors.Is(err, core.ErrOutputTooLarge):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Workload output too large"})
	case errors.Is(err, core.ErrOutputMalformed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Workload produced malformed output"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrNonceNotFound):
		return "Unknown nonce"
	case errors.Is(err, core.ErrNonceExpired):
		return "Nonce expired"
	case errors.Is(err, core.ErrNonceAlreadyConsumed):
		return "Nonce already used"
	case errors.Is(err, core.ErrUnknownKey):
		return "Unknown key"
	case errors.Is(err, core.ErrInvalidSignature):
		return "Invalid signature"
	default:
		return "Authentication failed"
	}
}

func keyResponse(key core.AccessKey) KeyResponse {
	return KeyResponse{
		Key:    key.ID(),
		Scheme: string(key.Scheme),
		Label:  key.Label,
	}
}

