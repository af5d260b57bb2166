package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/prover/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, proverService *service.ProverService, opts Options, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	handlers := NewHandlers(authService, proverService, opts, logger)

	router.GET("/healthz", handlers.Health)

	// Challenge/response
	router.GET("/auth", handlers.Challenge)
	router.POST("/auth", handlers.Login)

	// Protected routes
	protected := router.Group("/")
	protected.Use(AuthMiddleware(authService))
	{
		protected.POST("/register", handlers.Register)
		protected.GET("/keys", handlers.Keys)
		protected.POST("/prove/:backend", handlers.Prove)
	}

	return router
}
