package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/layer-3/prover/adapters/events"
	"github.com/layer-3/prover/adapters/sandbox"
	"github.com/layer-3/prover/adapters/signature"
	"github.com/layer-3/prover/adapters/store"
	"github.com/layer-3/prover/adapters/tokenizer"
	"github.com/layer-3/prover/config"
	"github.com/layer-3/prover/ports"
	"github.com/layer-3/prover/service"
	transport "github.com/layer-3/prover/transport/http"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("prover", os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	nonces, registry, err := newStores(cfg, redisClient)
	if err != nil {
		return err
	}

	authorized, err := cfg.LoadAuthorizedKeys()
	if err != nil {
		return fmt.Errorf("failed to load authorized keys: %w", err)
	}
	if err := registry.Seed(ctx, authorized); err != nil {
		return fmt.Errorf("failed to seed key registry: %w", err)
	}
	logger.Info("key registry ready", "authorized", len(authorized))

	publisher, err := newPublisher(redisClient)
	if err != nil {
		return err
	}
	defer publisher.Close()
	eventPub := events.NewWatermillPublisher(publisher)

	tk, err := tokenizer.NewJWTTokenizer([]byte(cfg.JWTSecretKey), cfg.SessionExpiration)
	if err != nil {
		return err
	}

	authService := service.NewAuthService(service.AuthConfig{
		Nonces:    nonces,
		Registry:  registry,
		Verifier:  signature.NewVerifier(registry),
		Tokenizer: tk,
		EventPub:  eventPub,
		Logger:    logger.With("component", "auth"),
	})

	identity, err := cfg.Identity()
	if err != nil {
		return err
	}

	runner := service.NewRunner(nil, logger.With("component", "runner"))
	proverService, err := service.NewProverService(service.ProverConfig{
		Runner:   runner,
		Backends: newBackends(cfg.Backends, logger),
		EventPub: eventPub,
		Identity: identity,
		Logger:   logger.With("component", "prover"),
	})
	if err != nil {
		return err
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.SetupRouter(authService, proverService, transport.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		SecureCookie: cfg.SecureCookie,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "backends", proverService.Backends())
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Kill running workloads first so in-flight prove handlers return.
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to terminate running jobs", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func newStores(cfg *config.Config, redisClient *redis.Client) (ports.NonceStore, ports.KeyRegistry, error) {
	if redisClient != nil {
		return store.NewRedisNonceStore(redisClient, cfg.MessageExpiration, nil),
			store.NewRedisKeyRegistry(redisClient), nil
	}

	nonces := store.NewMemoryNonceStore(cfg.MessageExpiration, nil)
	if cfg.KeysStorePath != "" {
		registry, err := store.NewFileKeyRegistry(cfg.KeysStorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open key store: %w", err)
		}
		return nonces, registry, nil
	}
	return nonces, store.NewMemoryKeyRegistry(), nil
}

// newPublisher returns a redis stream publisher when redis is configured and
// an in-process channel otherwise
func newPublisher(redisClient *redis.Client) (message.Publisher, error) {
	wlogger := watermill.NewStdLogger(false, false)

	if redisClient == nil {
		return gochannel.NewGoChannel(gochannel.Config{}, wlogger), nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		wlogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	return publisher, nil
}

func newBackends(configs []config.BackendConfig, logger *slog.Logger) []service.Backend {
	backends := make([]service.Backend, 0, len(configs))
	for _, bc := range configs {
		sandboxLogger := logger.With("backend", bc.Name, "runtime", bc.Runtime)

		var sb ports.Sandbox
		switch bc.Runtime {
		case config.RuntimeContainer:
			sb = &sandbox.ContainerSandbox{Runtime: bc.ContainerRuntime, Logger: sandboxLogger}
		case config.RuntimeBwrap:
			sb = &sandbox.BwrapSandbox{Logger: sandboxLogger}
		default:
			sb = &sandbox.ProcessSandbox{Logger: sandboxLogger}
		}

		backends = append(backends, service.Backend{
			Name:    bc.Name,
			Sandbox: sb,
			Target:  bc.Spec(),
			Timeout: bc.Timeout,
		})
	}
	return backends
}
