// Package config resolves the prover server configuration.
//
// Values are layered, each source overriding the previous one:
//   - built-in defaults
//   - a YAML file given by --config or PROVER_CONFIG
//   - PROVER_* environment variables
//   - command-line flags
//
// The result is resolved once at startup and treated as immutable.
package config

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/layer-3/prover/adapters/store"
	"github.com/layer-3/prover/adapters/tokenizer"
	"github.com/layer-3/prover/core"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "PROVER_"

// Sandbox runtimes a backend can use
const (
	RuntimeContainer = "container"
	RuntimeBwrap     = "bwrap"
	RuntimeProcess   = "process"
)

// Config is the prover server configuration
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// JWTSecretKey signs session tokens
	JWTSecretKey string `yaml:"jwt_secret_key"`

	// MessageExpiration is the nonce lifetime
	MessageExpiration time.Duration `yaml:"message_expiration"`

	// SessionExpiration is the session token lifetime
	SessionExpiration time.Duration `yaml:"session_expiration"`

	// PrivateKey is the hex ed25519 seed of the server identity. Prove
	// responses are signed with it when set.
	PrivateKey string `yaml:"private_key"`

	// AuthorizedKeys are hex public keys trusted at startup
	AuthorizedKeys []string `yaml:"authorized_keys"`

	// AuthorizedKeysPath points to a YAML or JSON list of trusted keys
	AuthorizedKeysPath string `yaml:"authorized_keys_path"`

	// KeysStorePath persists registered keys to a file when set
	KeysStorePath string `yaml:"keys_store_path"`

	// RedisURL switches nonces, keys and events to redis when set
	RedisURL string `yaml:"redis_url"`

	// MaxBodyBytes caps workload request bodies
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	SecureCookie bool `yaml:"secure_cookie"`

	Log LogConfig `yaml:"log"`

	Backends []BackendConfig `yaml:"backends"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// BackendConfig declares one named prove backend
type BackendConfig struct {
	Name string `yaml:"name"`

	// Runtime is container, bwrap or process
	Runtime string `yaml:"runtime"`

	// ContainerRuntime is the CLI used by the container runtime, podman or docker
	ContainerRuntime string `yaml:"container_runtime"`

	Image   string            `yaml:"image"`
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`

	MemoryMB  int     `yaml:"memory_mb"`
	CPUs      float64 `yaml:"cpus"`
	PidsLimit int     `yaml:"pids_limit"`
}

// Spec returns the launch spec for jobs dispatched to this backend
func (b BackendConfig) Spec() core.LaunchSpec {
	return core.LaunchSpec{
		Image:   b.Image,
		Command: b.Command,
		Env:     b.Env,
		Limits: core.ResourceLimits{
			MemoryMB:  b.MemoryMB,
			CPUs:      b.CPUs,
			PidsLimit: b.PidsLimit,
		},
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              3000,
		MessageExpiration: 60 * time.Second,
		SessionExpiration: time.Hour,
		MaxBodyBytes:      64 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backends: []BackendConfig{
			{
				Name:             "cairo0",
				Runtime:          RuntimeContainer,
				ContainerRuntime: "podman",
				Image:            "docker.io/chudas/stone5-poseidon3:latest",
				Timeout:          10 * time.Minute,
				PidsLimit:        256,
			},
			{
				Name:             "cairo1",
				Runtime:          RuntimeContainer,
				ContainerRuntime: "podman",
				Image:            "docker.io/chudas/stone5-poseidon3:latest",
				Timeout:          10 * time.Minute,
				PidsLimit:        256,
			},
		},
	}
}

// LoadFile overlays the YAML file at path onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays PROVER_* variables returned by getenv onto c
func (c *Config) ApplyEnv(getenv func(string) string) error {
	lookup := func(name string) (string, bool) {
		v := getenv(EnvPrefix + name)
		return v, v != ""
	}

	if v, ok := lookup("HOST"); ok {
		c.Host = v
	}
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", EnvPrefix, err)
		}
		c.Port = port
	}
	if v, ok := lookup("JWT_SECRET_KEY"); ok {
		c.JWTSecretKey = v
	}
	if v, ok := lookup("MESSAGE_EXPIRATION"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%sMESSAGE_EXPIRATION: %w", EnvPrefix, err)
		}
		c.MessageExpiration = d
	}
	if v, ok := lookup("SESSION_EXPIRATION"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSESSION_EXPIRATION: %w", EnvPrefix, err)
		}
		c.SessionExpiration = d
	}
	if v, ok := lookup("PRIVATE_KEY"); ok {
		c.PrivateKey = v
	}
	if v, ok := lookup("AUTHORIZED_KEYS"); ok {
		c.AuthorizedKeys = splitList(v)
	}
	if v, ok := lookup("AUTHORIZED_KEYS_PATH"); ok {
		c.AuthorizedKeysPath = v
	}
	if v, ok := lookup("KEYS_STORE_PATH"); ok {
		c.KeysStorePath = v
	}
	if v, ok := lookup("REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the configuration can start a server
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.JWTSecretKey == "" {
		errs = append(errs, errors.New("jwt secret key is required"))
	}
	if c.MessageExpiration <= 0 {
		errs = append(errs, errors.New("message expiration must be positive"))
	}
	if c.SessionExpiration <= 0 || c.SessionExpiration > tokenizer.MaxSessionLifetime {
		errs = append(errs, fmt.Errorf("session expiration must be in (0, %s]", tokenizer.MaxSessionLifetime))
	}
	if c.PrivateKey != "" {
		if _, err := c.Identity(); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(c.Backends) == 0 {
		errs = append(errs, errors.New("at least one backend is required"))
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if err := b.validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[b.Name] {
			errs = append(errs, fmt.Errorf("backend %q defined twice", b.Name))
		}
		seen[b.Name] = true
	}

	return errors.Join(errs...)
}

func (b BackendConfig) validate() error {
	if b.Name == "" || strings.ContainsAny(b.Name, "/ ") {
		return fmt.Errorf("invalid backend name %q", b.Name)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("backend %q: timeout must be positive", b.Name)
	}
	switch b.Runtime {
	case RuntimeContainer:
		if b.Image == "" {
			return fmt.Errorf("backend %q: image is required", b.Name)
		}
		switch b.ContainerRuntime {
		case "", "podman", "docker":
		default:
			return fmt.Errorf("backend %q: unknown container runtime %q", b.Name, b.ContainerRuntime)
		}
	case RuntimeBwrap, RuntimeProcess:
		if len(b.Command) == 0 {
			return fmt.Errorf("backend %q: command is required", b.Name)
		}
	default:
		return fmt.Errorf("backend %q: unknown runtime %q", b.Name, b.Runtime)
	}
	return nil
}

// Identity decodes the server identity key. It returns nil when no key is
// configured.
func (c *Config) Identity() (ed25519.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, nil
	}
	seed, err := core.DecodeHex(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key: seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadAuthorizedKeys resolves the configured key list and key file into
// access keys
func (c *Config) LoadAuthorizedKeys() ([]core.AccessKey, error) {
	records := make([]store.KeyRecord, 0, len(c.AuthorizedKeys))
	for _, k := range c.AuthorizedKeys {
		records = append(records, store.KeyRecord{Key: k})
	}

	if c.AuthorizedKeysPath != "" {
		fromFile, err := store.ReadKeyFile(c.AuthorizedKeysPath)
		if err != nil {
			return nil, err
		}
		records = append(records, fromFile...)
	}

	return store.ParseKeyRecords(records)
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90")
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
