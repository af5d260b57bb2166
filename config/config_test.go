package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/prover/core"
)

const (
	edKey   = "3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29"
	edSeed  = "f91350db1ca372b54376b519be8bf73a7bbbbefc4ffe169797bc3f5ea2dec740"
	secpKey = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("prover", []string{"--jwt-secret-key", "s"}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
	assert.Equal(t, time.Minute, cfg.MessageExpiration)
	assert.Equal(t, time.Hour, cfg.SessionExpiration)
	require.Len(t, cfg.Backends, 2)
	for i, name := range []string{"cairo0", "cairo1"} {
		b := cfg.Backends[i]
		assert.Equal(t, name, b.Name)
		assert.Equal(t, RuntimeContainer, b.Runtime)
		assert.Equal(t, "docker.io/chudas/stone5-poseidon3:latest", b.Spec().Image)
		assert.Equal(t, 10*time.Minute, b.Timeout)
	}
}

func TestLayering(t *testing.T) {
	path := writeFile(t, "prover.yaml", `
host: 127.0.0.1
port: 4000
jwt_secret_key: from-file
message_expiration: 30s
log:
  format: json
backends:
  - name: echo
    runtime: process
    command: ["cat"]
    timeout: 5s
  - name: cairo1
    runtime: container
    container_runtime: docker
    image: example/cairo1:latest
    timeout: 10m
    memory_mb: 2048
    cpus: 1.5
`)

	cfg, err := Load("prover",
		[]string{"--config", path, "--port", "5000"},
		env(map[string]string{
			"PROVER_PORT":               "4500",
			"PROVER_SESSION_EXPIRATION": "7200",
			"PROVER_AUTHORIZED_KEYS":    edKey + ", " + secpKey,
		}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)                 // file
	assert.Equal(t, 5000, cfg.Port)                        // flag beats env and file
	assert.Equal(t, "from-file", cfg.JWTSecretKey)         // file
	assert.Equal(t, 30*time.Second, cfg.MessageExpiration) // file
	assert.Equal(t, 2*time.Hour, cfg.SessionExpiration)    // env
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level) // default kept
	assert.Equal(t, []string{edKey, secpKey}, cfg.AuthorizedKeys)

	require.Len(t, cfg.Backends, 2)
	spec := cfg.Backends[1].Spec()
	assert.Equal(t, core.ResourceLimits{MemoryMB: 2048, CPUs: 1.5}, spec.Limits)
	assert.Equal(t, 10*time.Minute, cfg.Backends[1].Timeout)
}

func TestConfigFromEnv(t *testing.T) {
	path := writeFile(t, "prover.yaml", "jwt_secret_key: x\n")
	cfg, err := Load("prover", nil, env(map[string]string{"PROVER_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.JWTSecretKey)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"missing secret", nil, nil},
		{"bad port env", []string{"--jwt-secret-key", "s"}, map[string]string{"PROVER_PORT": "http"}},
		{"session too long", []string{"--jwt-secret-key", "s", "--session-expiration", "25h"}, nil},
		{"zero nonce ttl", []string{"--jwt-secret-key", "s", "--message-expiration", "0s"}, nil},
		{"short private key", []string{"--jwt-secret-key", "s", "--private-key", "abcd"}, nil},
		{"bad log format", []string{"--jwt-secret-key", "s", "--log-format", "xml"}, nil},
		{"missing config file", []string{"--config", "/nonexistent/prover.yaml"}, nil},
		{"unknown flag", []string{"--frobnicate"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("prover", tt.args, env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestHelp(t *testing.T) {
	_, err := Load("prover", []string{"--help"}, env(nil))
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestValidateBackends(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.JWTSecretKey = "s"
		return cfg
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name    string
		backend BackendConfig
	}{
		{"no name", BackendConfig{Runtime: RuntimeProcess, Command: []string{"cat"}, Timeout: time.Second}},
		{"slash in name", BackendConfig{Name: "a/b", Runtime: RuntimeProcess, Command: []string{"cat"}, Timeout: time.Second}},
		{"no timeout", BackendConfig{Name: "a", Runtime: RuntimeProcess, Command: []string{"cat"}}},
		{"container without image", BackendConfig{Name: "a", Runtime: RuntimeContainer, Timeout: time.Second}},
		{"unknown container cli", BackendConfig{Name: "a", Runtime: RuntimeContainer, ContainerRuntime: "lxc", Image: "i", Timeout: time.Second}},
		{"bwrap without command", BackendConfig{Name: "a", Runtime: RuntimeBwrap, Timeout: time.Second}},
		{"unknown runtime", BackendConfig{Name: "a", Runtime: "vm", Timeout: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			cfg.Backends = []BackendConfig{tt.backend}
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		cfg := base()
		cfg.Backends = append(cfg.Backends, cfg.Backends[0])
		assert.ErrorContains(t, cfg.Validate(), "defined twice")
	})
}

func TestIdentity(t *testing.T) {
	cfg := Default()
	key, err := cfg.Identity()
	require.NoError(t, err)
	assert.Nil(t, key)

	cfg.PrivateKey = "0x" + edSeed
	key, err = cfg.Identity()
	require.NoError(t, err)
	assert.Len(t, key, 64)
}

func TestLoadAuthorizedKeys(t *testing.T) {
	path := writeFile(t, "keys.yaml", "- key: "+secpKey+"\n  label: ops\n")

	cfg := Default()
	cfg.AuthorizedKeys = []string{edKey}
	cfg.AuthorizedKeysPath = path

	keys, err := cfg.LoadAuthorizedKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, core.SchemeEd25519, keys[0].Scheme)
	assert.Equal(t, core.SchemeSecp256k1, keys[1].Scheme)
	assert.Equal(t, "ops", keys[1].Label)

	cfg.AuthorizedKeys = []string{"nothex"}
	_, err = cfg.LoadAuthorizedKeys()
	assert.ErrorIs(t, err, core.ErrInvalidKey)
}
