package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// flagValues holds raw flag values. Only flags that were set on the
// command line are copied into the Config.
type flagValues struct {
	config             string
	host               string
	port               int
	jwtSecretKey       string
	messageExpiration  time.Duration
	sessionExpiration  time.Duration
	privateKey         string
	authorizedKeys     []string
	authorizedKeysPath string
	keysStorePath      string
	redisURL           string
	logLevel           string
	logFormat          string
}

// newFlagSet returns the prover command-line flags
func newFlagSet(name string) (*pflag.FlagSet, *flagValues) {
	v := &flagValues{}
	d := Default()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&v.config, "config", "", "path to a YAML configuration file (env "+EnvPrefix+"CONFIG)")
	fs.StringVar(&v.host, "host", d.Host, "listen host")
	fs.IntVarP(&v.port, "port", "p", d.Port, "listen port")
	fs.StringVar(&v.jwtSecretKey, "jwt-secret-key", "", "secret used to sign session tokens")
	fs.DurationVar(&v.messageExpiration, "message-expiration", d.MessageExpiration, "nonce lifetime")
	fs.DurationVar(&v.sessionExpiration, "session-expiration", d.SessionExpiration, "session token lifetime")
	fs.StringVar(&v.privateKey, "private-key", "", "hex ed25519 seed of the server identity")
	fs.StringSliceVar(&v.authorizedKeys, "authorized-keys", nil, "hex public keys trusted at startup")
	fs.StringVar(&v.authorizedKeysPath, "authorized-keys-path", "", "YAML or JSON file listing trusted public keys")
	fs.StringVar(&v.keysStorePath, "keys-store-path", "", "file where registered keys are persisted")
	fs.StringVar(&v.redisURL, "redis-url", "", "redis URL for nonces, keys and events")
	fs.StringVar(&v.logLevel, "log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.StringVar(&v.logFormat, "log-format", d.Log.Format, "log format: text or json")
	return fs, v
}

// apply copies flags that were set explicitly onto c
func (v *flagValues) apply(fs *pflag.FlagSet, c *Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			c.Host = v.host
		case "port":
			c.Port = v.port
		case "jwt-secret-key":
			c.JWTSecretKey = v.jwtSecretKey
		case "message-expiration":
			c.MessageExpiration = v.messageExpiration
		case "session-expiration":
			c.SessionExpiration = v.sessionExpiration
		case "private-key":
			c.PrivateKey = v.privateKey
		case "authorized-keys":
			c.AuthorizedKeys = v.authorizedKeys
		case "authorized-keys-path":
			c.AuthorizedKeysPath = v.authorizedKeysPath
		case "keys-store-path":
			c.KeysStorePath = v.keysStorePath
		case "redis-url":
			c.RedisURL = v.redisURL
		case "log-level":
			c.Log.Level = v.logLevel
		case "log-format":
			c.Log.Format = v.logFormat
		}
	})
}

// Load resolves the configuration from args and the environment and
// validates it. It returns pflag.ErrHelp when help was requested.
func Load(name string, args []string, getenv func(string) string) (*Config, error) {
	fs, flags := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	path := flags.config
	if path == "" {
		path = getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	flags.apply(fs, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
