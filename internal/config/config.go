// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

// Package config loads petiverso configuration from defaults, a YAML file,
// the environment, and command-line flags, in increasing precedence.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// EnvPrefix is the prefix of structured environment keys, e.g.
// PETIVERSO_SERVER__HTTP_ADDR sets server.http_addr.
const EnvPrefix = "PETIVERSO_"

// MinSecretLength is the minimum cookie signing key length in bytes.
const MinSecretLength = 32

// Redacted replaces secrets when configuration is displayed.
const Redacted = "[redacted]"

// envAliases maps bare environment variables onto configuration keys.
var envAliases = map[string]string{
	"DATABASE_URL":      "database.url",
	"COOKIE_SECRET":     "cookie.secret",
	"SESSION_TTL":       "session.ttl",
	"RENEWAL_THRESHOLD": "session.renewal_threshold",
}

// Config is the complete runtime configuration.
type Config struct {
	Storage  string         `koanf:"storage" yaml:"storage"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Cookie   CookieConfig   `koanf:"cookie" yaml:"cookie"`
	Password PasswordConfig `koanf:"password" yaml:"password"`
	Audit    AuditConfig    `koanf:"audit" yaml:"audit"`
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" yaml:"url"`
	MaxConns        int32         `koanf:"max_conns" yaml:"max_conns"`
	MinConns        int32         `koanf:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
}

// SessionConfig configures session lifetime and renewal.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl" yaml:"ttl"`
	// RenewalThreshold of zero means TTL/2.
	RenewalThreshold time.Duration `koanf:"renewal_threshold" yaml:"renewal_threshold"`
}

// EffectiveThreshold returns the renewal threshold, defaulting to TTL/2.
func (s SessionConfig) EffectiveThreshold() time.Duration {
	if s.RenewalThreshold > 0 {
		return s.RenewalThreshold
	}
	return s.TTL / 2
}

// CookieConfig configures the principal cookie.
type CookieConfig struct {
	Name   string `koanf:"name" yaml:"name"`
	Secret string `koanf:"secret" yaml:"secret"`
	// PreviousSecrets still verify cookies during key rotation.
	PreviousSecrets []string `koanf:"previous_secrets" yaml:"previous_secrets"`
	Secure          bool     `koanf:"secure" yaml:"secure"`
}

// Keys returns the signing key followed by the verification-only keys.
func (c CookieConfig) Keys() [][]byte {
	keys := make([][]byte, 0, 1+len(c.PreviousSecrets))
	keys = append(keys, []byte(c.Secret))
	for _, s := range c.PreviousSecrets {
		keys = append(keys, []byte(s))
	}
	return keys
}

// PasswordConfig selects the password hashing algorithm.
type PasswordConfig struct {
	Algorithm  string `koanf:"algorithm" yaml:"algorithm"`
	BcryptCost int    `koanf:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// AuditConfig configures login attempt recording.
type AuditConfig struct {
	Retries   uint64        `koanf:"retries" yaml:"retries"`
	RetryBase time.Duration `koanf:"retry_base" yaml:"retry_base"`
	RetryCap  time.Duration `koanf:"retry_cap" yaml:"retry_cap"`
	SpoolPath string        `koanf:"spool_path" yaml:"spool_path"`
}

// ServerConfig configures listeners.
type ServerConfig struct {
	HTTPAddr        string        `koanf:"http_addr" yaml:"http_addr"`
	MetricsAddr     string        `koanf:"metrics_addr" yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StoragePostgres,
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			ConnectTimeout:  5 * time.Second,
		},
		Session: SessionConfig{
			TTL: 8 * time.Hour,
		},
		Cookie: CookieConfig{
			Name:   "petiverso_session",
			Secure: true,
		},
		Password: PasswordConfig{
			Algorithm: "argon2id",
		},
		Audit: AuditConfig{
			Retries:   3,
			RetryBase: 25 * time.Millisecond,
			RetryCap:  250 * time.Millisecond,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			MetricsAddr:     "127.0.0.1:9100",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load builds the configuration. path may be empty. flags may be nil; only
// flags the user changed override lower layers, and a flag named with dashes
// maps to the key in FlagKeys.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"http-addr":    "server.http_addr",
	"metrics-addr": "server.metrics_addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"storage":      "storage",
	"database-url": "database.url",
}

// envKey maps an environment variable name to a configuration key, or ""
// to ignore it.
func envKey(name string) string {
	if key, ok := envAliases[name]; ok {
		return key
	}
	rest, ok := strings.CutPrefix(name, EnvPrefix)
	if !ok || rest == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(rest), "__", ".")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").With("key", "database.url").
				Errorf("database url is required for postgres storage")
		}
	case StorageMemory:
	default:
		return oops.Code("CONFIG_INVALID").With("key", "storage").
			Errorf("unknown storage %q (want postgres or memory)", c.Storage)
	}

	if c.Session.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "session.ttl").
			Errorf("session ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.RenewalThreshold < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "session.renewal_threshold").
			Errorf("renewal threshold must not be negative, got %s", c.Session.RenewalThreshold)
	}
	if threshold := c.Session.EffectiveThreshold(); threshold <= 0 || threshold >= c.Session.TTL {
		return oops.Code("CONFIG_INVALID").With("key", "session.renewal_threshold").
			Errorf("renewal threshold %s must be between 0 and the session ttl %s", threshold, c.Session.TTL)
	}

	if c.Cookie.Name == "" {
		return oops.Code("CONFIG_INVALID").With("key", "cookie.name").Errorf("cookie name is required")
	}
	for i, key := range c.Cookie.Keys() {
		if len(key) < MinSecretLength {
			return oops.Code("CONFIG_INVALID").With("key", "cookie.secret").With("index", i).
				Errorf("cookie secrets must be at least %d bytes", MinSecretLength)
		}
	}

	switch c.Password.Algorithm {
	case "argon2id", "bcrypt":
	default:
		return oops.Code("CONFIG_INVALID").With("key", "password.algorithm").
			Errorf("unknown password algorithm %q (want argon2id or bcrypt)", c.Password.Algorithm)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("unknown log format %q (want json or text)", c.Log.Format)
	}

	if c.Server.HTTPAddr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "server.http_addr").Errorf("http address is required")
	}
	return nil
}

// Redact returns a copy with secrets replaced, suitable for display.
func (c Config) Redact() Config {
	if c.Cookie.Secret != "" {
		c.Cookie.Secret = Redacted
	}
	if len(c.Cookie.PreviousSecrets) > 0 {
		prev := make([]string, len(c.Cookie.PreviousSecrets))
		for i := range prev {
			prev[i] = Redacted
		}
		c.Cookie.PreviousSecrets = prev
	}
	c.Database.URL = redactURL(c.Database.URL)
	return c
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
