// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiverso/petiverso/internal/config"
	"github.com/petiverso/petiverso/pkg/errutil"
)

var testSecret = strings.Repeat("s", config.MinSecretLength)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "petiverso.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, config.Default(), *cfg)
	assert.Equal(t, 8*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 4*time.Hour, cfg.Session.EffectiveThreshold())
	assert.Equal(t, "petiverso_session", cfg.Cookie.Name)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
storage: memory
session:
  ttl: 2h
cookie:
  secure: false
server:
  http_addr: ":9000"
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, config.StorageMemory, cfg.Storage)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, time.Hour, cfg.Session.EffectiveThreshold())
	assert.False(t, cfg.Cookie.Secure)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	// Untouched keys keep defaults.
	assert.Equal(t, "argon2id", cfg.Password.Algorithm)
	assert.Equal(t, uint64(3), cfg.Audit.Retries)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_FILE_FAILED")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "session:\n  ttl: 2h\n")

	t.Setenv("SESSION_TTL", "12h")
	t.Setenv("RENEWAL_THRESHOLD", "1h")
	t.Setenv("DATABASE_URL", "postgres://app:pw@db:5432/petiverso")
	t.Setenv("COOKIE_SECRET", testSecret)
	t.Setenv("PETIVERSO_AUDIT__SPOOL_PATH", "/var/spool/petiverso.jsonl")
	t.Setenv("PETIVERSO_DATABASE__MAX_CONNS", "25")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.Equal(t, time.Hour, cfg.Session.EffectiveThreshold())
	assert.Equal(t, "postgres://app:pw@db:5432/petiverso", cfg.Database.URL)
	assert.Equal(t, testSecret, cfg.Cookie.Secret)
	assert.Equal(t, "/var/spool/petiverso.jsonl", cfg.Audit.SpoolPath)
	assert.Equal(t, int32(25), cfg.Database.MaxConns)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	t.Setenv("PETIVERSO_SERVER__HTTP_ADDR", ":7000")
	t.Setenv("PETIVERSO_LOG__FORMAT", "text")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("http-addr", ":8080", "")
	flags.String("log-format", "json", "")
	require.NoError(t, flags.Parse([]string{"--http-addr=:6000"}))

	cfg, err := config.Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.HTTPAddr)
	// An unchanged flag default never masks the environment.
	assert.Equal(t, "text", cfg.Log.Format)
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Database.URL = "postgres://localhost/petiverso"
	cfg.Cookie.Secret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantKey string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "memory storage needs no database", mutate: func(c *config.Config) {
			c.Storage = config.StorageMemory
			c.Database.URL = ""
		}},
		{name: "postgres without url", mutate: func(c *config.Config) { c.Database.URL = "" }, wantKey: "database.url"},
		{name: "unknown storage", mutate: func(c *config.Config) { c.Storage = "redis" }, wantKey: "storage"},
		{name: "zero ttl", mutate: func(c *config.Config) { c.Session.TTL = 0 }, wantKey: "session.ttl"},
		{name: "threshold equal to ttl", mutate: func(c *config.Config) { c.Session.RenewalThreshold = c.Session.TTL }, wantKey: "session.renewal_threshold"},
		{name: "negative threshold", mutate: func(c *config.Config) { c.Session.RenewalThreshold = -time.Second }, wantKey: "session.renewal_threshold"},
		{name: "short secret", mutate: func(c *config.Config) { c.Cookie.Secret = "short" }, wantKey: "cookie.secret"},
		{name: "short previous secret", mutate: func(c *config.Config) { c.Cookie.PreviousSecrets = []string{"old"} }, wantKey: "cookie.secret"},
		{name: "unknown algorithm", mutate: func(c *config.Config) { c.Password.Algorithm = "md5" }, wantKey: "password.algorithm"},
		{name: "unknown log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, wantKey: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.wantKey)
		})
	}
}

func TestRedact(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://app:hunter2@db:5432/petiverso"
	cfg.Cookie.PreviousSecrets = []string{testSecret}

	redacted := cfg.Redact()

	assert.Equal(t, config.Redacted, redacted.Cookie.Secret)
	assert.Equal(t, []string{config.Redacted}, redacted.Cookie.PreviousSecrets)
	assert.NotContains(t, redacted.Database.URL, "hunter2")
	assert.Contains(t, redacted.Database.URL, "db:5432")
	// The original is untouched.
	assert.Equal(t, testSecret, cfg.Cookie.Secret)
	assert.Equal(t, testSecret, cfg.Cookie.PreviousSecrets[0])
}
