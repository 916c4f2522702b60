// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Pairing.Store)
	assert.Equal(t, 5*time.Minute, cfg.Pairing.TTL)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Token.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9443
  shutdown_timeout: 5s
logging:
  level: debug
  format: text
relying_party:
  id: example.com
  display_name: Example
  origin: https://example.com
  android_key_hashes:
    - hashA
    - hashB
  timeout: 30s
pairing:
  store: memory
  ttl: 2m
storage:
  backend: memory
token:
  enabled: true
  secret: super-secret
  issuer: example
  expires_in: 15m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "example.com", cfg.RelyingParty.RPID)
	assert.Equal(t, []string{"hashA", "hashB"}, cfg.RelyingParty.AndroidKeyHashes)
	assert.Equal(t, 30*time.Second, cfg.RelyingParty.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Pairing.TTL)
	assert.True(t, cfg.Token.Enabled)
	assert.Equal(t, "super-secret", cfg.Token.Secret)
	assert.Equal(t, 15*time.Minute, cfg.Token.ExpiresIn)

	// Validate ran SetDefaults on the relying party section.
	assert.Equal(t, "preferred", cfg.RelyingParty.UserVerification)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
relying_party:
  id: example.com
  display_name: Example
  origin: https://example.com
`)

	t.Setenv("PAIRKEY_HOST", "10.0.0.5")
	t.Setenv("PAIRKEY_PORT", "9000")
	t.Setenv("PAIRKEY_LOG_LEVEL", "warn")
	t.Setenv("PAIRKEY_LOG_FORMAT", "text")
	t.Setenv("PAIRKEY_RP_ID", "override.example.com")
	t.Setenv("PAIRKEY_RP_ORIGIN", "https://override.example.com")
	t.Setenv("PAIRKEY_ANDROID_KEY_HASHES", "hashX, hashY ,")
	t.Setenv("PAIRKEY_SQLITE_PATH", filepath.Join(t.TempDir(), "pairkey.db"))
	t.Setenv("PAIRKEY_TOKEN_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "override.example.com", cfg.RelyingParty.RPID)
	assert.Equal(t, "https://override.example.com", cfg.RelyingParty.WebOrigin)
	assert.Equal(t, []string{"hashX", "hashY"}, cfg.RelyingParty.AndroidKeyHashes)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.True(t, cfg.Token.Enabled)
	assert.Equal(t, "env-secret", cfg.Token.Secret)
}

func TestLoadInvalidPortEnvKeepsDefault(t *testing.T) {
	path := writeConfig(t, `
relying_party:
  id: example.com
  display_name: Example
  origin: https://example.com
`)

	t.Setenv("PAIRKEY_PORT", "not-a-port")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	t.Setenv("PAIRKEY_PORT", "70000")

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRedisEnvSelectsRedisStore(t *testing.T) {
	path := writeConfig(t, `
relying_party:
  id: example.com
  display_name: Example
  origin: https://example.com
`)

	t.Setenv("PAIRKEY_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Pairing.Store)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Pairing.RedisURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "invalid relying party",
			mutate:  func(c *Config) { c.RelyingParty.RPID = "" },
			wantErr: "relying_party",
		},
		{
			name:    "unknown pairing store",
			mutate:  func(c *Config) { c.Pairing.Store = "etcd" },
			wantErr: "invalid pairing store",
		},
		{
			name:    "redis store without url",
			mutate:  func(c *Config) { c.Pairing.Store = "redis" },
			wantErr: "redis_url is required",
		},
		{
			name:    "non-positive ttl",
			mutate:  func(c *Config) { c.Pairing.TTL = 0 },
			wantErr: "ttl must be positive",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "invalid storage backend",
		},
		{
			name:    "sqlite backend without path",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite" },
			wantErr: "storage path is required",
		},
		{
			name:    "token enabled without secret",
			mutate:  func(c *Config) { c.Token.Enabled = true },
			wantErr: "token secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
