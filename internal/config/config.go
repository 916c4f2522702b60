// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

// Package config loads the server configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pairkey/pairkey/pkg/rp"
)

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig  `yaml:"server"`
	Logging      LoggingConfig `yaml:"logging"`
	RelyingParty rp.Config     `yaml:"relying_party"`
	Pairing      PairingConfig `yaml:"pairing"`
	Storage      StorageConfig `yaml:"storage"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Token        TokenConfig   `yaml:"token"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PairingConfig controls the cross-device session broker
type PairingConfig struct {
	// Store selects the broker backend: memory or redis
	Store string `yaml:"store"`

	// TTL is how long sessions stay observable
	TTL time.Duration `yaml:"ttl"`

	// RedisURL is the connection URL for the redis store
	RedisURL string `yaml:"redis_url"`

	// SweepInterval is how often the memory store reclaims expired
	// sessions
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StorageConfig selects the identity/credential store backend
type StorageConfig struct {
	// Backend selects the store: memory or sqlite
	Backend string `yaml:"backend"`

	// Path is the SQLite database file for the sqlite backend
	Path string `yaml:"path"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TokenConfig controls post-login JWT issuance
type TokenConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  []string      `yaml:"audience"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// Default returns a configuration with development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RelyingParty: rp.Config{
			RPID:          "localhost",
			RPDisplayName: "Pairkey",
			WebOrigin:     "http://localhost:8080",
		},
		Pairing: PairingConfig{
			Store:         "memory",
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PAIRKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("PAIRKEY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid PAIRKEY_PORT value %q, using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := os.Getenv("PAIRKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PAIRKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if rpID := os.Getenv("PAIRKEY_RP_ID"); rpID != "" {
		cfg.RelyingParty.RPID = rpID
	}
	if origin := os.Getenv("PAIRKEY_RP_ORIGIN"); origin != "" {
		cfg.RelyingParty.WebOrigin = origin
	}
	if hashes := os.Getenv("PAIRKEY_ANDROID_KEY_HASHES"); hashes != "" {
		parts := strings.Split(hashes, ",")
		list := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				list = append(list, trimmed)
			}
		}
		cfg.RelyingParty.AndroidKeyHashes = list
	}

	if redisURL := os.Getenv("PAIRKEY_REDIS_URL"); redisURL != "" {
		cfg.Pairing.Store = "redis"
		cfg.Pairing.RedisURL = redisURL
	}
	if sqlitePath := os.Getenv("PAIRKEY_SQLITE_PATH"); sqlitePath != "" {
		cfg.Storage.Backend = "sqlite"
		cfg.Storage.Path = sqlitePath
	}

	if secret := os.Getenv("PAIRKEY_TOKEN_SECRET"); secret != "" {
		cfg.Token.Enabled = true
		cfg.Token.Secret = secret
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	c.RelyingParty.SetDefaults()
	if err := c.RelyingParty.Validate(); err != nil {
		return fmt.Errorf("relying_party: %w", err)
	}

	switch c.Pairing.Store {
	case "memory":
	case "redis":
		if c.Pairing.RedisURL == "" {
			return fmt.Errorf("pairing redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid pairing store: %s (must be memory or redis)", c.Pairing.Store)
	}
	if c.Pairing.TTL <= 0 {
		return fmt.Errorf("pairing ttl must be positive")
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	if c.Token.Enabled && c.Token.Secret == "" {
		return fmt.Errorf("token secret is required when token issuance is enabled")
	}

	return nil
}
