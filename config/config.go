// Package config loads process configuration once at startup into an
// immutable Config passed down explicitly. Secrets are validated here and
// the process refuses to start when they are malformed; they are never
// logged.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

const (
	// EnvMasterKey wraps private keys at rest.
	EnvMasterKey = "MASTER_KEY"
	// EnvSessionSecret wraps session keys at rest.
	EnvSessionSecret = "SESSION_SECRET"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvListenAddr    = "PARKIFY_ADDR"
	EnvTokenTTL      = "TOKEN_TTL"
	EnvEnvironment   = "PARKIFY_ENV"
)

const (
	defaultListenAddr = ":8080"
	defaultTokenTTL   = 2 * time.Hour
	wrapSecretHexLen  = 64
)

// Config is the full process configuration.
type Config struct {
	DatabaseURL   string
	ListenAddr    string
	MasterSecret  string // 64 hex chars
	SessionSecret string // 64 hex chars
	TokenTTL      time.Duration
	Environment   string // "development" or "production"
}

// Development reports whether the process runs in development mode.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// Load reads configuration from the environment, applying an optional .env
// file first (OS environment wins). It fails fast on any invalid value.
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile is Load with an explicit env-file path; a missing file is
// not an error.
func LoadWithEnvFile(path string) (*Config, error) {
	fileEnv, err := parseEnvFile(path)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return fileEnv[key]
	}

	cfg := &Config{
		DatabaseURL:   lookup(EnvDatabaseURL),
		ListenAddr:    lookup(EnvListenAddr),
		MasterSecret:  lookup(EnvMasterKey),
		SessionSecret: lookup(EnvSessionSecret),
		Environment:   lookup(EnvEnvironment),
		TokenTTL:      defaultTokenTTL,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if ttl := lookup(EnvTokenTTL); ttl != "" {
		dur, err := str2duration.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", EnvTokenTTL, ttl, err)
		}
		if dur <= 0 {
			return nil, fmt.Errorf("%s: must be positive, got %q", EnvTokenTTL, ttl)
		}
		cfg.TokenTTL = dur
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s is required", EnvDatabaseURL)
	}
	if err := validateWrapSecret(EnvMasterKey, c.MasterSecret); err != nil {
		return err
	}
	if err := validateWrapSecret(EnvSessionSecret, c.SessionSecret); err != nil {
		return err
	}
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("%s must be \"development\" or \"production\", got %q", EnvEnvironment, c.Environment)
	}
	return nil
}

func validateWrapSecret(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(value) != wrapSecretHexLen {
		return fmt.Errorf("%s must be %d hex characters, got %d", name, wrapSecretHexLen, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return fmt.Errorf("%s must be valid hex", name)
	}
	return nil
}

// parseEnvFile reads KEY=VALUE lines, ignoring blanks and # comments.
// Quoted values are dequoted.
func parseEnvFile(path string) (map[string]string, error) {
	env := make(map[string]string)
	if path == "" {
		return env, nil
	}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return env, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		env[strings.TrimSpace(key)] = dequote(strings.TrimSpace(val))
	}
	return env, nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
