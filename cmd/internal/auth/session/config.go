package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// TTL is the session lifetime from issue time.
	TTL time.Duration

	// TokenBytes is the entropy (in bytes) of opaque session tokens.
	TokenBytes int

	// Cookie transport.
	CookieName   string
	CookiePath   string
	CookieSecure bool
}

// DefaultConfig returns defaults suitable for development.
// Production deployments should set PARLEY_SESSION_COOKIE_SECURE=true.
func DefaultConfig() Config {
	return Config{
		TTL:          7 * 24 * time.Hour,
		TokenBytes:   32,
		CookieName:   "parley_session",
		CookiePath:   "/",
		CookieSecure: false,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - PARLEY_SESSION_TTL (Go duration)
//   - PARLEY_SESSION_TOKEN_BYTES (32..64)
//   - PARLEY_SESSION_COOKIE_NAME
//   - PARLEY_SESSION_COOKIE_SECURE (true/false)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PARLEY_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("PARLEY_SESSION_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	if v := os.Getenv("PARLEY_SESSION_COOKIE_NAME"); v != "" {
		cfg.CookieName = v
	}

	if v := os.Getenv("PARLEY_SESSION_COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.CookieSecure = b
	}

	return cfg, nil
}
