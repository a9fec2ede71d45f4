package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config tunes the auth HTTP layer. Session cookie settings live in the
// session package config; this covers the rest of the surface.
type Config struct {
	// MaxBodyBytes bounds request bodies on the auth routes.
	MaxBodyBytes int64

	// DraftCookieName carries the registration draft id between the two
	// signup steps.
	DraftCookieName string

	// DraftTTL is how long a registration draft stays usable.
	DraftTTL time.Duration

	// CookieSecure marks the draft cookie Secure. Mirror the session
	// cookie setting in production.
	CookieSecure bool
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:    16 << 10,
		DraftCookieName: "parley_draft",
		DraftTTL:        15 * time.Minute,
		CookieSecure:    false,
	}
}

// LoadConfigFromEnv loads auth API configuration from environment variables.
//
// Optional:
//   - PARLEY_AUTH_MAX_BODY_BYTES
//   - PARLEY_DRAFT_COOKIE_NAME
//   - PARLEY_DRAFT_TTL (Go duration)
//   - PARLEY_AUTH_COOKIE_SECURE
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_MAX_BODY_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_DRAFT_COOKIE_NAME")); v != "" {
		cfg.DraftCookieName = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_DRAFT_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DraftTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_COOKIE_SECURE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	return cfg
}
