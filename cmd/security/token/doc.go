// Package token provides token hashing primitives for Parley.
//
// It is the single source of truth for session-token hashing behavior:
// - Default dev mode: SHA-256(token) when no HMAC key is configured.
// - Production mode: HMAC-SHA256(token, key) when PARLEY_TOKEN_HMAC_KEY is set.
// - Stable 64-char hex output for storage and constant-time comparison.
package token
