package session

import (
	"context"
	"time"
)

// Row mirrors a parley.sessions row.
type Row struct {
	ID         string
	UserID     string
	TokenHash  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// Store abstracts persistence for session state.
type Store interface {
	// Create inserts a new session row and returns its ID.
	Create(ctx context.Context, now time.Time, userID, tokenHash string, expiresAt time.Time) (string, error)

	// GetByTokenHash loads a session row by token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (Row, error)

	// Touch updates last_used_at for an active session (best-effort).
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session (idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID string) error

	// RevokeAll revokes all sessions for a user (idempotent).
	RevokeAll(ctx context.Context, now time.Time, userID string) error
}
