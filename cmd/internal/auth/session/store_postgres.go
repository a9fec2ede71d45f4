package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store using PostgreSQL (parley.sessions).
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID, tokenHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO parley.sessions (
			id, user_id, token_hash,
			created_at, last_used_at, expires_at, revoked_at
		) VALUES ($1, $2, $3, $4, $4, $5, NULL)
	`, id, userID, tokenHash, now, expiresAt)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByTokenHash loads a session row by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Row, error) {
	var row Row

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, last_used_at, expires_at, revoked_at
		FROM parley.sessions
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&row.ID,
		&row.UserID,
		&row.TokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	return row, nil
}

// Touch updates last_used_at for an active session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE parley.sessions
		   SET last_used_at = $1
		 WHERE id = $2
		   AND revoked_at IS NULL
		   AND expires_at > $1
	`, now, sessionID)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE parley.sessions
		   SET revoked_at = COALESCE(revoked_at, $1)
		 WHERE id = $2
	`, now, sessionID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE parley.sessions
		   SET revoked_at = COALESCE(revoked_at, $1)
		 WHERE user_id = $2
		   AND revoked_at IS NULL
	`, now, userID)
	return err
}
