package session

import (
	"context"
	"sync"
	"time"

	"parley/cmd/identity/ids"
)

// MemoryStore is the dev/test session store used when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]*Row   // id -> row
	byHash map[string]string // token_hash -> id
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

// Create inserts a new session row and returns its ID.
func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID, tokenHash string, expiresAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	lu := now
	row := &Row{
		ID:         id,
		UserID:     userID,
		TokenHash:  tokenHash,
		CreatedAt:  now,
		LastUsedAt: &lu,
		ExpiresAt:  expiresAt,
	}

	s.mu.Lock()
	s.rows[id] = row
	s.byHash[tokenHash] = id
	s.mu.Unlock()

	return id, nil
}

// GetByTokenHash loads a session row by token hash.
func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *s.rows[id], nil
}

// Touch updates last_used_at for an active session.
func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if row.RevokedAt == nil && row.ExpiresAt.After(now) {
		lu := now
		row.LastUsedAt = &lu
	}
	return nil
}

// Revoke revokes a single session (idempotent).
func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if row.RevokedAt == nil {
		ra := now
		row.RevokedAt = &ra
	}
	return nil
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			ra := now
			row.RevokedAt = &ra
		}
	}
	return nil
}
