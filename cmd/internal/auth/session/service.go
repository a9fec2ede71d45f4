package session

import (
	"context"
	"strings"
	"time"

	"parley/cmd/security/token"
)

// Claims is the minimal identity envelope propagated to protected handlers.
type Claims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// Issued is the result of issuing a session. Token is the plain opaque token
// and must be shown to the client exactly once and never logged.
type Issued struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Service implements the high-level session operations.
type Service struct {
	cfg   Config
	store Store
}

// NewService constructs a Service over the given store.
func NewService(cfg Config, store Store) *Service {
	return &Service{cfg: cfg, store: store}
}

// Config exposes the effective configuration (cookie transport needs it).
func (s *Service) Config() Config { return s.cfg }

// Issue creates a session for an authenticated user.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string) (Issued, error) {
	plain, err := token.NewOpaque(s.cfg.TokenBytes)
	if err != nil {
		return Issued{}, err
	}

	expiresAt := now.Add(s.cfg.TTL)
	id, err := s.store.Create(ctx, now, userID, token.HashSessionTokenHex(plain), expiresAt)
	if err != nil {
		return Issued{}, err
	}

	return Issued{SessionID: id, Token: plain, ExpiresAt: expiresAt}, nil
}

// Validate checks an opaque token against the store and returns claims when
// the backing session is active. Touches last_used_at as a side effect.
func (s *Service) Validate(ctx context.Context, plain string, now time.Time) (Claims, error) {
	plain = strings.TrimSpace(plain)
	// Sanity bounds against pathological inputs.
	if plain == "" || len(plain) > 4096 {
		return Claims{}, ErrSessionNotFound
	}

	row, err := s.store.GetByTokenHash(ctx, token.HashSessionTokenHex(plain))
	if err != nil {
		return Claims{}, err
	}

	if row.RevokedAt != nil {
		return Claims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return Claims{}, ErrSessionExpired
	}

	// Best-effort; a failed touch must not fail the request.
	_ = s.store.Touch(ctx, now, row.ID)

	return Claims{UserID: row.UserID, SessionID: row.ID, ExpiresAt: row.ExpiresAt}, nil
}

// Revoke revokes a single session (logout).
func (s *Service) Revoke(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID)
}

// RevokeAll revokes all sessions for a user (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	return s.store.RevokeAll(ctx, now, userID)
}
