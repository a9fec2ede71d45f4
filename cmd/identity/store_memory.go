package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the dev/test identity store used when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]memUser           // id -> user
	byEmail map[string]string            // email_norm -> id
	drafts  map[string]RegistrationDraft // id -> draft
}

type memUser struct {
	user         User
	passwordHash string
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]memUser),
		byEmail: make(map[string]string),
		drafts:  make(map[string]RegistrationDraft),
	}
}

// StartRegistration creates a registration draft with an expiry.
func (s *MemoryStore) StartRegistration(ctx context.Context, in StartRegistrationInput) (RegistrationDraft, error) {
	const op = "identity.StartRegistration"

	if err := ctx.Err(); err != nil {
		return RegistrationDraft{}, err
	}

	first := NormalizeName(in.FirstName)
	last := NormalizeName(in.LastName)
	email := strings.TrimSpace(in.Email)
	if first == "" || last == "" || email == "" {
		return RegistrationDraft{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "first name, last name and email are required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	if ttl > maxDraftTTL {
		ttl = maxDraftTTL
	}

	id, err := NewULID(now)
	if err != nil {
		return RegistrationDraft{}, err
	}

	d := RegistrationDraft{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.drafts[id] = d
	s.mu.Unlock()

	return d, nil
}

// CompleteRegistration consumes a draft and creates the user.
func (s *MemoryStore) CompleteRegistration(ctx context.Context, in CompleteRegistrationInput) (User, error) {
	const op = "identity.CompleteRegistration"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.DraftID) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing draft id"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Hash outside the lock; argon2 is deliberately slow.
	pwHash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[in.DraftID]
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrNotActive, Msg: "draft not found"}
	}
	if !d.ExpiresAt.After(now) {
		delete(s.drafts, in.DraftID)
		return User{}, OpError{Op: op, Kind: ErrNotActive, Msg: "draft expired"}
	}

	u, err := s.insertUserLocked(op, d.FirstName, d.LastName, d.Email, pwHash, now)
	if err != nil {
		return User{}, err
	}
	delete(s.drafts, in.DraftID)
	return u, nil
}

// CreateUser creates a user directly (single-step path).
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	first := NormalizeName(in.FirstName)
	last := NormalizeName(in.LastName)
	email := strings.TrimSpace(in.Email)
	if first == "" || last == "" || email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "first name, last name and email are required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertUserLocked(op, first, last, email, pwHash, now)
}

func (s *MemoryStore) insertUserLocked(op, first, last, email, pwHash string, now time.Time) (User, error) {
	emailNorm := NormalizeEmail(email)
	if _, exists := s.byEmail[emailNorm]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Email:     email,
		EmailNorm: emailNorm,
		CreatedAt: now,
	}
	s.users[id] = memUser{user: u, passwordHash: pwHash}
	s.byEmail[emailNorm] = id
	return u, nil
}

// GetUserByID loads a user by ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return mu.user, nil
}

// GetUserAuthByEmail loads a user plus password hash for a login check.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	mu := s.users[id]
	return UserAuth{User: mu.user, PasswordHash: mu.passwordHash}, nil
}
