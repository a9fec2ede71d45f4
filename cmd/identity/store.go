package identity

import (
	"context"
	"strings"
	"time"
)

// User is Parley's canonical principal.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	EmailNorm string

	CreatedAt time.Time
}

// DisplayName composes the name shown next to a user's messages.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// UserAuth carries the credential material needed for a login check.
// The hash never leaves the auth path.
type UserAuth struct {
	User         User
	PasswordHash string
}

// RegistrationDraft is the server-side record backing the two-step signup flow.
// A draft holds the profile fields from step one until the password arrives in
// step two, then it is consumed. Expired drafts are treated as not active.
type RegistrationDraft struct {
	ID        string
	FirstName string
	LastName  string
	Email     string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// StartRegistrationInput begins a registration draft.
type StartRegistrationInput struct {
	FirstName string
	LastName  string
	Email     string
	TTL       time.Duration
	Now       time.Time
}

// CompleteRegistrationInput finishes a draft by supplying the password.
type CompleteRegistrationInput struct {
	DraftID  string
	Password string
	Now      time.Time
}

// CreateUserInput describes a direct user creation (used by CompleteRegistration).
type CreateUserInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Now       time.Time
}

// Store is the identity persistence boundary.
//
// Email uniqueness is enforced at CreateUser/CompleteRegistration time, which
// is also what resolves two drafts racing for the same email: the second
// completion fails with a conflict.
type Store interface {
	StartRegistration(ctx context.Context, in StartRegistrationInput) (RegistrationDraft, error)
	CompleteRegistration(ctx context.Context, in CompleteRegistrationInput) (User, error)
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
}

const (
	defaultDraftTTL = 15 * time.Minute
	maxDraftTTL     = 24 * time.Hour
)
