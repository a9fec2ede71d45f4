package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid injection via identifiers.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "parley",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// StartRegistration creates a registration draft with an expiry.
func (s *PostgresStore) StartRegistration(ctx context.Context, in StartRegistrationInput) (RegistrationDraft, error) {
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

	drafts := pgIdent(s.schema, "registration_drafts")
	expiresAt := now.Add(ttl)

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+drafts+` (id, first_name, last_name, email, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, first, last, email, now, expiresAt,
	)
	if err != nil {
		return RegistrationDraft{}, err
	}

	return RegistrationDraft{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// CompleteRegistration consumes a draft and creates the user transactionally.
// An expired or missing draft yields ErrNotActive; a concurrent registration
// for the same email surfaces as a ConflictError from the users insert.
func (s *PostgresStore) CompleteRegistration(ctx context.Context, in CompleteRegistrationInput) (User, error) {
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

	pwHash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	drafts := pgIdent(s.schema, "registration_drafts")

	var d RegistrationDraft
	err = tx.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, created_at, expires_at
		   FROM `+drafts+`
		  WHERE id = $1
		  FOR UPDATE`,
		in.DraftID,
	).Scan(&d.ID, &d.FirstName, &d.LastName, &d.Email, &d.CreatedAt, &d.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, OpError{Op: op, Kind: ErrNotActive, Msg: "draft not found"}
		}
		return User{}, err
	}
	if !d.ExpiresAt.After(now) {
		return User{}, OpError{Op: op, Kind: ErrNotActive, Msg: "draft expired"}
	}

	u, err := s.insertUser(ctx, tx, op, d.FirstName, d.LastName, d.Email, pwHash, now)
	if err != nil {
		return User{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+drafts+` WHERE id = $1`, d.ID); err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser creates a user directly (single-step path, used by tooling and tests).
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := s.insertUser(ctx, tx, op, first, last, email, pwHash, now)
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) insertUser(ctx context.Context, tx pgx.Tx, op, first, last, email, pwHash string, now time.Time) (User, error) {
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")
	emailNorm := NormalizeEmail(email)

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (id, first_name, last_name, email, email_norm, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, first, last, email, emailNorm, pwHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Email:     email,
		EmailNorm: emailNorm,
		CreatedAt: now,
	}, nil
}

// GetUserByID loads a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, email_norm, created_at
		   FROM `+users+`
		  WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.EmailNorm, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// GetUserAuthByEmail loads a user plus password hash for a login check.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}
	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return UserAuth{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing email"}
	}

	users := pgIdent(s.schema, "users")

	var ua UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, email_norm, password_hash, created_at
		   FROM `+users+`
		  WHERE email_norm = $1`,
		emailNorm,
	).Scan(&ua.User.ID, &ua.User.FirstName, &ua.User.LastName, &ua.User.Email, &ua.User.EmailNorm, &ua.PasswordHash, &ua.User.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	return ua, nil
}

// PurgeExpiredDrafts deletes drafts past their expiry. Best-effort housekeeping.
func (s *PostgresStore) PurgeExpiredDrafts(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	drafts := pgIdent(s.schema, "registration_drafts")
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+drafts+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names; fall back to substring heuristics.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm" || strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
