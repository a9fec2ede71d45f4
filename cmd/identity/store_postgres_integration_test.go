package identity

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests run only when PARLEY_TEST_DATABASE_URL is set and expect
// the parley schema to be present.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("PARLEY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PARLEY_TEST_DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func uniqueEmail(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("it-%d@example.com", time.Now().UnixNano())
}

func TestPostgres_RegistrationFlow(t *testing.T) {
	pool := testPool(t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx := context.Background()
	email := uniqueEmail(t)

	d, err := st.StartRegistration(ctx, StartRegistrationInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
	})
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}

	u, err := st.CompleteRegistration(ctx, CompleteRegistrationInput{
		DraftID:  d.ID,
		Password: "a sufficiently long pass",
	})
	if err != nil {
		t.Fatalf("CompleteRegistration: %v", err)
	}
	if u.EmailNorm != NormalizeEmail(email) {
		t.Fatalf("email norm mismatch: %q", u.EmailNorm)
	}

	// Draft must be consumed.
	if _, err := st.CompleteRegistration(ctx, CompleteRegistrationInput{
		DraftID:  d.ID,
		Password: "a sufficiently long pass",
	}); !IsNotActive(err) {
		t.Fatalf("expected not-active for consumed draft, got %v", err)
	}

	ua, err := st.GetUserAuthByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetUserAuthByEmail: %v", err)
	}
	if ua.User.ID != u.ID {
		t.Fatalf("user mismatch")
	}
}

func TestPostgres_EmailConflict(t *testing.T) {
	pool := testPool(t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx := context.Background()
	email := uniqueEmail(t)

	if _, err := st.CreateUser(ctx, CreateUserInput{
		FirstName: "Grace", LastName: "Hopper", Email: email, Password: "a sufficiently long pass",
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	_, err = st.CreateUser(ctx, CreateUserInput{
		FirstName: "Grace", LastName: "Hopper", Email: email, Password: "a sufficiently long pass",
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPostgres_PurgeExpiredDrafts(t *testing.T) {
	pool := testPool(t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.StartRegistration(ctx, StartRegistrationInput{
		FirstName: "Eve",
		LastName:  "Short",
		Email:     uniqueEmail(t),
		TTL:       time.Millisecond,
		Now:       now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}

	n, err := st.PurgeExpiredDrafts(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredDrafts: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected at least one purged draft, got %d", n)
	}
}
