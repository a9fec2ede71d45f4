package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity"
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

func pgTestUser(t *testing.T, pool *pgxpool.Pool, first, last string) identity.User {
	t.Helper()

	st, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity.NewPostgresStore: %v", err)
	}
	u, err := st.CreateUser(context.Background(), identity.CreateUserInput{
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("chat-it-%d@example.com", time.Now().UnixNano()),
		Password:  "correct horse battery",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestPostgres_MessageLifecycle(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	alice := pgTestUser(t, pool, "Alice", "Ames")
	bob := pgTestUser(t, pool, "Bob", "Burr")

	msg, err := st.Create(ctx, CreateMessageInput{AuthorID: alice.ID, Text: "integration hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Delete(context.Background(), msg.ID, alice.ID, time.Now())
	})
	if msg.AuthorName != "Alice Ames" {
		t.Fatalf("author name: got %q, want %q", msg.AuthorName, "Alice Ames")
	}

	list, err := st.ListWithAuthors(ctx)
	if err != nil {
		t.Fatalf("ListWithAuthors: %v", err)
	}
	found := false
	for _, m := range list {
		if m.ID == msg.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created message %s not in list", msg.ID)
	}

	if _, err := st.Update(ctx, msg.ID, bob.ID, "hijack", time.Now()); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Update by non-owner: got %v, want ErrNotOwner", err)
	}
	updated, err := st.Update(ctx, msg.ID, alice.ID, "integration edited", time.Now())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Text != "integration edited" {
		t.Fatalf("updated text: got %q", updated.Text)
	}

	hits, err := st.Search(ctx, "INTEGRATION EDIT")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("Search: case-insensitive substring did not match")
	}

	if err := st.Delete(ctx, msg.ID, bob.ID, time.Now()); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Delete by non-owner: got %v, want ErrNotOwner", err)
	}
	if err := st.Delete(ctx, msg.ID, alice.ID, time.Now()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, msg.ID, alice.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete twice: got %v, want ErrNotFound", err)
	}
}
