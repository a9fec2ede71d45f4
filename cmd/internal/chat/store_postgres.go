package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL (parley.messages joined with
// parley.users). The pool is owned by the caller; Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a Postgres message store (default schema "parley").
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("chat: nil pool")
	}
	return &PostgresStore{pool: pool, schema: "parley"}, nil
}

// Close is a no-op; the pool lifecycle belongs to the app.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) messages() string {
	return pgx.Identifier{s.schema, "messages"}.Sanitize()
}

func (s *PostgresStore) users() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

// Create inserts a message row.
func (s *PostgresStore) Create(ctx context.Context, in CreateMessageInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(in.AuthorID) == "" {
		return Message{}, ErrInvalidInput
	}
	text, err := ValidateText(in.Text)
	if err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	var authorName string
	err = s.pool.QueryRow(ctx,
		`WITH ins AS (
		     INSERT INTO `+s.messages()+` (id, author_id, text, created_at, updated_at)
		     VALUES ($1, $2, $3, $4, $4)
		     RETURNING author_id
		 )
		 SELECT trim(u.first_name || ' ' || u.last_name)
		   FROM ins JOIN `+s.users()+` u ON u.id = ins.author_id`,
		id, in.AuthorID, text, now,
	).Scan(&authorName)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:         id,
		AuthorID:   in.AuthorID,
		AuthorName: authorName,
		Text:       text,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ListWithAuthors returns the full message set in insertion order.
// ULIDs sort lexicographically by creation time, so ordering by id is
// insertion order without an extra index.
func (s *PostgresStore) ListWithAuthors(ctx context.Context) ([]Message, error) {
	return s.query(ctx, "", nil)
}

// Search returns messages whose text contains query, case-insensitively.
func (s *PostgresStore) Search(ctx context.Context, query string) ([]Message, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return s.ListWithAuthors(ctx)
	}
	return s.query(ctx, ` WHERE m.text ILIKE '%' || $1 || '%'`, []any{q})
}

func (s *PostgresStore) query(ctx context.Context, where string, args []any) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.author_id, trim(u.first_name || ' ' || u.last_name), m.text, m.created_at, m.updated_at
		   FROM `+s.messages()+` m
		   JOIN `+s.users()+` u ON u.id = m.author_id`+where+`
		  ORDER BY m.id ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AuthorID, &m.AuthorName, &m.Text, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Update replaces a message's text if ownerID owns it.
func (s *PostgresStore) Update(ctx context.Context, id, ownerID, text string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	text, err := ValidateText(text)
	if err != nil {
		return Message{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Distinguish not-found from not-owner with a single round trip: fetch the
	// owner when the guarded update matched nothing.
	var m Message
	err = s.pool.QueryRow(ctx,
		`UPDATE `+s.messages()+`
		    SET text = $1, updated_at = $2
		  WHERE id = $3 AND author_id = $4
		  RETURNING id, author_id, text, created_at, updated_at`,
		text, now, id, ownerID,
	).Scan(&m.ID, &m.AuthorID, &m.Text, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, s.classifyMiss(ctx, id)
		}
		return Message{}, err
	}

	err = s.pool.QueryRow(ctx,
		`SELECT trim(first_name || ' ' || last_name) FROM `+s.users()+` WHERE id = $1`,
		m.AuthorID,
	).Scan(&m.AuthorName)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// Delete removes a message if ownerID owns it.
func (s *PostgresStore) Delete(ctx context.Context, id, ownerID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.messages()+` WHERE id = $1 AND author_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// classifyMiss decides between ErrNotFound and ErrNotOwner after a guarded
// mutation matched no row.
func (s *PostgresStore) classifyMiss(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.messages()+` WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrNotOwner
	}
	return ErrNotFound
}
