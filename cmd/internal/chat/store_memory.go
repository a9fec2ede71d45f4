package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"parley/cmd/identity"
	"parley/cmd/identity/ids"
)

const memMaxMessages = 10_000

// InMemoryStore is a dev/test fallback when DB is not configured. Author
// display names are resolved through the identity store at read time, which
// mirrors the SQL join the Postgres store performs.
type InMemoryStore struct {
	mu   sync.Mutex
	msgs []Message // insertion order

	users identity.Store
}

// NewInMemoryStore constructs an in-memory message store.
func NewInMemoryStore(users identity.Store) *InMemoryStore {
	return &InMemoryStore{users: users}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Create appends a message in insertion order.
func (s *InMemoryStore) Create(ctx context.Context, in CreateMessageInput) (Message, error) {
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

	msg := Message{
		ID:        id,
		AuthorID:  in.AuthorID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	// Bound memory in dev.
	if len(s.msgs) > memMaxMessages {
		s.msgs = s.msgs[len(s.msgs)-memMaxMessages:]
	}
	s.mu.Unlock()

	return s.withAuthor(ctx, msg)
}

// ListWithAuthors returns all messages in insertion order with display names.
func (s *InMemoryStore) ListWithAuthors(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	snap := append([]Message(nil), s.msgs...)
	s.mu.Unlock()

	out := make([]Message, 0, len(snap))
	for _, m := range snap {
		wm, err := s.withAuthor(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	return out, nil
}

// Search returns messages whose text contains query, case-insensitively.
func (s *InMemoryStore) Search(ctx context.Context, query string) ([]Message, error) {
	all, err := s.ListWithAuthors(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}

	out := make([]Message, 0, len(all))
	for _, m := range all {
		if strings.Contains(strings.ToLower(m.Text), q) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Update replaces a message's text if ownerID owns it.
func (s *InMemoryStore) Update(ctx context.Context, id, ownerID, text string, now time.Time) (Message, error) {
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

	s.mu.Lock()
	var updated *Message
	for i := range s.msgs {
		if s.msgs[i].ID != id {
			continue
		}
		if s.msgs[i].AuthorID != ownerID {
			s.mu.Unlock()
			return Message{}, ErrNotOwner
		}
		s.msgs[i].Text = text
		s.msgs[i].UpdatedAt = now
		m := s.msgs[i]
		updated = &m
		break
	}
	s.mu.Unlock()

	if updated == nil {
		return Message{}, ErrNotFound
	}
	return s.withAuthor(ctx, *updated)
}

// Delete removes a message if ownerID owns it.
func (s *InMemoryStore) Delete(ctx context.Context, id, ownerID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		if s.msgs[i].ID != id {
			continue
		}
		if s.msgs[i].AuthorID != ownerID {
			return ErrNotOwner
		}
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		return nil
	}
	return ErrNotFound
}

func (s *InMemoryStore) withAuthor(ctx context.Context, m Message) (Message, error) {
	if s.users == nil {
		return m, nil
	}
	u, err := s.users.GetUserByID(ctx, m.AuthorID)
	if err != nil {
		if identity.IsNotFound(err) {
			// Author deleted out-of-band; keep the message readable.
			m.AuthorName = "unknown"
			return m, nil
		}
		return Message{}, err
	}
	m.AuthorName = u.DisplayName()
	return m, nil
}
