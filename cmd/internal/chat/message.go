// Package chat implements Parley's message set and the freshness protocol
// that keeps polling clients in sync with it.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// maxMessageChars bounds message text length in runes.
	maxMessageChars = 500
)

// Sentinel error kinds for store operations.
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrNotOwner     = errors.New("not_owner")
)

// Message is the canonical message representation, including the author's
// derived display name for listing.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	Text       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateText normalizes and checks message text (1..500 chars).
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrInvalidInput
	}
	if utf8.RuneCountInString(text) > maxMessageChars {
		return "", ErrInvalidInput
	}
	return text, nil
}

// CreateMessageInput describes a message creation request.
type CreateMessageInput struct {
	AuthorID string
	Text     string
	Now      time.Time
}

// Store persists and queries messages.
//
// Contract:
//   - ListWithAuthors returns the full set in insertion order, each message
//     joined with its author's display name.
//   - Search is a case-insensitive substring match over text, same shape and
//     order as ListWithAuthors.
//   - Update/Delete enforce ownership: ErrNotFound for a missing message,
//     ErrNotOwner when the caller does not own it.
//
// The store does not touch the Watermark; the handler layer advances it after
// a successful mutation.
type Store interface {
	Create(ctx context.Context, in CreateMessageInput) (Message, error)
	ListWithAuthors(ctx context.Context) ([]Message, error)
	Search(ctx context.Context, query string) ([]Message, error)
	Update(ctx context.Context, id, ownerID, text string, now time.Time) (Message, error)
	Delete(ctx context.Context, id, ownerID string, now time.Time) error
	Close() error
}
