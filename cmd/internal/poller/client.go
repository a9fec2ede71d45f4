// Package poller implements Parley's client side of the freshness protocol:
// an API client for the message routes and a timer-driven poller that keeps a
// local view of the room in sync with the server.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized reports a rejected session. It ends the polling protocol
// rather than a single cycle.
var ErrUnauthorized = errors.New("unauthorized")

// Message is the wire shape of a message as served by the API.
type Message struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CheckResult is the poll endpoint's answer.
type CheckResult struct {
	HasUpdates bool   `json:"hasUpdates"`
	LastCheck  string `json:"lastCheck"`
}

type listEnvelope struct {
	Messages []Message `json:"messages"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type messageBody struct {
	Text string `json:"text"`
}

// Client talks to a Parley server with an established session cookie.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for baseURL authenticated by the given session
// cookie.
func NewClient(baseURL string, sessionCookie *http.Cookie, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetCookie(sessionCookie)
	return &Client{http: c}
}

// CheckUpdates asks whether anything changed since cursor. A zero cursor is
// sent as no header at all, which the server treats as "everything is new".
func (c *Client) CheckUpdates(ctx context.Context, cursor time.Time) (CheckResult, error) {
	var (
		out  CheckResult
		fail errorEnvelope
	)
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&fail)
	if !cursor.IsZero() {
		req.SetHeader("Last-Update", cursor.UTC().Format(time.RFC3339Nano))
	}
	resp, err := req.Get("/api/messages/updates")
	if err != nil {
		return CheckResult{}, fmt.Errorf("check updates: %w", err)
	}
	if err := classify(resp, fail); err != nil {
		return CheckResult{}, err
	}
	return out, nil
}

// ListMessages fetches the whole room in insertion order.
func (c *Client) ListMessages(ctx context.Context) ([]Message, error) {
	return c.list(ctx, "")
}

// SearchMessages fetches messages whose text contains query.
func (c *Client) SearchMessages(ctx context.Context, query string) ([]Message, error) {
	return c.list(ctx, query)
}

func (c *Client) list(ctx context.Context, query string) ([]Message, error) {
	var (
		out  listEnvelope
		fail errorEnvelope
	)
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&fail)
	if query != "" {
		req.SetQueryParam("q", query)
	}
	resp, err := req.Get("/api/messages")
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if err := classify(resp, fail); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage creates a message.
func (c *Client) SendMessage(ctx context.Context, text string) (Message, error) {
	var (
		out  Message
		fail errorEnvelope
	)
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(messageBody{Text: text}).
		SetResult(&out).SetError(&fail).
		Post("/api/messages")
	if err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	if err := classify(resp, fail); err != nil {
		return Message{}, err
	}
	return out, nil
}

// EditMessage replaces the text of an owned message.
func (c *Client) EditMessage(ctx context.Context, id, text string) (Message, error) {
	var (
		out  Message
		fail errorEnvelope
	)
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(messageBody{Text: text}).
		SetResult(&out).SetError(&fail).
		Put("/api/messages/" + id)
	if err != nil {
		return Message{}, fmt.Errorf("edit message: %w", err)
	}
	if err := classify(resp, fail); err != nil {
		return Message{}, err
	}
	return out, nil
}

// DeleteMessage removes an owned message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	var fail errorEnvelope
	resp, err := c.http.R().SetContext(ctx).SetError(&fail).
		Delete("/api/messages/" + id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return classify(resp, fail)
}

func classify(resp *resty.Response, fail errorEnvelope) error {
	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusUnauthorized:
		return ErrUnauthorized
	case fail.Error.Code != "":
		return fmt.Errorf("server rejected request: %s (%s)", fail.Error.Code, fail.Error.Message)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
}
