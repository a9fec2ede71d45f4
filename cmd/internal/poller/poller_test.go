package poller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal in-memory Parley API for driving the poller.
type fakeServer struct {
	mu           sync.Mutex
	msgs         []Message
	hasUpdates   bool
	unauthorized bool
	searchFails  bool

	checks  int
	cursors []string
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages/updates", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.unauthorized {
			writeJSONStatus(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "unauthorized", "message": "authentication required"},
			})
			return
		}
		s.checks++
		s.cursors = append(s.cursors, r.Header.Get("Last-Update"))
		writeJSONStatus(w, http.StatusOK, CheckResult{
			HasUpdates: s.hasUpdates,
			LastCheck:  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.unauthorized {
			writeJSONStatus(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "unauthorized", "message": "authentication required"},
			})
			return
		}
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query().Get("q")
			if q != "" && s.searchFails {
				writeJSONStatus(w, http.StatusInternalServerError, map[string]any{
					"error": map[string]string{"code": "server_error", "message": "boom"},
				})
				return
			}
			out := s.msgs
			if q != "" {
				out = nil
				for _, m := range s.msgs {
					if strings.Contains(strings.ToLower(m.Text), strings.ToLower(q)) {
						out = append(out, m)
					}
				}
			}
			writeJSONStatus(w, http.StatusOK, listEnvelope{Messages: out})
		case http.MethodPost:
			var body messageBody
			_ = json.NewDecoder(r.Body).Decode(&body)
			msg := Message{
				ID:        time.Now().Format("150405.000000000"),
				Text:      body.Text,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			s.msgs = append(s.msgs, msg)
			s.hasUpdates = true
			writeJSONStatus(w, http.StatusCreated, msg)
		}
	})
	return mux
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeServer) setUpdates(v bool) {
	s.mu.Lock()
	s.hasUpdates = v
	s.mu.Unlock()
}

func (s *fakeServer) checkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

type pollerFixture struct {
	srv    *fakeServer
	client *Client
	views  chan []Message
	auth   chan error
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()

	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, &http.Cookie{Name: "parley_session", Value: "test"}, 2*time.Second)
	return &pollerFixture{
		srv:    fake,
		client: client,
		views:  make(chan []Message, 16),
		auth:   make(chan error, 1),
	}
}

func (f *pollerFixture) newPoller(interval time.Duration) *Poller {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), f.client, Config{
		Interval:   interval,
		OnView:     func(msgs []Message) { f.views <- msgs },
		OnAuthLost: func(err error) { f.auth <- err },
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPoller_FirstCheckIsImmediate(t *testing.T) {
	f := newPollerFixture(t)
	p := f.newPoller(time.Hour)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitFor(t, func() bool { return f.srv.checkCount() >= 1 }, "no check before the first tick")
	assert.Equal(t, 1, f.srv.checkCount(), "only the immediate check should have run")
}

func TestPoller_QuietServerLeavesCursorAlone(t *testing.T) {
	f := newPollerFixture(t)
	p := f.newPoller(20 * time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitFor(t, func() bool { return f.srv.checkCount() >= 3 }, "poller did not keep checking")
	assert.True(t, p.Cursor().IsZero(), "cursor must not move without a refresh")
	select {
	case v := <-f.views:
		t.Fatalf("unexpected view update: %v", v)
	default:
	}
}

func TestPoller_RefreshesOnUpdates(t *testing.T) {
	f := newPollerFixture(t)
	f.srv.mu.Lock()
	f.srv.msgs = []Message{{ID: "m1", Text: "hello"}}
	f.srv.hasUpdates = true
	f.srv.mu.Unlock()

	p := f.newPoller(20 * time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case view := <-f.views:
		require.Len(t, view, 1)
		assert.Equal(t, "m1", view[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no refresh after hasUpdates=true")
	}

	refreshed := time.Now()
	waitFor(t, func() bool { return !p.Cursor().IsZero() }, "cursor did not advance")
	assert.WithinDuration(t, refreshed, p.Cursor(), time.Second,
		"cursor must be stamped at local refresh time")

	// Quiet again: subsequent checks carry the new cursor and do not refresh.
	f.srv.setUpdates(false)
	waitFor(t, func() bool {
		f.srv.mu.Lock()
		defer f.srv.mu.Unlock()
		return len(f.srv.cursors) > 0 && f.srv.cursors[len(f.srv.cursors)-1] != ""
	}, "later checks did not carry the cursor")
}

func TestPoller_AuthLossStopsForGood(t *testing.T) {
	f := newPollerFixture(t)
	f.srv.mu.Lock()
	f.srv.unauthorized = true
	f.srv.mu.Unlock()

	p := f.newPoller(20 * time.Millisecond)
	require.NoError(t, p.Start(context.Background()))

	select {
	case err := <-f.auth:
		assert.ErrorIs(t, err, ErrUnauthorized)
	case <-time.After(3 * time.Second):
		t.Fatal("OnAuthLost never fired")
	}

	waitFor(t, func() bool { return p.State() == StateStopped }, "poller did not stop")
	assert.Error(t, p.Start(context.Background()), "a stopped poller must not restart")
}

func TestPoller_SendRefreshesOwnView(t *testing.T) {
	f := newPollerFixture(t)
	p := f.newPoller(time.Hour)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	// Let the startup check finish so the forced refresh is not skipped.
	waitFor(t, func() bool { return f.srv.checkCount() >= 1 }, "no startup check")
	time.Sleep(50 * time.Millisecond)

	msg, err := p.Send(context.Background(), "read my own write")
	require.NoError(t, err)
	assert.Equal(t, "read my own write", msg.Text)

	select {
	case view := <-f.views:
		require.Len(t, view, 1)
		assert.Equal(t, msg.ID, view[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("send did not force a refresh")
	}
	assert.False(t, p.Cursor().IsZero(), "forced refresh must advance the cursor")
}

func TestPoller_SearchIsOneShot(t *testing.T) {
	f := newPollerFixture(t)
	f.srv.mu.Lock()
	f.srv.msgs = []Message{{ID: "m1", Text: "hello world"}, {ID: "m2", Text: "bye"}}
	f.srv.mu.Unlock()

	p := f.newPoller(time.Hour)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	hits, err := p.Search(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].ID)
	assert.True(t, p.Cursor().IsZero(), "search must not touch the cursor")

	none, err := p.Search(context.Background(), "nothing matches this")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPoller_SearchFailureFallsBackToRefresh(t *testing.T) {
	f := newPollerFixture(t)
	f.srv.mu.Lock()
	f.srv.msgs = []Message{{ID: "m1", Text: "hello"}}
	f.srv.searchFails = true
	f.srv.mu.Unlock()

	p := f.newPoller(time.Hour)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitFor(t, func() bool { return f.srv.checkCount() >= 1 }, "no startup check")
	time.Sleep(50 * time.Millisecond)

	_, err := p.Search(context.Background(), "hello")
	require.Error(t, err)

	select {
	case view := <-f.views:
		require.Len(t, view, 1, "fallback refresh must replace the view")
	case <-time.After(3 * time.Second):
		t.Fatal("search failure did not fall back to a full refresh")
	}
}

func TestPoller_StopIsTerminal(t *testing.T) {
	f := newPollerFixture(t)
	p := f.newPoller(20 * time.Millisecond)
	require.NoError(t, p.Start(context.Background()))

	waitFor(t, func() bool { return f.srv.checkCount() >= 1 }, "no check ran")
	p.Stop()
	assert.Equal(t, StateStopped, p.State())

	n := f.srv.checkCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, f.srv.checkCount(), "checks continued after Stop")

	assert.Error(t, p.Start(context.Background()))
}

func TestClient_ClassifiesErrors(t *testing.T) {
	f := newPollerFixture(t)

	f.srv.mu.Lock()
	f.srv.unauthorized = true
	f.srv.mu.Unlock()

	_, err := f.client.CheckUpdates(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.client.ListMessages(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
