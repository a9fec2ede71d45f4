package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
)

func TestMain(m *testing.M) {
	// Keep password hashing cheap in tests.
	os.Setenv("PARLEY_ARGON2_MEMORY_KIB", "8192")
	os.Setenv("PARLEY_ARGON2_ITERATIONS", "1")
	os.Exit(m.Run())
}

type authFixture struct {
	handler *Handler
	users   *identity.MemoryStore
	mux     *http.ServeMux
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	users := identity.NewMemoryStore()
	sessions := session.NewService(session.DefaultConfig(), session.NewMemoryStore())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h, err := NewHandler(log, DefaultConfig(), users, sessions)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return &authFixture{handler: h, users: users, mux: mux}
}

func (f *authFixture) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set; got %v", name, rec.Header().Values("Set-Cookie"))
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// register runs the two-step flow and returns the live session cookie.
func (f *authFixture) register(t *testing.T, first, last, email, pass string) *http.Cookie {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/auth/register/start", registerStartRequest{
		FirstName: first, LastName: last, Email: email,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register start: got %d: %s", rec.Code, rec.Body.String())
	}
	draft := cookieNamed(t, rec, "parley_draft")

	rec = f.do(t, http.MethodPost, "/auth/register/complete",
		registerCompleteRequest{Password: pass}, draft)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register complete: got %d: %s", rec.Code, rec.Body.String())
	}
	return cookieNamed(t, rec, "parley_session")
}

func TestRegistrationFlow(t *testing.T) {
	f := newAuthFixture(t)

	sess := f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	rec := f.do(t, http.MethodGet, "/me", nil, sess)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me: got %d: %s", rec.Code, rec.Body.String())
	}
	me := decodeBody[userResponse](t, rec)
	if me.Email != "alice@example.com" || me.DisplayName != "Alice Ames" {
		t.Fatalf("/me: got %+v", me)
	}
}

func TestRegisterCompleteWithoutDraft(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register/complete", registerCompleteRequest{Password: "whatever12"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Error.Code != "draft_required" {
		t.Fatalf("error code: got %q, want %q", resp.Error.Code, "draft_required")
	}
}

func TestRegisterCompleteConsumesDraft(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register/start", registerStartRequest{
		FirstName: "Alice", LastName: "Ames", Email: "alice@example.com",
	})
	draft := cookieNamed(t, rec, "parley_draft")

	rec = f.do(t, http.MethodPost, "/auth/register/complete",
		registerCompleteRequest{Password: "a strong password"}, draft)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first complete: got %d", rec.Code)
	}

	// Replaying the consumed draft must not mint another account.
	rec = f.do(t, http.MethodPost, "/auth/register/complete",
		registerCompleteRequest{Password: "a strong password"}, draft)
	if rec.Code == http.StatusCreated {
		t.Fatalf("replayed draft created a second account: %s", rec.Body.String())
	}
}

func TestRegisterEmailConflict(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	rec := f.do(t, http.MethodPost, "/auth/register/start", registerStartRequest{
		FirstName: "Alicia", LastName: "Ames", Email: "ALICE@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("second start: got %d", rec.Code)
	}
	draft := cookieNamed(t, rec, "parley_draft")

	rec = f.do(t, http.MethodPost, "/auth/register/complete",
		registerCompleteRequest{Password: "another password"}, draft)
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflicting complete: got %d, want 409: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Error.Code != "email_taken" {
		t.Fatalf("error code: got %q, want %q", resp.Error.Code, "email_taken")
	}
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{
		Email: "Alice@Example.com", Password: "a strong password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got %d: %s", rec.Code, rec.Body.String())
	}
	sess := cookieNamed(t, rec, "parley_session")

	rec = f.do(t, http.MethodGet, "/me", nil, sess)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me after login: got %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	cases := []loginRequest{
		{Email: "alice@example.com", Password: "wrong password"},
		{Email: "nobody@example.com", Password: "a strong password"},
	}
	for _, req := range cases {
		rec := f.do(t, http.MethodPost, "/auth/login", req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("login %q: got %d, want 401", req.Email, rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Error.Code != "invalid_credentials" {
			t.Fatalf("error code: got %q, want %q", resp.Error.Code, "invalid_credentials")
		}
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	sess := f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	rec := f.do(t, http.MethodPost, "/auth/logout", nil, sess)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/me", nil, sess)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("/me after logout: got %d, want 401", rec.Code)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newAuthFixture(t)
	first := f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{
		Email: "alice@example.com", Password: "a strong password",
	})
	second := cookieNamed(t, rec, "parley_session")

	rec = f.do(t, http.MethodPost, "/auth/logout_all", nil, second)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout_all: got %d", rec.Code)
	}

	for i, c := range []*http.Cookie{first, second} {
		rec = f.do(t, http.MethodGet, "/me", nil, c)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("/me with session %d after logout_all: got %d, want 401", i, rec.Code)
		}
	}
}

func TestAuthenticateGuard(t *testing.T) {
	f := newAuthFixture(t)
	sess := f.register(t, "Alice", "Ames", "alice@example.com", "a strong password")

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	if _, err := f.handler.Authenticate(req); err == nil {
		t.Fatal("Authenticate without cookie must fail")
	}

	req.AddCookie(sess)
	userID, err := f.handler.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if userID == "" {
		t.Fatal("Authenticate returned empty user id")
	}
}
