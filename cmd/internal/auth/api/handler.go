package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
)

// Handler serves the /auth and /me routes and implements the session guard
// used by the protected API.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	users    identity.Store
	sessions *session.Service

	// dummyHash absorbs verification time for unknown emails so login
	// latency does not reveal whether an account exists.
	dummyHash string
}

func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service) (*Handler, error) {
	dummy, err := identity.HashPassword("parley-login-timing-pad")
	if err != nil {
		return nil, err
	}
	return &Handler{
		log:       log,
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		dummyHash: dummy,
	}, nil
}

// Register wires the auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register/start", h.post(h.registerStart))
	mux.HandleFunc("/auth/register/complete", h.post(h.registerComplete))
	mux.HandleFunc("/auth/login", h.post(h.login))
	mux.HandleFunc("/auth/logout", h.post(h.logout))
	mux.HandleFunc("/auth/logout_all", h.post(h.logoutAll))
	mux.HandleFunc("/me", h.me)
}

func (h *Handler) post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		fn(w, r)
	}
}

// Authenticate resolves the requesting user from the session cookie. It is
// the chat package's Authenticator.
func (h *Handler) Authenticate(r *http.Request) (string, error) {
	claims, err := h.claims(r)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (h *Handler) claims(r *http.Request) (session.Claims, error) {
	c, err := r.Cookie(h.sessions.Config().CookieName)
	if err != nil {
		return session.Claims{}, session.ErrSessionNotFound
	}
	return h.sessions.Validate(r.Context(), c.Value, time.Now().UTC())
}

func (h *Handler) registerStart(w http.ResponseWriter, r *http.Request) {
	var req registerStartRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	now := time.Now().UTC()
	draft, err := h.users.StartRegistration(r.Context(), identity.StartRegistrationInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		TTL:       h.cfg.DraftTTL,
		Now:       now,
	})
	if err != nil {
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "first name, last name and a valid email are required")
			return
		}
		h.log.Error("auth.register.start.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not start registration")
		return
	}

	setDraftCookie(w, h.cfg, draft.ID, draft.ExpiresAt)
	h.log.Info("auth.register.start", "draft_id", draft.ID)
	writeJSON(w, http.StatusCreated, registerStartResponse{
		DraftID:   draft.ID,
		Email:     draft.Email,
		ExpiresAt: draft.ExpiresAt.UTC(),
	})
}

func (h *Handler) registerComplete(w http.ResponseWriter, r *http.Request) {
	var req registerCompleteRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	c, err := r.Cookie(h.cfg.DraftCookieName)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusBadRequest, "draft_required", "start registration first")
		return
	}

	now := time.Now().UTC()
	user, err := h.users.CompleteRegistration(r.Context(), identity.CompleteRegistrationInput{
		DraftID:  c.Value,
		Password: req.Password,
		Now:      now,
	})
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "password does not meet the policy")
		case identity.IsNotActive(err):
			clearDraftCookie(w, h.cfg)
			writeError(w, http.StatusGone, "draft_expired", "registration draft expired, start again")
		case identity.IsNotFound(err):
			clearDraftCookie(w, h.cfg)
			writeError(w, http.StatusBadRequest, "draft_invalid", "registration draft not found, start again")
		case identity.IsConflict(err):
			clearDraftCookie(w, h.cfg)
			writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		default:
			h.log.Error("auth.register.complete.fail", "error", err, "draft_id", c.Value)
			writeError(w, http.StatusInternalServerError, "server_error", "could not complete registration")
		}
		return
	}

	clearDraftCookie(w, h.cfg)
	if err := h.issueSession(w, r, now, user.ID); err != nil {
		h.log.Error("auth.register.complete.session.fail", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not create session")
		return
	}

	h.log.Info("auth.register.complete", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	now := time.Now().UTC()
	auth, err := h.users.GetUserAuthByEmail(r.Context(), req.Email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			// Burn comparable verification time for unknown accounts.
			_, _ = identity.VerifyPassword(req.Password, h.dummyHash)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
			return
		}
		h.log.Error("auth.login.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not log in")
		return
	}

	ok, err := identity.VerifyPassword(req.Password, auth.PasswordHash)
	if err != nil {
		h.log.Error("auth.login.fail", "error", err, "user_id", auth.User.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not log in")
		return
	}
	if !ok {
		h.log.Info("auth.login.reject", "user_id", auth.User.ID)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	if err := h.issueSession(w, r, now, auth.User.ID); err != nil {
		h.log.Error("auth.login.session.fail", "error", err, "user_id", auth.User.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not create session")
		return
	}

	h.log.Info("auth.login", "user_id", auth.User.ID)
	writeJSON(w, http.StatusOK, toUserResponse(auth.User))
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, now time.Time, userID string) error {
	issued, err := h.sessions.Issue(r.Context(), now, userID)
	if err != nil {
		return err
	}
	setSessionCookie(w, h.sessions.Config(), issued.Token, issued.ExpiresAt)
	return nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, err := h.claims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	if err := h.sessions.Revoke(r.Context(), time.Now().UTC(), claims.SessionID); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		h.log.Error("auth.logout.fail", "error", err, "session_id", claims.SessionID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not log out")
		return
	}

	clearSessionCookie(w, h.sessions.Config())
	h.log.Info("auth.logout", "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, err := h.claims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	if err := h.sessions.RevokeAll(r.Context(), time.Now().UTC(), claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "error", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not log out")
		return
	}

	clearSessionCookie(w, h.sessions.Config())
	h.log.Info("auth.logout_all", "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	claims, err := h.claims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			// Session outlived the account.
			clearSessionCookie(w, h.sessions.Config())
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		h.log.Error("auth.me.fail", "error", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not load profile")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
