package chat

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxBodyBytes = 16 << 10

// Authenticator resolves the requesting user from a request. Implemented by
// the auth API handler; every chat route requires a valid session.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// Handler serves the message API and the freshness poll endpoint.
type Handler struct {
	log     *slog.Logger
	store   Store
	mark    *Watermark
	auth    Authenticator
	metrics *Metrics
}

func NewHandler(log *slog.Logger, store Store, mark *Watermark, auth Authenticator, metrics *Metrics) *Handler {
	return &Handler{log: log, store: store, mark: mark, auth: auth, metrics: metrics}
}

// Register wires the chat routes onto mux. The exact "/api/messages/updates"
// pattern wins over the "/api/messages/" subtree.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages", h.handleMessages)
	mux.HandleFunc("/api/messages/", h.handleMessageByID)
	mux.HandleFunc("/api/messages/updates", h.handleUpdates)
}

type messageResponse struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type listResponse struct {
	Messages []messageResponse `json:"messages"`
}

type messageRequest struct {
	Text string `json:"text"`
}

// updatesResponse uses the wire keys polling clients are written against.
type updatesResponse struct {
	HasUpdates bool   `json:"hasUpdates"`
	LastCheck  string `json:"lastCheck"`
}

func toResponse(m Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r, userID)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		msgs []Message
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		msgs, err = h.store.Search(r.Context(), q)
		h.metrics.listFetch("search")
	} else {
		msgs, err = h.store.ListWithAuthors(r.Context())
		h.metrics.listFetch("full")
	}
	if err != nil {
		h.log.Error("chat.list.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not load messages")
		return
	}

	out := listResponse{Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, userID string) {
	var req messageRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	text, err := ValidateText(req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "message text must be 1 to 500 characters")
		return
	}

	now := time.Now().UTC()
	msg, err := h.store.Create(r.Context(), CreateMessageInput{AuthorID: userID, Text: text, Now: now})
	if err != nil {
		h.log.Error("chat.create.fail", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "server_error", "could not create message")
		return
	}

	h.mark.Advance(now)
	h.metrics.write("create")
	h.log.Info("chat.create", "message_id", msg.ID, "user_id", userID)
	writeJSON(w, http.StatusCreated, toResponse(msg))
}

func (h *Handler) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "no such message")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.update(w, r, id, userID)
	case http.MethodDelete:
		h.delete(w, r, id, userID)
	default:
		w.Header().Set("Allow", "PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, id, userID string) {
	var req messageRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	text, err := ValidateText(req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "message text must be 1 to 500 characters")
		return
	}

	now := time.Now().UTC()
	msg, err := h.store.Update(r.Context(), id, userID, text, now)
	if err != nil {
		h.writeStoreError(w, "chat.update.fail", err, id, userID)
		return
	}

	h.mark.Advance(now)
	h.metrics.write("update")
	h.log.Info("chat.update", "message_id", id, "user_id", userID)
	writeJSON(w, http.StatusOK, toResponse(msg))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, id, userID string) {
	now := time.Now().UTC()
	if err := h.store.Delete(r.Context(), id, userID, now); err != nil {
		h.writeStoreError(w, "chat.delete.fail", err, id, userID)
		return
	}

	h.mark.Advance(now)
	h.metrics.write("delete")
	h.log.Info("chat.delete", "message_id", id, "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, event string, err error, id, userID string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such message")
	case errors.Is(err, ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", "not the author of this message")
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid message")
	default:
		h.log.Error(event, "error", err, "message_id", id, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "server_error", "operation failed")
	}
}

// handleUpdates is the freshness poll. Read only: it never advances the
// watermark, so polling in a quiet room converges on "no updates".
func (h *Handler) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, err := h.auth.Authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	raw := r.Header.Get("Last-Update")
	cursor := ParseCursor(raw)
	if cursor.UnixNano() == 0 {
		h.metrics.badCursor()
	}

	hasUpdates := h.mark.HasChangedSince(cursor)
	h.metrics.pollCheck(hasUpdates)

	writeJSON(w, http.StatusOK, updatesResponse{
		HasUpdates: hasUpdates,
		LastCheck:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
