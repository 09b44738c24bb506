package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Vovarama1992/pixode-support/internal/identity"
)

type Handler struct {
	svc      Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The widget is embedded on the marketing site; CORS already
			// decides which origins may talk to the API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// CreateSession starts a chat for the submitted customer contact.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CustomerContact string `json:"customer_contact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	sess, err := h.svc.CreateSession(r.Context(), payload.CustomerContact)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.ResumeSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.LoadHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PostMessage writes as the assigned agent when the caller is an agent, and
// as the customer otherwise.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text     string `json:"text"`
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	sender := Customer()
	if who := identity.FromContext(r.Context()); who.IsAgent {
		sender = Agent(who.ID)
	}

	msg, err := h.svc.PostMessage(r.Context(), PostRequest{
		SessionID: chi.URLParam(r, "id"),
		Sender:    sender,
		Text:      payload.Text,
		ClientID:  payload.ClientID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListOpenSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Worklist(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListAssignedSessions(r.Context(), identity.FromContext(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.ClaimSession(r.Context(), chi.URLParam(r, "id"), identity.FromContext(r.Context()))
	var conflict *ClaimConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, errorBody{Error: conflict.Error(), Session: conflict.Session})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.CloseSession(r.Context(), chi.URLParam(r, "id"), identity.FromContext(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type errorBody struct {
	Error   string   `json:"error"`
	Session *Session `json:"session,omitempty"`
}

// StatusCode maps chat errors onto HTTP statuses.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if code >= 500 {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
