package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"parlor/internal/config"
	"parlor/internal/session"
)

type Handlers struct {
	svc      *session.Service
	notifier session.Notifier
	cfg      config.ServerConfig
}

func NewHandlers(svc *session.Service, notifier session.Notifier, cfg config.ServerConfig) *Handlers {
	return &Handlers{svc: svc, notifier: notifier, cfg: cfg}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	}
}

type createSessionRequest struct {
	Kind   string         `json:"kind"`
	Player session.Player `json:"player"`
}

func (h *Handlers) CreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "validation_error")
			return
		}
		kind, err := session.ParseKind(req.Kind)
		if err != nil {
			writeError(w, err)
			return
		}
		sess, err := h.svc.Create(r.Context(), kind, req.Player)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(sess)
	}
}

func (h *Handlers) ListOpenSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := session.ParseKind(r.URL.Query().Get("kind"))
		if err != nil {
			writeError(w, err)
			return
		}
		items, err := h.svc.ListOpen(r.Context(), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"items": items})
	}
}

func (h *Handlers) GetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.svc.Get(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sess)
	}
}

type joinSessionRequest struct {
	Player session.Player `json:"player"`
}

func (h *Handlers) JoinSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "validation_error")
			return
		}
		sess, err := h.svc.Join(r.Context(), chi.URLParam(r, "session_id"), req.Player)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sess)
	}
}

type submitMoveRequest struct {
	PlayerID string          `json:"player_id"`
	Move     json.RawMessage `json:"move"`
}

func (h *Handlers) SubmitMove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitMoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "validation_error")
			return
		}
		sess, err := h.svc.Move(r.Context(), chi.URLParam(r, "session_id"), req.PlayerID, req.Move)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sess)
	}
}

type rematchRequest struct {
	PlayerID string `json:"player_id"`
}

func (h *Handlers) RequestRematch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rematchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "validation_error")
			return
		}
		ticket, err := h.svc.RequestRematch(r.Context(), chi.URLParam(r, "session_id"), req.PlayerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, ticket)
	}
}

func (h *Handlers) AcceptRematch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rematchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "validation_error")
			return
		}
		linkedID, err := h.svc.AcceptRematch(r.Context(), chi.URLParam(r, "session_id"), req.PlayerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"linked_session_id": linkedID})
	}
}

func (h *Handlers) DeclineRematch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rematchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "validation_error")
			return
		}
		if err := h.svc.DeclineRematch(r.Context(), chi.URLParam(r, "session_id"), req.PlayerID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}
