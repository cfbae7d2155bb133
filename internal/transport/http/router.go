package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"parlor/internal/config"
	"parlor/internal/session"
	"parlor/internal/ws"
)

func NewRouter(svc *session.Service, notifier session.Notifier, cfg config.ServerConfig) *chi.Mux {
	h := NewHandlers(svc, notifier, cfg)
	wsSrv := ws.NewServer(svc, notifier)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", h.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Post("/sessions", h.CreateSession())
		r.Get("/sessions", h.ListOpenSessions())
		r.Get("/sessions/{session_id}", h.GetSession())
		r.Post("/sessions/{session_id}/join", h.JoinSession())
		r.Post("/sessions/{session_id}/moves", h.SubmitMove())
		r.Post("/sessions/{session_id}/rematch", h.RequestRematch())
		r.Post("/sessions/{session_id}/rematch/accept", h.AcceptRematch())
		r.Post("/sessions/{session_id}/rematch/decline", h.DeclineRematch())
		r.Get("/sessions/{session_id}/events", h.Events())
		r.Get("/sessions/{session_id}/qr", h.QR())
		r.Get("/sessions/{session_id}/ws", func(w http.ResponseWriter, req *http.Request) {
			wsSrv.Handle(w, req, chi.URLParam(req, "session_id"))
		})
	})

	return r
}
