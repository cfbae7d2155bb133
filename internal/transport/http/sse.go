package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"parlor/internal/session"
)

const sseHeartbeat = 15 * time.Second

// Events streams session state over SSE. Change hints trigger an
// authoritative re-fetch; the stream never forwards a hint body as
// state. Duplicate hints across the two topics collapse on version.
func (h *Handlers) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session_id")
		sess, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		hints := make(chan session.Event, 16)
		enqueue := func(ev session.Event) {
			if ev.SessionID != id {
				return
			}
			select {
			case hints <- ev:
			default:
			}
		}
		var unsubs []func()
		defer func() {
			for _, unsub := range unsubs {
				unsub()
			}
		}()
		for _, topic := range []string{session.SessionTopic(id), session.KindTopic(sess.Kind)} {
			unsub, err := h.notifier.Subscribe(topic, enqueue)
			if err != nil {
				writeHTTPError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			unsubs = append(unsubs, unsub)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		lastVersion := int64(0)
		send := func(s *session.Session) bool {
			if s.Version <= lastVersion {
				return true
			}
			lastVersion = s.Version
			if err := writeSSE(w, "session", strconv.FormatInt(s.Version, 10), s); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}
		if !send(sess) {
			return
		}

		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-hints:
				if ev.Type != session.EventRematchLinked && ev.Version <= lastVersion {
					continue
				}
				fresh, err := h.svc.Get(r.Context(), id)
				if err != nil {
					continue
				}
				if !send(fresh) {
					return
				}
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event, id string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}
