// Package ws pushes session updates to browser tabs over WebSocket.
// The socket is one-way state push: clients mutate sessions through the
// HTTP API, and the Reconciliation Client's dedup rules apply on the
// receiving side.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"parlor/internal/session"
)

const (
	sendBacklog  = 8
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

type Server struct {
	svc      *session.Service
	notifier session.Notifier
	upgrader websocket.Upgrader
}

func NewServer(svc *session.Service, notifier session.Notifier) *Server {
	return &Server{
		svc:      svc,
		notifier: notifier,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

type frame struct {
	Type    string           `json:"type"`
	Session *session.Session `json:"session"`
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.svc.Get(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	send := make(chan []byte, sendBacklog)
	hints := make(chan session.Event, sendBacklog)
	done := make(chan struct{})

	lastVersion := int64(0)
	push := func(state *session.Session) {
		if state.Version <= lastVersion {
			return
		}
		lastVersion = state.Version
		body, err := json.Marshal(frame{Type: "session", Session: state})
		if err != nil {
			return
		}
		select {
		case send <- body:
		default:
			// Slow consumer; it catches up on the next update.
		}
	}
	push(sess)

	// The notifier callback only queues the hint; the store fetch
	// happens on this connection's own goroutine so a slow read never
	// stalls the publisher. A full backlog drops the hint, which a later
	// one makes up for.
	enqueue := func(ev session.Event) {
		if ev.SessionID != sessionID {
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
	for _, topic := range []string{session.SessionTopic(sessionID), session.KindTopic(sess.Kind)} {
		unsub, err := s.notifier.Subscribe(topic, enqueue)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("ws subscribe failed")
			_ = conn.Close()
			return
		}
		unsubs = append(unsubs, unsub)
	}

	go s.writeLoop(conn, send, done)
	go s.fetchLoop(r.Context(), sessionID, hints, push, done)
	s.readLoop(conn)

	close(done)
	_ = conn.Close()
}

// fetchLoop turns queued hints into authoritative re-fetches. push is
// only ever called from here and from Handle before the loop starts, so
// the version guard needs no lock.
func (s *Server) fetchLoop(ctx context.Context, sessionID string, hints <-chan session.Event, push func(*session.Session), done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-hints:
			fresh, err := s.svc.Get(ctx, sessionID)
			if err != nil {
				continue
			}
			push(fresh)
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case body := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains the socket until the client goes away; inbound
// messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
