package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"parlor/internal/game/tictactoe"
	"parlor/internal/memstore"
	"parlor/internal/notify"
	"parlor/internal/session"
	"parlor/internal/ws"
)

// slowStore delays reads to stand in for a loaded database.
type slowStore struct {
	*memstore.Store
	delay time.Duration
}

func (s *slowStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	time.Sleep(s.delay)
	return s.Store.GetSession(ctx, id)
}

func startSessionSocket(t *testing.T, st session.Store, bus *notify.Bus) (*session.Service, *session.Session, *websocket.Conn) {
	t.Helper()
	svc := session.NewService(st, bus, tictactoe.New())

	created, err := svc.Create(t.Context(), session.KindTicTacToe, session.Player{ID: "p1", Nickname: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess, err := svc.Join(t.Context(), created.ID, session.Player{ID: "p2", Nickname: "bob"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	wsSrv := ws.NewServer(svc, bus)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsSrv.Handle(w, r, sess.ID)
	}))
	t.Cleanup(httpSrv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return svc, sess, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *session.Session {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f struct {
		Type    string           `json:"type"`
		Session *session.Session `json:"session"`
	}
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(body, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Type != "session" || f.Session == nil {
		t.Fatalf("frame = %+v", f)
	}
	return f.Session
}

func TestHandlePushesStateOnHints(t *testing.T) {
	bus := notify.NewBus()
	svc, sess, conn := startSessionSocket(t, memstore.New(), bus)

	initial := readFrame(t, conn)
	if initial.ID != sess.ID || initial.Version != sess.Version {
		t.Fatalf("initial frame = %+v, want version %d", initial, sess.Version)
	}

	move, _ := json.Marshal(tictactoe.Move{Position: 4})
	moved, err := svc.Move(t.Context(), sess.ID, "p1", move)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	next := readFrame(t, conn)
	if next.Version != moved.Version {
		t.Fatalf("pushed version = %d, want %d", next.Version, moved.Version)
	}
}

// The notifier invokes handlers on the publisher's goroutine, so the
// connection handler must never do its store read there: a slow read
// would serialize every other subscriber behind it.
func TestPublishNeverWaitsOnTheStore(t *testing.T) {
	st := &slowStore{Store: memstore.New(), delay: 300 * time.Millisecond}
	bus := notify.NewBus()
	_, sess, conn := startSessionSocket(t, st, bus)
	readFrame(t, conn)

	ev := session.Event{
		Type:      session.EventUpdate,
		SessionID: sess.ID,
		Kind:      sess.Kind,
		Version:   sess.Version + 1,
	}
	start := time.Now()
	if err := bus.Publish(t.Context(), session.SessionTopic(sess.ID), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= st.delay {
		t.Fatalf("publish blocked %v behind the store read", elapsed)
	}
}
