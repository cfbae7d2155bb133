package httptransport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parlor/internal/config"
	"parlor/internal/game/hangman"
	"parlor/internal/game/memory"
	"parlor/internal/game/tictactoe"
	"parlor/internal/memstore"
	"parlor/internal/notify"
	"parlor/internal/session"
	httptransport "parlor/internal/transport/http"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	bus := notify.NewBus()
	svc := session.NewService(memstore.New(), bus,
		tictactoe.New(), hangman.New(), memory.New())
	return httptransport.NewRouter(svc, bus, config.ServerConfig{})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) session.Session {
	t.Helper()
	var s session.Session
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return s
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e.Error
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/sessions",
		`{"kind":"tic-tac-toe","player":{"id":"p1","nickname":"alice"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body)
	}
	created := decodeSession(t, w)
	if created.Status != session.StatusWaiting {
		t.Fatalf("created status = %s", created.Status)
	}

	w = do(t, router, http.MethodGet, "/api/sessions?kind=tic-tac-toe", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var list struct {
		Items []session.Session `json:"items"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("list = %+v", list.Items)
	}

	w = do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/join",
		`{"player":{"id":"p2","nickname":"bob"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("join = %d: %s", w.Code, w.Body)
	}
	joined := decodeSession(t, w)
	if joined.Status != session.StatusPlaying || joined.CurrentActor != "p1" {
		t.Fatalf("joined = %+v", joined)
	}

	w = do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/moves",
		`{"player_id":"p1","move":{"position":4}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d: %s", w.Code, w.Body)
	}
	moved := decodeSession(t, w)
	if moved.CurrentActor != "p2" || moved.Version != joined.Version+1 {
		t.Fatalf("moved = %+v", moved)
	}

	w = do(t, router, http.MethodGet, "/api/sessions/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	got := decodeSession(t, w)
	if got.Version != moved.Version {
		t.Fatalf("get version = %d, want %d", got.Version, moved.Version)
	}
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/sessions",
		`{"kind":"tic-tac-toe","player":{"id":"p1","nickname":"alice"}}`)
	created := decodeSession(t, w)
	do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/join",
		`{"player":{"id":"p2","nickname":"bob"}}`)

	cases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			"unknown kind", http.MethodPost, "/api/sessions",
			`{"kind":"chess","player":{"id":"p1","nickname":"alice"}}`,
			http.StatusBadRequest, "validation_error",
		},
		{
			"malformed body", http.MethodPost, "/api/sessions",
			`{"kind":`,
			http.StatusBadRequest, "validation_error",
		},
		{
			"missing session", http.MethodGet, "/api/sessions/nope", "",
			http.StatusNotFound, "not_found",
		},
		{
			"join taken seat", http.MethodPost, "/api/sessions/" + created.ID + "/join",
			`{"player":{"id":"p3","nickname":"carol"}}`,
			http.StatusConflict, "already_joined",
		},
		{
			"out of turn move", http.MethodPost, "/api/sessions/" + created.ID + "/moves",
			`{"player_id":"p2","move":{"position":0}}`,
			http.StatusConflict, "stale_move",
		},
		{
			"rematch before finish", http.MethodPost, "/api/sessions/" + created.ID + "/rematch",
			`{"player_id":"p1"}`,
			http.StatusConflict, "invalid_state",
		},
		{
			"illegal move payload", http.MethodPost, "/api/sessions/" + created.ID + "/moves",
			`{"player_id":"p1","move":{"position":99}}`,
			http.StatusBadRequest, "validation_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, tc.method, tc.path, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantStatus, w.Body)
			}
			if got := errCode(t, w); got != tc.wantCode {
				t.Fatalf("error = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestRematchEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/sessions",
		`{"kind":"tic-tac-toe","player":{"id":"p1","nickname":"alice"}}`)
	created := decodeSession(t, w)
	do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/join",
		`{"player":{"id":"p2","nickname":"bob"}}`)
	for _, step := range []struct {
		player string
		pos    int
	}{
		{"p1", 0}, {"p2", 3}, {"p1", 1}, {"p2", 4}, {"p1", 2},
	} {
		body := fmt.Sprintf(`{"player_id":%q,"move":{"position":%d}}`, step.player, step.pos)
		w := do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/moves", body)
		if w.Code != http.StatusOK {
			t.Fatalf("move %+v = %d: %s", step, w.Code, w.Body)
		}
	}

	w = do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/rematch", `{"player_id":"p2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("request = %d: %s", w.Code, w.Body)
	}
	var ticket session.Ticket
	if err := json.NewDecoder(w.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if !ticket.Pending {
		t.Fatalf("ticket = %+v, want pending", ticket)
	}

	w = do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/rematch/accept", `{"player_id":"p1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("accept = %d: %s", w.Code, w.Body)
	}
	var accepted struct {
		LinkedSessionID string `json:"linked_session_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode accept: %v", err)
	}
	if accepted.LinkedSessionID == "" {
		t.Fatal("no linked session id")
	}

	w = do(t, router, http.MethodGet, "/api/sessions/"+accepted.LinkedSessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get linked = %d", w.Code)
	}
	fresh := decodeSession(t, w)
	if fresh.Status != session.StatusPlaying || fresh.Seat1.ID != "p1" {
		t.Fatalf("fresh = %+v, want accepter in seat1", fresh)
	}

	w = do(t, router, http.MethodPost, "/api/sessions/"+created.ID+"/rematch/decline", `{"player_id":"p2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("decline after link = %d: %s", w.Code, w.Body)
	}
}

func TestQREndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/api/sessions",
		`{"kind":"memory","player":{"id":"p1","nickname":"alice"}}`)
	created := decodeSession(t, w)

	w = do(t, router, http.MethodGet, "/api/sessions/"+created.ID+"/qr", "")
	if w.Code != http.StatusOK {
		t.Fatalf("qr = %d: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty png")
	}
}

// flakyNotifier refuses subscriptions past a limit and counts how many
// granted ones were released again.
type flakyNotifier struct {
	bus        *notify.Bus
	grantLimit int
	grants     int
	released   int
}

func (n *flakyNotifier) Publish(ctx context.Context, topic string, ev session.Event) error {
	return n.bus.Publish(ctx, topic, ev)
}

func (n *flakyNotifier) Subscribe(topic string, fn func(session.Event)) (func(), error) {
	if n.grants >= n.grantLimit {
		return nil, errors.New("subscribe refused")
	}
	n.grants++
	unsub, err := n.bus.Subscribe(topic, fn)
	if err != nil {
		return nil, err
	}
	return func() {
		n.released++
		unsub()
	}, nil
}

func TestEventsReleasesSubscriptionsOnSubscribeError(t *testing.T) {
	notifier := &flakyNotifier{bus: notify.NewBus(), grantLimit: 1}
	svc := session.NewService(memstore.New(), notifier,
		tictactoe.New(), hangman.New(), memory.New())
	router := httptransport.NewRouter(svc, notifier, config.ServerConfig{})

	created, err := svc.Create(t.Context(), session.KindTicTacToe, session.Player{ID: "p1", Nickname: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := do(t, router, http.MethodGet, "/api/sessions/"+created.ID+"/events", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("events = %d, want 500", w.Code)
	}
	if notifier.grants != 1 {
		t.Fatalf("grants = %d, want the first subscription to succeed", notifier.grants)
	}
	if notifier.released != 1 {
		t.Fatalf("released = %d, the granted subscription leaked", notifier.released)
	}
}

func TestEventsStream(t *testing.T) {
	bus := notify.NewBus()
	svc := session.NewService(memstore.New(), bus,
		tictactoe.New(), hangman.New(), memory.New())
	router := httptransport.NewRouter(svc, bus, config.ServerConfig{})

	created, err := svc.Create(t.Context(), session.KindTicTacToe, session.Player{ID: "p1", Nickname: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/" + created.ID + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	// A join in another goroutine must surface as a stream event after
	// the initial snapshot.
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = svc.Join(t.Context(), created.ID, session.Player{ID: "p2", Nickname: "bob"})
	}()

	scanner := bufio.NewScanner(resp.Body)
	var dataLines int
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() && time.Now().Before(deadline) {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines++
			if dataLines >= 2 {
				return // initial snapshot plus the join update
			}
		}
	}
	t.Fatalf("saw %d data events, want 2", dataLines)
}
