// Package reconcile keeps one client's view of a session converged with
// the authoritative record, using only unreliable, unordered,
// possibly-duplicated change hints plus a polling fallback.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"parlor/internal/session"
)

const (
	defaultPollInterval   = 3 * time.Second
	defaultMaxPollBackoff = 30 * time.Second
	defaultRematchTimeout = 30 * time.Second

	eventBacklog = 16
)

// Backend is the slice of the session service a watcher needs.
type Backend interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	DeclineRematch(ctx context.Context, id, playerID string) error
}

type Options struct {
	// PlayerID enables the rematch auto-decline guard for this player's
	// own pending requests. Optional for pure spectators.
	PlayerID string

	// OnUpdate receives every newly observed session state, already
	// deduplicated by version. Called from the watcher goroutine.
	OnUpdate func(*session.Session)

	// OnRematch fires exactly once, when the rematch link first becomes
	// visible, regardless of how many duplicate hints announce it.
	OnRematch func(linkedSessionID string)

	PollInterval   time.Duration
	MaxPollBackoff time.Duration
	RematchTimeout time.Duration
}

// Watcher follows a single session until closed.
type Watcher struct {
	backend   Backend
	sessionID string
	opts      Options

	events chan session.Event
	unsubs []func()
	cancel context.CancelFunc
	done   chan struct{}

	lastVersion int64
	navOnce     sync.Once

	mu           sync.Mutex
	declineTimer *time.Timer
}

// Watch fetches the session once, subscribes to both its per-session
// topic and its game-kind broadcast topic, and starts the reconcile
// loop. The initial state is delivered through OnUpdate like any other.
func Watch(ctx context.Context, b Backend, n session.Notifier, sessionID string, opts Options) (*Watcher, error) {
	initial, err := b.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollBackoff <= 0 {
		opts.MaxPollBackoff = defaultMaxPollBackoff
	}
	if opts.RematchTimeout <= 0 {
		opts.RematchTimeout = defaultRematchTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		backend:   b,
		sessionID: sessionID,
		opts:      opts,
		events:    make(chan session.Event, eventBacklog),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, topic := range []string{session.SessionTopic(sessionID), session.KindTopic(initial.Kind)} {
		unsub, err := n.Subscribe(topic, w.enqueue)
		if err != nil {
			w.teardown()
			cancel()
			return nil, err
		}
		w.unsubs = append(w.unsubs, unsub)
	}
	go w.run(ctx, initial)
	return w, nil
}

func (w *Watcher) Close() {
	w.cancel()
	<-w.done
	w.teardown()
}

func (w *Watcher) teardown() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
	w.mu.Lock()
	if w.declineTimer != nil {
		w.declineTimer.Stop()
		w.declineTimer = nil
	}
	w.mu.Unlock()
}

// enqueue runs on the notifier's goroutine and must not block; a full
// backlog drops the hint, which the next poll makes up for.
func (w *Watcher) enqueue(ev session.Event) {
	select {
	case w.events <- ev:
	default:
	}
}

func (w *Watcher) run(ctx context.Context, initial *session.Session) {
	defer close(w.done)
	w.apply(initial)

	pollWait := w.opts.PollInterval
	poll := time.NewTimer(pollWait)
	defer poll.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			// The kind-wide topic carries every session of this game;
			// skip other sessions, and skip hints already applied.
			if ev.SessionID != w.sessionID {
				continue
			}
			if ev.Type != session.EventRematchLinked && ev.Version <= w.lastVersion {
				continue
			}
			if err := w.refresh(ctx); err == nil {
				failures = 0
			}
		case <-poll.C:
			if err := w.refresh(ctx); err != nil {
				if failures < 10 {
					failures++
				}
			} else {
				failures = 0
			}
			pollWait = w.opts.PollInterval << failures
			if pollWait > w.opts.MaxPollBackoff {
				pollWait = w.opts.MaxPollBackoff
			}
			poll.Reset(pollWait)
		}
	}
}

// refresh re-reads the authoritative record; the hint that triggered it
// is never trusted for content.
func (w *Watcher) refresh(ctx context.Context) error {
	s, err := w.backend.Get(ctx, w.sessionID)
	if err != nil {
		log.Debug().Err(err).Str("session_id", w.sessionID).Msg("reconcile fetch failed")
		return err
	}
	w.apply(s)
	return nil
}

func (w *Watcher) apply(s *session.Session) {
	if s.Version > w.lastVersion {
		w.lastVersion = s.Version
		if w.opts.OnUpdate != nil {
			w.opts.OnUpdate(s)
		}
	}
	if s.Rematch.SessionID != "" {
		w.stopDeclineTimer()
		linked := s.Rematch.SessionID
		w.navOnce.Do(func() {
			if w.opts.OnRematch != nil {
				w.opts.OnRematch(linked)
			}
		})
		return
	}
	w.armDeclineTimer(s)
}

// armDeclineTimer bounds how long this player's own rematch request can
// hang unanswered; when the window passes it is withdrawn so the UI is
// released.
func (w *Watcher) armDeclineTimer(s *session.Session) {
	if w.opts.PlayerID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.Rematch.RequestedBy != w.opts.PlayerID {
		if w.declineTimer != nil {
			w.declineTimer.Stop()
			w.declineTimer = nil
		}
		return
	}
	if w.declineTimer != nil {
		return
	}
	w.declineTimer = time.AfterFunc(w.opts.RematchTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.backend.DeclineRematch(ctx, w.sessionID, w.opts.PlayerID); err != nil {
			log.Warn().Err(err).Str("session_id", w.sessionID).Msg("rematch auto-decline failed")
		}
		w.mu.Lock()
		w.declineTimer = nil
		w.mu.Unlock()
	})
}

func (w *Watcher) stopDeclineTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.declineTimer != nil {
		w.declineTimer.Stop()
		w.declineTimer = nil
	}
}
