package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// joinAttempts bounds the re-read/retry loop when two joiners race on
// one Waiting session.
const joinAttempts = 3

// Service is the session state machine and turn arbiter. All mutation
// goes through it; clients never write session fields directly.
type Service struct {
	store    Store
	notifier Notifier
	rules    map[Kind]Rules

	now  func() time.Time
	seed func() int64
}

func NewService(st Store, n Notifier, rules ...Rules) *Service {
	m := make(map[Kind]Rules, len(rules))
	for _, r := range rules {
		m[r.Kind()] = r
	}
	return &Service{
		store:    st,
		notifier: n,
		rules:    m,
		now:      time.Now,
		seed:     func() int64 { return rand.Int63() },
	}
}

func (s *Service) rulesFor(kind Kind) (Rules, error) {
	r, ok := s.rules[kind]
	if !ok {
		return nil, ErrValidation
	}
	return r, nil
}

// Create opens a new Waiting session with the creator in seat1.
func (s *Service) Create(ctx context.Context, kind Kind, creator Player) (*Session, error) {
	if creator.ID == "" || creator.Nickname == "" {
		return nil, ErrValidation
	}
	if _, err := s.rulesFor(kind); err != nil {
		return nil, err
	}
	sess, err := s.store.CreateSession(ctx, &Session{
		Kind:   kind,
		Status: StatusWaiting,
		Seat1:  creator,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, sess, EventUpdate, "")
	return sess, nil
}

// Join fills seat2, initializes the payload and flips the session to
// Playing in one conditional write, so no other client can observe a
// Playing session without a payload. Exactly one of two racing joiners
// wins; the loser gets ErrAlreadyJoined.
func (s *Service) Join(ctx context.Context, id string, joiner Player) (*Session, error) {
	if joiner.ID == "" || joiner.Nickname == "" {
		return nil, ErrValidation
	}
	for attempt := 0; attempt < joinAttempts; attempt++ {
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Seat2 != nil {
			return nil, ErrAlreadyJoined
		}
		if sess.Status != StatusWaiting {
			return nil, ErrInvalidState
		}
		if sess.Seat1.ID == joiner.ID {
			return nil, ErrValidation
		}
		rules, err := s.rulesFor(sess.Kind)
		if err != nil {
			return nil, err
		}
		payload, err := rules.InitPayload(sess.Seat1, joiner, s.seed())
		if err != nil {
			return nil, err
		}

		next := sess.Clone()
		next.Seat2 = &joiner
		next.Status = StatusPlaying
		next.CurrentActor = sess.Seat1.ID
		next.Payload = payload
		next.LastMoveAt = s.now()

		updated, err := s.store.UpdateSession(ctx, next, sess.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.publish(ctx, updated, EventUpdate, "")
		return updated, nil
	}
	// Lost every race; the session is almost certainly taken by now.
	return nil, ErrAlreadyJoined
}

// Get returns the authoritative record, settling any due scheduled
// effect first. A settled payload is persisted best-effort; losing that
// write to a concurrent move is fine, the mover settles too.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, sess), nil
}

func (s *Service) settle(ctx context.Context, sess *Session) *Session {
	rules, ok := s.rules[sess.Kind]
	if !ok || len(sess.Payload) == 0 {
		return sess
	}
	payload, changed, err := rules.Settle(sess.Payload, s.now())
	if err != nil || !changed {
		return sess
	}
	next := sess.Clone()
	next.Payload = payload
	updated, err := s.store.UpdateSession(ctx, next, sess.Version)
	if err != nil {
		if !errors.Is(err, ErrConflict) {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("persist settled payload failed")
		}
		next.Version = sess.Version
		return next
	}
	s.publish(ctx, updated, EventUpdate, "")
	return updated
}

// ListOpen returns joinable sessions of one kind, newest first.
func (s *Service) ListOpen(ctx context.Context, kind Kind) ([]*Session, error) {
	if _, err := s.rulesFor(kind); err != nil {
		return nil, err
	}
	return s.store.ListOpenSessions(ctx, kind)
}

// Move applies one move by actorID. The decision is always made against
// a fresh authoritative read, never the caller's cached view: a stale
// belief about whose turn it is fails with ErrStaleMove, and a write
// that raced with another one fails with ErrConflict so the caller
// re-syncs and retries. Terminal status and winner land in the same
// write as the move itself.
func (s *Service) Move(ctx context.Context, id, actorID string, move json.RawMessage) (*Session, error) {
	if actorID == "" {
		return nil, ErrValidation
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusPlaying {
		return nil, ErrInvalidState
	}
	if sess.CurrentActor != actorID {
		return nil, ErrStaleMove
	}
	actor, ok := sess.SeatHolder(actorID)
	if !ok {
		return nil, ErrStaleMove
	}
	opponent, ok := sess.Opponent(actorID)
	if !ok {
		return nil, ErrInvalidState
	}
	rules, err := s.rulesFor(sess.Kind)
	if err != nil {
		return nil, err
	}

	now := s.now()
	payload := sess.Payload
	if settled, changed, err := rules.Settle(payload, now); err == nil && changed {
		payload = settled
	}
	outcome, err := rules.ApplyMove(payload, actor, opponent, move, now)
	if err != nil {
		return nil, err
	}

	next := sess.Clone()
	next.Payload = outcome.Payload
	next.CurrentActor = outcome.NextActor
	next.LastMoveAt = now
	if outcome.Terminal {
		next.Status = StatusFinished
		next.WinnerID = outcome.WinnerID
	}
	updated, err := s.store.UpdateSession(ctx, next, sess.Version)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated, EventUpdate, "")
	return updated, nil
}

// publish fans the change hint out on the per-session topic and the
// per-kind topic. Delivery is best-effort; the polling fallback in the
// reconciliation client covers a silent miss.
func (s *Service) publish(ctx context.Context, sess *Session, eventType, linkedID string) {
	if s.notifier == nil {
		return
	}
	ev := Event{
		Type:            eventType,
		SessionID:       sess.ID,
		Kind:            sess.Kind,
		Version:         sess.Version,
		LastMoveAt:      sess.LastMoveAt,
		LinkedSessionID: linkedID,
	}
	for _, topic := range []string{SessionTopic(sess.ID), KindTopic(sess.Kind)} {
		if err := s.notifier.Publish(ctx, topic, ev); err != nil {
			log.Warn().Err(err).Str("topic", topic).Str("session_id", sess.ID).Msg("publish failed")
		}
	}
}
