package session

import (
	"context"
	"errors"
)

const rematchAttempts = 3

// Ticket is the outcome of a rematch request: either still pending the
// other seat-holder, or resolved to the linked follow-up session.
type Ticket struct {
	Pending   bool   `json:"pending"`
	SessionID string `json:"session_id,omitempty"`
}

// RequestRematch records that requesterID wants a rematch. Idempotent:
// repeating the call returns the same pending/linked result. When the
// other seat-holder has already requested, the second request counts as
// acceptance and links a fresh session. When a link already exists (a
// race someone else won), it is returned as-is.
func (s *Service) RequestRematch(ctx context.Context, id, requesterID string) (*Ticket, error) {
	for attempt := 0; attempt < rematchAttempts; attempt++ {
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if !sess.HasSeat(requesterID) {
			return nil, ErrValidation
		}
		if sess.Rematch.SessionID != "" {
			s.confirmLink(ctx, sess)
			return &Ticket{SessionID: sess.Rematch.SessionID}, nil
		}
		if sess.Status != StatusFinished {
			return nil, ErrInvalidState
		}
		switch sess.Rematch.RequestedBy {
		case "":
			next := sess.Clone()
			next.Rematch.RequestedBy = requesterID
			updated, err := s.store.UpdateSession(ctx, next, sess.Version)
			if errors.Is(err, ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			s.publish(ctx, updated, EventUpdate, "")
			return &Ticket{Pending: true}, nil
		case requesterID:
			return &Ticket{Pending: true}, nil
		default:
			// Both seats clicked rematch; the second request is an
			// implicit acceptance.
			linkedID, err := s.link(ctx, sess, requesterID)
			if err != nil {
				return nil, err
			}
			return &Ticket{SessionID: linkedID}, nil
		}
	}
	return nil, ErrConflict
}

// AcceptRematch creates the linked follow-up session. Idempotent:
// repeated calls after linking return the same id and never create a
// second session.
func (s *Service) AcceptRematch(ctx context.Context, id, accepterID string) (string, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if !sess.HasSeat(accepterID) {
		return "", ErrValidation
	}
	if sess.Rematch.SessionID != "" {
		s.confirmLink(ctx, sess)
		return sess.Rematch.SessionID, nil
	}
	if sess.Rematch.RequestedBy == "" {
		return "", ErrInvalidState
	}
	if sess.Rematch.RequestedBy == accepterID {
		return "", ErrValidation
	}
	return s.link(ctx, sess, accepterID)
}

// DeclineRematch withdraws a pending request. A link that raced in
// stays authoritative and is left untouched.
func (s *Service) DeclineRematch(ctx context.Context, id, declinerID string) error {
	for attempt := 0; attempt < rematchAttempts; attempt++ {
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if !sess.HasSeat(declinerID) {
			return ErrValidation
		}
		if sess.Rematch.SessionID != "" || sess.Rematch.RequestedBy == "" {
			return nil
		}
		next := sess.Clone()
		next.Rematch.RequestedBy = ""
		updated, err := s.store.UpdateSession(ctx, next, sess.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		s.publish(ctx, updated, EventUpdate, "")
		return nil
	}
	return ErrConflict
}

// link spins up the follow-up session with seats swapped: the requester
// drops to seat2 and the accepter, now seat1, moves first. The new
// session starts directly in Playing since both seats are known. The
// store guarantees at most one link per origin; a lost race returns the
// winner's session id.
func (s *Service) link(ctx context.Context, origin *Session, accepterID string) (string, error) {
	requester, ok := origin.SeatHolder(origin.Rematch.RequestedBy)
	if !ok {
		return "", ErrInvalidState
	}
	accepter, ok := origin.SeatHolder(accepterID)
	if !ok {
		return "", ErrValidation
	}
	rules, err := s.rulesFor(origin.Kind)
	if err != nil {
		return "", err
	}
	payload, err := rules.InitPayload(accepter, requester, s.seed())
	if err != nil {
		return "", err
	}
	fresh := &Session{
		Kind:         origin.Kind,
		Status:       StatusPlaying,
		Seat1:        accepter,
		Seat2:        &requester,
		CurrentActor: accepter.ID,
		Payload:      payload,
	}
	linkedID, created, err := s.store.LinkRematch(ctx, origin.ID, fresh)
	if err != nil {
		return "", err
	}
	if created {
		if updated, err := s.store.GetSession(ctx, origin.ID); err == nil {
			origin = updated
		}
	}
	s.publishLinked(ctx, origin, linkedID)
	return linkedID, nil
}

// confirmLink re-announces an existing link and clears a stale pending
// marker, so a client that missed the original fan-out still converges.
func (s *Service) confirmLink(ctx context.Context, sess *Session) {
	if sess.Rematch.RequestedBy != "" || !sess.Rematch.Accepted {
		next := sess.Clone()
		next.Rematch.RequestedBy = ""
		next.Rematch.Accepted = true
		if updated, err := s.store.UpdateSession(ctx, next, sess.Version); err == nil {
			sess = updated
		}
	}
	s.publishLinked(ctx, sess, sess.Rematch.SessionID)
}

func (s *Service) publishLinked(ctx context.Context, origin *Session, linkedID string) {
	s.publish(ctx, origin, EventRematchLinked, linkedID)
	s.publish(ctx, origin, EventUpdate, "")
}
