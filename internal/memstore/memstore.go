// Package memstore is an in-memory session.Store with the same
// conditional-write contract as the Postgres store. It backs unit tests
// and single-process demo runs; it is not durable.
package memstore

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"parlor/internal/session"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	entropy  *ulid.MonotonicEntropy
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: map[string]*session.Session{},
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:      time.Now,
	}
}

// SetClock pins the store's clock; tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *Store) CreateSession(_ context.Context, in *session.Session) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := in.Clone()
	rec.ID = s.newID()
	rec.Version = 1
	rec.CreatedAt = s.now()
	if rec.LastMoveAt.IsZero() {
		rec.LastMoveAt = rec.CreatedAt
	}
	s.sessions[rec.ID] = rec
	return rec.Clone(), nil
}

func (s *Store) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) UpdateSession(_ context.Context, in *session.Session, expectVersion int64) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[in.ID]
	if !ok {
		return nil, session.ErrNotFound
	}
	if rec.Version != expectVersion {
		return nil, session.ErrConflict
	}
	next := in.Clone()
	next.Version = rec.Version + 1
	next.CreatedAt = rec.CreatedAt
	// The rematch link is append-only, same as the Postgres store.
	if rec.Rematch.SessionID != "" {
		next.Rematch.SessionID = rec.Rematch.SessionID
	}
	s.sessions[next.ID] = next
	return next.Clone(), nil
}

func (s *Store) ListOpenSessions(_ context.Context, kind session.Kind) ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0)
	for _, rec := range s.sessions {
		if rec.Kind == kind && rec.Status == session.StatusWaiting && rec.Seat2 == nil {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) LinkRematch(_ context.Context, originID string, fresh *session.Session) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin, ok := s.sessions[originID]
	if !ok {
		return "", false, session.ErrNotFound
	}
	if origin.Rematch.SessionID != "" {
		return origin.Rematch.SessionID, false, nil
	}
	rec := fresh.Clone()
	rec.ID = s.newID()
	rec.Version = 1
	rec.CreatedAt = s.now()
	if rec.LastMoveAt.IsZero() {
		rec.LastMoveAt = rec.CreatedAt
	}
	s.sessions[rec.ID] = rec

	origin.Rematch.SessionID = rec.ID
	origin.Rematch.Accepted = true
	origin.Rematch.RequestedBy = ""
	origin.Version++
	return rec.ID, true, nil
}
