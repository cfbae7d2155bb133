package session

import (
	"context"
	"time"
)

// Store is the durable substrate sessions live in. Implementations must
// support conditional writes: UpdateSession applies only when the stored
// version still equals expectVersion and fails with ErrConflict
// otherwise. The service never mutates a session it has not just read.
type Store interface {
	// CreateSession assigns ID, Version, CreatedAt and LastMoveAt and
	// persists the record.
	CreateSession(ctx context.Context, s *Session) (*Session, error)

	GetSession(ctx context.Context, id string) (*Session, error)

	// UpdateSession replaces the mutable fields wholesale, bumping
	// Version, iff the stored Version equals expectVersion.
	UpdateSession(ctx context.Context, s *Session, expectVersion int64) (*Session, error)

	// ListOpenSessions returns Waiting sessions of one kind, newest first.
	ListOpenSessions(ctx context.Context, kind Kind) ([]*Session, error)

	// LinkRematch atomically creates fresh and points originID's rematch
	// link at it, iff no link exists yet. When another writer already
	// linked, nothing is created and the existing link is returned with
	// created == false.
	LinkRematch(ctx context.Context, originID string, fresh *Session) (linkedID string, created bool, err error)
}

// Event is the change hint fanned out after every successful write.
// Consumers treat it as an invitation to re-fetch, never as authority.
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	Kind       Kind      `json:"kind"`
	Version    int64     `json:"version"`
	LastMoveAt time.Time `json:"last_move_at"`
	// LinkedSessionID is set on rematch_linked events.
	LinkedSessionID string `json:"linked_session_id,omitempty"`
}

const (
	EventUpdate        = "session_update"
	EventRematchLinked = "rematch_linked"
)

// Notifier is an at-most-once, unordered pub/sub channel. Deliveries may
// be duplicated across topics; subscribers deduplicate by Version.
type Notifier interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(topic string, fn func(Event)) (func(), error)
}

// SessionTopic is the per-session channel.
func SessionTopic(id string) string { return "session." + id }

// KindTopic is the per-game-kind broadcast channel, carried redundantly
// so a missed per-session delivery can still be observed.
func KindTopic(k Kind) string { return "game." + string(k) }
