package session

import (
	"encoding/json"
	"time"
)

type Kind string

const (
	KindTicTacToe Kind = "tic-tac-toe"
	KindHangman   Kind = "hangman"
	KindMemory    Kind = "memory"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTicTacToe, KindHangman, KindMemory:
		return Kind(s), nil
	}
	return "", ErrValidation
}

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Rematch tracks the two-phase rematch handshake. SessionID, once set,
// is never cleared.
type Rematch struct {
	RequestedBy string `json:"requested_by,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Accepted    bool   `json:"accepted,omitempty"`
}

// Session is one two-player game instance. Payload is opaque to this
// package; each game's Rules own its shape. Version is bumped by the
// store on every write and backs conditional updates.
type Session struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Status       Status          `json:"status"`
	Seat1        Player          `json:"seat1"`
	Seat2        *Player         `json:"seat2,omitempty"`
	CurrentActor string          `json:"current_actor,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	WinnerID     string          `json:"winner_id,omitempty"`
	Rematch      Rematch         `json:"rematch"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	LastMoveAt   time.Time       `json:"last_move_at"`
}

func (s *Session) HasSeat(playerID string) bool {
	if playerID == "" {
		return false
	}
	if s.Seat1.ID == playerID {
		return true
	}
	return s.Seat2 != nil && s.Seat2.ID == playerID
}

// Opponent returns the other seat-holder. ok is false when playerID has
// no seat or the second seat is still empty.
func (s *Session) Opponent(playerID string) (Player, bool) {
	if s.Seat2 == nil {
		return Player{}, false
	}
	switch playerID {
	case s.Seat1.ID:
		return *s.Seat2, true
	case s.Seat2.ID:
		return s.Seat1, true
	}
	return Player{}, false
}

func (s *Session) SeatHolder(playerID string) (Player, bool) {
	if s.Seat1.ID == playerID {
		return s.Seat1, true
	}
	if s.Seat2 != nil && s.Seat2.ID == playerID {
		return *s.Seat2, true
	}
	return Player{}, false
}

func (s *Session) Clone() *Session {
	out := *s
	if s.Seat2 != nil {
		seat2 := *s.Seat2
		out.Seat2 = &seat2
	}
	if s.Payload != nil {
		out.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	return &out
}
