package session

import (
	"encoding/json"
	"time"
)

// Outcome is what a game's rules decide for one accepted move.
type Outcome struct {
	Payload   json.RawMessage
	NextActor string
	Terminal  bool
	WinnerID  string
}

// Rules is the per-game capability the session machine is parameterized
// with. Implementations must be pure over their inputs: they never touch
// the store and never mutate the payload slice they were given.
type Rules interface {
	Kind() Kind

	// InitPayload builds the starting payload at the moment the second
	// seat fills. seed drives any randomized setup (word choice, card
	// shuffle) so tests can pin it.
	InitPayload(seat1, seat2 Player, seed int64) (json.RawMessage, error)

	// ApplyMove validates and applies one move by actor. A rejected move
	// returns ErrValidation (wrapped) and leaves no trace.
	ApplyMove(payload json.RawMessage, actor, opponent Player, move json.RawMessage, now time.Time) (Outcome, error)

	// Settle resolves any server-scheduled effect whose deadline has
	// passed (e.g. flipping mismatched memory cards back). It reports
	// whether the payload changed.
	Settle(payload json.RawMessage, now time.Time) (json.RawMessage, bool, error)
}
