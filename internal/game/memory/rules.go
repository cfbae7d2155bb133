// Package memory implements the session rules for memory-match on a
// 4x4 grid. A matched pair keeps the turn; a mismatch flips it and
// schedules both cards to turn face-down again after ResetDelay. The
// schedule lives in the payload as a server timestamp, so every client
// converges on the same visible state no matter when it looks.
package memory

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"parlor/internal/session"
)

const (
	Rows = 4
	Cols = 4

	// ResetDelay is how long mismatched cards stay face-up.
	ResetDelay = 1500 * time.Millisecond
)

type Card struct {
	ID      int    `json:"id"`
	Icon    string `json:"icon"`
	Flipped bool   `json:"is_flipped"`
	Matched bool   `json:"is_matched"`
}

type Match struct {
	CardIDs  [2]int `json:"card_ids"`
	PlayerID string `json:"player_id"`
}

type Payload struct {
	Rows         int            `json:"rows"`
	Cols         int            `json:"cols"`
	Cards        []Card         `json:"cards"`
	Matches      []Match        `json:"matches"`
	Scores       map[string]int `json:"scores"`
	ResetPending bool           `json:"reset_pending"`
	CardsToReset []int          `json:"cards_to_reset,omitempty"`
	ResetAt      *time.Time     `json:"reset_at,omitempty"`
}

type Move struct {
	Card int `json:"card"`
}

var icons = []string{
	"anchor", "bell", "cloud", "flame", "heart", "leaf", "moon", "star",
	"key", "crown", "feather", "shell", "snowflake", "umbrella", "wave", "zap",
}

type Rules struct{}

func New() Rules { return Rules{} }

func (Rules) Kind() session.Kind { return session.KindMemory }

func (Rules) InitPayload(seat1, seat2 session.Player, seed int64) (json.RawMessage, error) {
	total := Rows * Cols
	deck := make([]string, 0, total)
	for _, icon := range icons[:total/2] {
		deck = append(deck, icon, icon)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	cards := make([]Card, total)
	for i := range cards {
		cards[i] = Card{ID: i, Icon: deck[i]}
	}
	return json.Marshal(Payload{
		Rows:    Rows,
		Cols:    Cols,
		Cards:   cards,
		Matches: []Match{},
		Scores:  map[string]int{seat1.ID: 0, seat2.ID: 0},
	})
}

func (Rules) ApplyMove(payload json.RawMessage, actor, opponent session.Player, move json.RawMessage, now time.Time) (session.Outcome, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return session.Outcome{}, fmt.Errorf("%w: bad payload: %v", session.ErrValidation, err)
	}
	var m Move
	if err := json.Unmarshal(move, &m); err != nil {
		return session.Outcome{}, fmt.Errorf("%w: bad move: %v", session.ErrValidation, err)
	}
	if m.Card < 0 || m.Card >= len(p.Cards) {
		return session.Outcome{}, fmt.Errorf("%w: card %d out of range", session.ErrValidation, m.Card)
	}

	// A new flip resolves a scheduled reset immediately, whether or not
	// its deadline has passed.
	applyReset(&p)

	card := p.Cards[m.Card]
	if card.Flipped || card.Matched {
		return session.Outcome{}, fmt.Errorf("%w: card %d already face-up", session.ErrValidation, m.Card)
	}

	prev := -1
	open := 0
	for i, c := range p.Cards {
		if c.Flipped && !c.Matched {
			open++
			prev = i
		}
	}
	if open > 1 {
		// Defensive convergence: more than one loose card means a client
		// raced past the pair boundary; face everything down and treat
		// this flip as the first of a pair.
		for i := range p.Cards {
			if p.Cards[i].Flipped && !p.Cards[i].Matched {
				p.Cards[i].Flipped = false
			}
		}
		prev = -1
	}
	p.Cards[m.Card].Flipped = true

	if p.Scores == nil {
		p.Scores = map[string]int{}
	}

	outcome := session.Outcome{NextActor: actor.ID}
	if prev >= 0 {
		if p.Cards[prev].Icon == p.Cards[m.Card].Icon {
			p.Cards[prev].Matched = true
			p.Cards[m.Card].Matched = true
			p.Matches = append(p.Matches, Match{CardIDs: [2]int{prev, m.Card}, PlayerID: actor.ID})
			p.Scores[actor.ID]++
			if allMatched(p.Cards) {
				outcome.Terminal = true
				outcome.WinnerID = leader(p.Scores, actor.ID, opponent.ID)
			}
		} else {
			resetAt := now.Add(ResetDelay)
			p.ResetPending = true
			p.CardsToReset = []int{prev, m.Card}
			p.ResetAt = &resetAt
			outcome.NextActor = opponent.ID
		}
	}

	out, err := json.Marshal(p)
	if err != nil {
		return session.Outcome{}, err
	}
	outcome.Payload = out
	return outcome, nil
}

// Settle flips mismatched cards face-down once their deadline passes.
func (Rules) Settle(payload json.RawMessage, now time.Time) (json.RawMessage, bool, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return payload, false, err
	}
	if !p.ResetPending || p.ResetAt == nil || now.Before(*p.ResetAt) {
		return payload, false, nil
	}
	applyReset(&p)
	out, err := json.Marshal(p)
	if err != nil {
		return payload, false, err
	}
	return out, true, nil
}

func applyReset(p *Payload) {
	if !p.ResetPending {
		return
	}
	for _, id := range p.CardsToReset {
		if id >= 0 && id < len(p.Cards) && !p.Cards[id].Matched {
			p.Cards[id].Flipped = false
		}
	}
	p.ResetPending = false
	p.CardsToReset = nil
	p.ResetAt = nil
}

func allMatched(cards []Card) bool {
	for _, c := range cards {
		if !c.Matched {
			return false
		}
	}
	return true
}

func leader(scores map[string]int, a, b string) string {
	switch {
	case scores[a] > scores[b]:
		return a
	case scores[b] > scores[a]:
		return b
	}
	return ""
}
