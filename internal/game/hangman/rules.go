// Package hangman implements the session rules for two-player hangman.
// Both players guess against a shared word; the turn flips to the other
// seat after every guess, hit or miss. Revealing the last letter wins;
// the sixth wrong letter finishes the game with the other seat winning.
package hangman

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"parlor/internal/session"
)

const MaxErrors = 6

type Payload struct {
	Word    string   `json:"word"`
	Hint    string   `json:"hint"`
	Guessed []string `json:"guessed_letters"`
	Errors  int      `json:"errors"`
}

type Move struct {
	Letter string `json:"letter"`
}

type Rules struct{}

func New() Rules { return Rules{} }

func (Rules) Kind() session.Kind { return session.KindHangman }

func (Rules) InitPayload(_, _ session.Player, seed int64) (json.RawMessage, error) {
	word, hint := pickWord(seed)
	return json.Marshal(Payload{
		Word:    word,
		Hint:    hint,
		Guessed: []string{},
	})
}

func (Rules) ApplyMove(payload json.RawMessage, actor, opponent session.Player, move json.RawMessage, _ time.Time) (session.Outcome, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return session.Outcome{}, fmt.Errorf("%w: bad payload: %v", session.ErrValidation, err)
	}
	var m Move
	if err := json.Unmarshal(move, &m); err != nil {
		return session.Outcome{}, fmt.Errorf("%w: bad move: %v", session.ErrValidation, err)
	}
	letter := strings.ToUpper(strings.TrimSpace(m.Letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return session.Outcome{}, fmt.Errorf("%w: guess must be a single letter", session.ErrValidation)
	}
	for _, g := range p.Guessed {
		if g == letter {
			return session.Outcome{}, fmt.Errorf("%w: letter %s already guessed", session.ErrValidation, letter)
		}
	}

	p.Guessed = append(append([]string(nil), p.Guessed...), letter)
	hit := strings.Contains(p.Word, letter)
	if !hit {
		p.Errors++
	}

	out, err := json.Marshal(p)
	if err != nil {
		return session.Outcome{}, err
	}
	outcome := session.Outcome{Payload: out, NextActor: opponent.ID}
	switch {
	case revealed(p.Word, p.Guessed):
		outcome.Terminal = true
		outcome.WinnerID = actor.ID
	case p.Errors >= MaxErrors:
		outcome.Terminal = true
		outcome.WinnerID = opponent.ID
	}
	return outcome, nil
}

func (Rules) Settle(payload json.RawMessage, _ time.Time) (json.RawMessage, bool, error) {
	return payload, false, nil
}

func revealed(word string, guessed []string) bool {
	set := make(map[string]bool, len(guessed))
	for _, g := range guessed {
		set[g] = true
	}
	for _, r := range word {
		if r == ' ' || r == '-' {
			continue
		}
		if !set[string(r)] {
			return false
		}
	}
	return true
}

// Masked renders the word with unguessed letters hidden, for display.
func Masked(p Payload) string {
	set := make(map[rune]bool, len(p.Guessed))
	for _, g := range p.Guessed {
		for _, r := range g {
			set[r] = true
		}
	}
	var b strings.Builder
	for _, r := range p.Word {
		switch {
		case r == ' ' || r == '-':
			b.WriteRune(r)
		case set[r]:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
