package memory

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"parlor/internal/session"
)

var (
	eva = session.Player{ID: "e", Nickname: "eva"}
	max = session.Player{ID: "m", Nickname: "max"}
)

func decode(t *testing.T, raw json.RawMessage) Payload {
	t.Helper()
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return p
}

func flip(t *testing.T, payload json.RawMessage, actor, opponent session.Player, card int, now time.Time) session.Outcome {
	t.Helper()
	move, _ := json.Marshal(Move{Card: card})
	out, err := New().ApplyMove(payload, actor, opponent, move, now)
	if err != nil {
		t.Fatalf("flip %d: %v", card, err)
	}
	return out
}

// pair returns the ids of two cards with the same icon; mismatch
// returns two with different icons.
func pair(t *testing.T, p Payload) (int, int) {
	t.Helper()
	for i := range p.Cards {
		for j := i + 1; j < len(p.Cards); j++ {
			if p.Cards[i].Icon == p.Cards[j].Icon {
				return i, j
			}
		}
	}
	t.Fatal("no pair in deck")
	return 0, 0
}

func mismatch(t *testing.T, p Payload) (int, int) {
	t.Helper()
	for i := range p.Cards {
		for j := i + 1; j < len(p.Cards); j++ {
			if p.Cards[i].Icon != p.Cards[j].Icon {
				return i, j
			}
		}
	}
	t.Fatal("no mismatch in deck")
	return 0, 0
}

func TestInitPayloadDealsPairs(t *testing.T) {
	raw, err := New().InitPayload(eva, max, 9)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	p := decode(t, raw)
	if len(p.Cards) != Rows*Cols {
		t.Fatalf("cards = %d, want %d", len(p.Cards), Rows*Cols)
	}
	counts := map[string]int{}
	for _, c := range p.Cards {
		if c.Flipped || c.Matched {
			t.Fatalf("fresh card already open: %+v", c)
		}
		counts[c.Icon]++
	}
	for icon, n := range counts {
		if n != 2 {
			t.Fatalf("icon %s appears %d times", icon, n)
		}
	}
	if p.Scores[eva.ID] != 0 || p.Scores[max.ID] != 0 {
		t.Fatalf("scores = %v", p.Scores)
	}
}

func TestMatchKeepsTheTurn(t *testing.T) {
	raw, _ := New().InitPayload(eva, max, 9)
	a, b := pair(t, decode(t, raw))
	now := time.Now()

	first := flip(t, raw, eva, max, a, now)
	if first.NextActor != eva.ID {
		t.Fatalf("first flip hands the turn away: %s", first.NextActor)
	}
	second := flip(t, first.Payload, eva, max, b, now)
	if second.NextActor != eva.ID {
		t.Fatalf("match hands the turn away: %s", second.NextActor)
	}
	p := decode(t, second.Payload)
	if !p.Cards[a].Matched || !p.Cards[b].Matched {
		t.Fatal("pair not marked matched")
	}
	if p.Scores[eva.ID] != 1 {
		t.Fatalf("score = %d, want 1", p.Scores[eva.ID])
	}
	if p.ResetPending {
		t.Fatal("match must not schedule a reset")
	}
}

func TestMismatchSchedulesResetAndFlipsTurn(t *testing.T) {
	raw, _ := New().InitPayload(eva, max, 9)
	a, b := mismatch(t, decode(t, raw))
	now := time.Now()

	first := flip(t, raw, eva, max, a, now)
	second := flip(t, first.Payload, eva, max, b, now)
	if second.NextActor != max.ID {
		t.Fatalf("mismatch keeps the turn: %s", second.NextActor)
	}
	p := decode(t, second.Payload)
	if !p.ResetPending || p.ResetAt == nil {
		t.Fatalf("no reset scheduled: %+v", p)
	}
	if got := p.ResetAt.Sub(now); got != ResetDelay {
		t.Fatalf("reset in %v, want %v", got, ResetDelay)
	}
	// Cards stay visible until the deadline.
	if !p.Cards[a].Flipped || !p.Cards[b].Flipped {
		t.Fatal("mismatched cards flipped down immediately")
	}

	// Before the deadline Settle is a no-op; after it, both cards go
	// face-down.
	if _, changed, err := New().Settle(second.Payload, now.Add(ResetDelay-time.Millisecond)); err != nil || changed {
		t.Fatalf("early settle changed=%v err=%v", changed, err)
	}
	settled, changed, err := New().Settle(second.Payload, now.Add(ResetDelay))
	if err != nil || !changed {
		t.Fatalf("due settle changed=%v err=%v", changed, err)
	}
	sp := decode(t, settled)
	if sp.Cards[a].Flipped || sp.Cards[b].Flipped {
		t.Fatal("cards still face-up after settle")
	}
	if sp.ResetPending || sp.ResetAt != nil {
		t.Fatalf("reset marker survived settle: %+v", sp)
	}
}

func TestNextFlipResolvesPendingReset(t *testing.T) {
	raw, _ := New().InitPayload(eva, max, 9)
	p := decode(t, raw)
	a, b := mismatch(t, p)
	now := time.Now()

	first := flip(t, raw, eva, max, a, now)
	second := flip(t, first.Payload, eva, max, b, now)

	// The opponent flips before the deadline; the loose cards must be
	// face-down in the resulting state.
	var c int
	for c = 0; c < len(p.Cards); c++ {
		if c != a && c != b {
			break
		}
	}
	third := flip(t, second.Payload, max, eva, c, now.Add(100*time.Millisecond))
	tp := decode(t, third.Payload)
	if tp.Cards[a].Flipped || tp.Cards[b].Flipped {
		t.Fatal("pending reset not applied by the next flip")
	}
	if !tp.Cards[c].Flipped {
		t.Fatal("new flip lost")
	}
	if tp.ResetPending {
		t.Fatal("reset still pending after being applied")
	}
}

func TestFlipValidation(t *testing.T) {
	raw, _ := New().InitPayload(eva, max, 9)
	now := time.Now()
	out := flip(t, raw, eva, max, 0, now)

	cases := []struct {
		name string
		move string
	}{
		{"face-up card", `{"card":0}`},
		{"negative", `{"card":-1}`},
		{"out of range", `{"card":16}`},
		{"garbage", `{"card":"top-left"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New().ApplyMove(out.Payload, eva, max, json.RawMessage(tc.move), now)
			if !errors.Is(err, session.ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestAllMatchedEndsWithLeader(t *testing.T) {
	// Hand-build an endgame: one pair left, eva ahead 4-3.
	cards := make([]Card, 6)
	icons := []string{"star", "star", "moon", "moon", "leaf", "leaf"}
	for i := range cards {
		cards[i] = Card{ID: i, Icon: icons[i], Matched: i < 4}
	}
	raw, err := json.Marshal(Payload{
		Rows: 2, Cols: 3,
		Cards:   cards,
		Matches: []Match{},
		Scores:  map[string]int{eva.ID: 4, max.ID: 3},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	now := time.Now()

	first := flip(t, raw, max, eva, 4, now)
	out := flip(t, first.Payload, max, eva, 5, now)
	if !out.Terminal {
		t.Fatal("last pair must finish the game")
	}
	// max took the last pair, so the score is level at 4-4.
	if out.WinnerID != "" {
		t.Fatalf("winner = %q, want tie", out.WinnerID)
	}
}

func TestAllMatchedWinnerByScore(t *testing.T) {
	cards := make([]Card, 4)
	icons := []string{"star", "star", "moon", "moon"}
	for i := range cards {
		cards[i] = Card{ID: i, Icon: icons[i], Matched: i < 2}
	}
	raw, err := json.Marshal(Payload{
		Rows: 2, Cols: 2,
		Cards:   cards,
		Matches: []Match{},
		Scores:  map[string]int{eva.ID: 1, max.ID: 0},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	now := time.Now()
	first := flip(t, raw, eva, max, 2, now)
	out := flip(t, first.Payload, eva, max, 3, now)
	if !out.Terminal || out.WinnerID != eva.ID {
		t.Fatalf("outcome = %+v, want eva win", out)
	}
}
