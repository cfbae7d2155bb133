// Package tictactoe implements the session rules for tic-tac-toe.
// Seat1 plays X and moves first; the turn strictly alternates.
package tictactoe

import (
	"encoding/json"
	"fmt"
	"time"

	"parlor/internal/session"
)

type Payload struct {
	Board   []string `json:"board"`
	XPlayer string   `json:"x_player_id"`
	OPlayer string   `json:"o_player_id"`
}

type Move struct {
	Position int `json:"position"`
}

var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

type Rules struct{}

func New() Rules { return Rules{} }

func (Rules) Kind() session.Kind { return session.KindTicTacToe }

func (Rules) InitPayload(seat1, seat2 session.Player, _ int64) (json.RawMessage, error) {
	return json.Marshal(Payload{
		Board:   make([]string, 9),
		XPlayer: seat1.ID,
		OPlayer: seat2.ID,
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
	if m.Position < 0 || m.Position >= len(p.Board) {
		return session.Outcome{}, fmt.Errorf("%w: position %d out of range", session.ErrValidation, m.Position)
	}
	if p.Board[m.Position] != "" {
		return session.Outcome{}, fmt.Errorf("%w: position %d occupied", session.ErrValidation, m.Position)
	}
	symbol := "X"
	if actor.ID == p.OPlayer {
		symbol = "O"
	} else if actor.ID != p.XPlayer {
		return session.Outcome{}, fmt.Errorf("%w: actor holds no symbol", session.ErrValidation)
	}

	board := append([]string(nil), p.Board...)
	board[m.Position] = symbol
	p.Board = board

	out, err := json.Marshal(p)
	if err != nil {
		return session.Outcome{}, err
	}
	outcome := session.Outcome{Payload: out, NextActor: opponent.ID}
	if hasLine(board, symbol) {
		outcome.Terminal = true
		outcome.WinnerID = actor.ID
	} else if full(board) {
		outcome.Terminal = true
	}
	return outcome, nil
}

func (Rules) Settle(payload json.RawMessage, _ time.Time) (json.RawMessage, bool, error) {
	return payload, false, nil
}

func hasLine(board []string, symbol string) bool {
	for _, line := range winningLines {
		if board[line[0]] == symbol && board[line[1]] == symbol && board[line[2]] == symbol {
			return true
		}
	}
	return false
}

func full(board []string) bool {
	for _, cell := range board {
		if cell == "" {
			return false
		}
	}
	return true
}
