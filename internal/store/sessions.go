package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"parlor/internal/session"
)

const sessionColumns = `id, kind, status, seat1_id, seat1_nickname, seat2_id, seat2_nickname,
	current_actor, payload, winner_id, rematch_requested_by, rematch_session_id, rematch_accepted,
	version, created_at, last_move_at`

const openSessionsLimit = 100

func (s *Store) CreateSession(ctx context.Context, in *session.Session) (*session.Session, error) {
	rec := in.Clone()
	rec.ID = NewID()
	rec.Version = 1
	rec.CreatedAt = time.Now().UTC()
	if rec.LastMoveAt.IsZero() {
		rec.LastMoveAt = rec.CreatedAt
	}
	if err := insertSession(ctx, s.Pool, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, in *session.Session, expectVersion int64) (*session.Session, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE game_sessions SET
			status = $3,
			seat2_id = $4,
			seat2_nickname = $5,
			current_actor = $6,
			payload = $7,
			winner_id = $8,
			rematch_requested_by = $9,
			rematch_session_id = CASE WHEN rematch_session_id <> '' THEN rematch_session_id ELSE $10 END,
			rematch_accepted = $11,
			last_move_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+sessionColumns,
		in.ID, expectVersion,
		string(in.Status), seatIDParam(in.Seat2), seatNickParam(in.Seat2),
		in.CurrentActor, payloadParam(in.Payload), in.WinnerID,
		in.Rematch.RequestedBy, in.Rematch.SessionID, in.Rematch.Accepted,
		in.LastMoveAt.UTC(),
	)
	updated, err := scanSession(row)
	if errors.Is(err, session.ErrNotFound) {
		// Distinguish a missing row from a lost version race.
		if _, getErr := s.GetSession(ctx, in.ID); getErr != nil {
			return nil, getErr
		}
		return nil, session.ErrConflict
	}
	return updated, err
}

func (s *Store) ListOpenSessions(ctx context.Context, kind session.Kind) ([]*session.Session, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE kind = $1 AND status = $2 AND seat2_id IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		string(kind), string(session.StatusWaiting), openSessionsLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*session.Session, 0)
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LinkRematch creates fresh and points originID at it in one
// transaction. The conditional UPDATE makes the link first-writer-wins:
// when another link already exists the insert is rolled back and the
// existing id is returned.
func (s *Store) LinkRematch(ctx context.Context, originID string, fresh *session.Session) (string, bool, error) {
	rec := fresh.Clone()
	rec.ID = NewID()
	rec.Version = 1
	rec.CreatedAt = time.Now().UTC()
	if rec.LastMoveAt.IsZero() {
		rec.LastMoveAt = rec.CreatedAt
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback(ctx)

	if err := insertSession(ctx, tx, rec); err != nil {
		return "", false, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE game_sessions SET
			rematch_session_id = $2,
			rematch_accepted = TRUE,
			rematch_requested_by = '',
			version = version + 1
		WHERE id = $1 AND rematch_session_id = ''`,
		originID, rec.ID,
	)
	if err != nil {
		return "", false, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race (or the origin vanished); surface the winner.
		_ = tx.Rollback(ctx)
		origin, err := s.GetSession(ctx, originID)
		if err != nil {
			return "", false, err
		}
		if origin.Rematch.SessionID == "" {
			return "", false, session.ErrConflict
		}
		return origin.Rematch.SessionID, false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return rec.ID, true, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertSession(ctx context.Context, db execer, rec *session.Session) error {
	_, err := db.Exec(ctx, `
		INSERT INTO game_sessions (
			id, kind, status, seat1_id, seat1_nickname, seat2_id, seat2_nickname,
			current_actor, payload, winner_id, rematch_requested_by, rematch_session_id,
			rematch_accepted, version, created_at, last_move_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, string(rec.Kind), string(rec.Status),
		rec.Seat1.ID, rec.Seat1.Nickname, seatIDParam(rec.Seat2), seatNickParam(rec.Seat2),
		rec.CurrentActor, payloadParam(rec.Payload), rec.WinnerID,
		rec.Rematch.RequestedBy, rec.Rematch.SessionID, rec.Rematch.Accepted,
		rec.Version, rec.CreatedAt, rec.LastMoveAt.UTC(),
	)
	return err
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		rec                 session.Session
		kind, status        string
		seat2ID, seat2Nick  pgtype.Text
		payload             []byte
		createdAt, lastMove pgtype.Timestamptz
	)
	err := row.Scan(
		&rec.ID, &kind, &status, &rec.Seat1.ID, &rec.Seat1.Nickname, &seat2ID, &seat2Nick,
		&rec.CurrentActor, &payload, &rec.WinnerID,
		&rec.Rematch.RequestedBy, &rec.Rematch.SessionID, &rec.Rematch.Accepted,
		&rec.Version, &createdAt, &lastMove,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = session.Kind(kind)
	rec.Status = session.Status(status)
	if seat2ID.Valid {
		rec.Seat2 = &session.Player{ID: seat2ID.String, Nickname: seat2Nick.String}
	}
	if len(payload) > 0 {
		rec.Payload = json.RawMessage(payload)
	}
	rec.CreatedAt = createdAt.Time
	rec.LastMoveAt = lastMove.Time
	return &rec, nil
}

func seatIDParam(p *session.Player) pgtype.Text {
	if p == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: p.ID, Valid: true}
}

func seatNickParam(p *session.Player) pgtype.Text {
	if p == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: p.Nickname, Valid: true}
}

func payloadParam(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return []byte(payload)
}
