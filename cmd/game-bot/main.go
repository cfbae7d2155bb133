// Command game-bot is a headless opponent. It creates or joins a
// session, follows it through the reconcile watcher, and plays random
// legal moves, rematching until MAX_GAMES is reached.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"parlor/internal/config"
	"parlor/internal/game/hangman"
	"parlor/internal/game/memory"
	"parlor/internal/game/tictactoe"
	"parlor/internal/logging"
	"parlor/internal/notify"
	"parlor/internal/reconcile"
	"parlor/internal/session"
	"parlor/internal/store"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}
	kind, err := session.ParseKind(cfg.GameKind)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.GameKind).Msg("unknown game kind")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	pg := notify.NewPG(st.Pool)
	pg.Start(ctx)
	defer pg.Close()

	svc := session.NewService(st, pg,
		tictactoe.New(),
		hangman.New(),
		memory.New(),
	)

	me := session.Player{ID: uuid.NewString(), Nickname: cfg.Nickname}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	sessionID := cfg.SessionID
	if sessionID == "" {
		sess, err := svc.Create(ctx, kind, me)
		if err != nil {
			log.Fatal().Err(err).Msg("create session failed")
		}
		sessionID = sess.ID
		log.Info().Str("session_id", sessionID).Str("kind", string(kind)).
			Msg("waiting for an opponent")
	} else {
		if _, err := svc.Join(ctx, sessionID, me); err != nil && !errors.Is(err, session.ErrAlreadyJoined) {
			log.Fatal().Err(err).Str("session_id", sessionID).Msg("join failed")
		}
	}

	for played := 0; played < cfg.MaxGames; {
		wantMore := played+1 < cfg.MaxGames
		next, err := playSession(ctx, svc, pg, cfg, rnd, me, sessionID, wantMore)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Fatal().Err(err).Str("session_id", sessionID).Msg("session aborted")
		}
		played++
		log.Info().Int("played", played).Str("session_id", sessionID).Msg("game finished")
		if next == "" {
			return
		}
		sessionID = next
	}
}

// playSession follows one session to its end. It returns the rematch
// session id when a rematch was linked, or "" when the bot is done.
func playSession(ctx context.Context, svc *session.Service, n session.Notifier, cfg config.BotConfig, rnd *rand.Rand, me session.Player, id string, wantMore bool) (string, error) {
	updates := make(chan *session.Session, 1)
	linked := make(chan string, 1)

	w, err := reconcile.Watch(ctx, svc, n, id, reconcile.Options{
		PlayerID:     me.ID,
		PollInterval: cfg.PollInterval,
		OnUpdate: func(s *session.Session) {
			// Keep only the freshest state; stale intermediates are
			// worthless to the bot.
			for {
				select {
				case updates <- s:
					return
				default:
					select {
					case <-updates:
					default:
					}
				}
			}
		},
		OnRematch: func(l string) {
			select {
			case linked <- l:
			default:
			}
		},
	})
	if err != nil {
		return "", err
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case next := <-linked:
			return next, nil
		case s := <-updates:
			if s.Status == session.StatusPlaying && s.CurrentActor == me.ID {
				move, ok := pickMove(rnd, s)
				if !ok {
					continue
				}
				if _, err := svc.Move(ctx, id, me.ID, move); err != nil {
					// Lost a race or guessed against a settled board;
					// the next update brings the real state.
					log.Debug().Err(err).Str("session_id", id).Msg("move rejected")
				}
				continue
			}
			if s.Status != session.StatusFinished {
				continue
			}
			if !wantMore {
				return "", nil
			}
			switch {
			case s.Rematch.RequestedBy == "":
				if _, err := svc.RequestRematch(ctx, id, me.ID); err != nil {
					log.Debug().Err(err).Msg("rematch request rejected")
				}
			case s.Rematch.RequestedBy != me.ID:
				next, err := svc.AcceptRematch(ctx, id, me.ID)
				if err != nil {
					log.Debug().Err(err).Msg("rematch accept rejected")
					continue
				}
				return next, nil
			}
		}
	}
}

func pickMove(rnd *rand.Rand, s *session.Session) (json.RawMessage, bool) {
	switch s.Kind {
	case session.KindTicTacToe:
		var p tictactoe.Payload
		if err := json.Unmarshal(s.Payload, &p); err != nil {
			return nil, false
		}
		var open []int
		for i, cell := range p.Board {
			if cell == "" {
				open = append(open, i)
			}
		}
		if len(open) == 0 {
			return nil, false
		}
		return marshalMove(tictactoe.Move{Position: open[rnd.Intn(len(open))]})
	case session.KindHangman:
		var p hangman.Payload
		if err := json.Unmarshal(s.Payload, &p); err != nil {
			return nil, false
		}
		tried := make(map[string]bool, len(p.Guessed))
		for _, g := range p.Guessed {
			tried[g] = true
		}
		var left []string
		for c := 'A'; c <= 'Z'; c++ {
			if l := string(c); !tried[l] {
				left = append(left, l)
			}
		}
		if len(left) == 0 {
			return nil, false
		}
		return marshalMove(hangman.Move{Letter: left[rnd.Intn(len(left))]})
	case session.KindMemory:
		var p memory.Payload
		if err := json.Unmarshal(s.Payload, &p); err != nil {
			return nil, false
		}
		var closed []int
		for _, c := range p.Cards {
			if !c.Flipped && !c.Matched {
				closed = append(closed, c.ID)
			}
		}
		if len(closed) == 0 {
			return nil, false
		}
		return marshalMove(memory.Move{Card: closed[rnd.Intn(len(closed))]})
	}
	return nil, false
}

func marshalMove(v any) (json.RawMessage, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return b, true
}
