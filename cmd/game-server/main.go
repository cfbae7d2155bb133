package main

import (
	"context"
	"net/http"
	"time"

	"parlor/internal/config"
	"parlor/internal/game/hangman"
	"parlor/internal/game/memory"
	"parlor/internal/game/tictactoe"
	"parlor/internal/logging"
	"parlor/internal/notify"
	"parlor/internal/session"
	"parlor/internal/store"
	httptransport "parlor/internal/transport/http"

	"github.com/rs/zerolog/log"
)

func main() {
	app, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(app.Log)
	cfg := app.Server

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}

	pg := notify.NewPG(st.Pool)
	pg.Start(context.Background())
	defer pg.Close()

	svc := session.NewService(st, pg,
		tictactoe.New(),
		hangman.New(),
		memory.New(),
	)

	r := httptransport.NewRouter(svc, pg, cfg)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	log.Fatal().Err(server.ListenAndServe()).Msg("server stopped")
}
