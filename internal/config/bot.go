package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type BotConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	GameKind    string `env:"GAME_KIND" envDefault:"tic-tac-toe"`
	Nickname    string `env:"NICKNAME" envDefault:"bot"`

	// SessionID joins an existing session; empty means create one and
	// wait for an opponent.
	SessionID string `env:"SESSION_ID"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	MaxGames     int           `env:"MAX_GAMES" envDefault:"1"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	err := env.Parse(&cfg)
	return cfg, err
}
