package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string        `env:"SERVER_ADDR" envDefault:":4000"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`

	// Origins allowed to open websocket connections; the game client is
	// usually served from a different origin than this server.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	GameSeconds    int     `env:"GAME_DURATION_SEC" envDefault:"60"`
	PersistSeconds int     `env:"SESSION_PERSIST_SEC" envDefault:"10"`
	StartPoints    int     `env:"START_POINTS" envDefault:"50"`
	PowerUpChance  float64 `env:"POWERUP_CHANCE" envDefault:"0.06"`
	PowerUpTicks   int     `env:"POWERUP_DURATION_TICKS" envDefault:"10"`

	DevLogging bool `env:"DEV_LOGGING" envDefault:"false"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
