// Package config loads the server configuration from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the server reads at startup
type Config struct {
	Port  string `env:"PORT" envDefault:"8080"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	// FrontendOrigin is the only origin allowed to open a websocket. Empty allows any.
	FrontendOrigin string `env:"FRONTEND_PATH"`

	TickInterval    time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	ReapInterval    time.Duration `env:"REAP_INTERVAL" envDefault:"5m"`
	StaleAfter      time.Duration `env:"SESSION_STALE_AFTER" envDefault:"30m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// Load reads the optional .env files into the environment and parses it.
// Missing files are skipped; variables already set win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Port == "" {
		return nil, errors.New("parse env: PORT must not be empty")
	}

	return &cfg, nil
}
