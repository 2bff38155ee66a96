package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultDir = ".crdtsim"
	defaultDB  = defaultDir + "/journal.db"
)

type config struct {
	DB            string        `env:"CRDTSIM_DB" envDefault:".crdtsim/journal.db"`
	Journal       bool          `env:"CRDTSIM_JOURNAL" envDefault:"true"`
	LogLevel      string        `env:"CRDTSIM_LOG_LEVEL" envDefault:"warn"`
	SettleTimeout time.Duration `env:"CRDTSIM_SETTLE_TIMEOUT" envDefault:"5s"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SettleTimeout <= 0 {
		return cfg, fmt.Errorf("CRDTSIM_SETTLE_TIMEOUT must be positive, got %s", cfg.SettleTimeout)
	}
	return cfg, nil
}
