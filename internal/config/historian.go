// internal/config/historian.go
package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// HistorianConfig configures cmd/historian, which drains the room action queue into Postgres.
type HistorianConfig struct {
	PostgresDSN string        `env:"POSTGRES_DSN,required,notEmpty"`
	Redis       Redis
	BatchSize   int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushDelay  time.Duration `env:"HISTORIAN_FLUSH" envDefault:"500ms"`
	PopTimeout  time.Duration `env:"HISTORIAN_POP_TIMEOUT" envDefault:"3s"`
}

func LoadHistorian() (HistorianConfig, error) {
	var cfg HistorianConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Redis.Addr == "" {
		return cfg, errors.New("REDIS_ADDR is required for the historian")
	}
	if cfg.BatchSize < 1 {
		return cfg, errors.New("HISTORIAN_BATCH_SIZE must be positive")
	}
	return cfg, nil
}
