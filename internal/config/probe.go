// internal/config/probe.go
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ProbeConfig configures cmd/probe, a scripted client that joins a room and rides out drops.
type ProbeConfig struct {
	ServerURL   string        `env:"PROBE_SERVER_URL" envDefault:"ws://localhost:8080"`
	GameID      string        `env:"PROBE_GAME_ID,required,notEmpty"`
	Token       string        `env:"PROBE_TOKEN,required,notEmpty"`
	DisplayName string        `env:"PROBE_NAME" envDefault:"probe"`
	ClaimHost   bool          `env:"PROBE_CLAIM_HOST" envDefault:"false"`
	Duration    time.Duration `env:"PROBE_DURATION" envDefault:"1m"`
}

func LoadProbe() (ProbeConfig, error) {
	var cfg ProbeConfig
	err := env.Parse(&cfg)
	return cfg, err
}
