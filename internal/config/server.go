// internal/config/server.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// ServerConfig is the full runtime configuration of the room coordination server.
type ServerConfig struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret string `env:"JWT_SECRET"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"roomcoord.db"`

	Redis Redis

	Session  Session  `envPrefix:"SESSION_"`
	Delivery Delivery `envPrefix:"DELIVERY_"`

	PersistRetries int           `env:"PERSIST_RETRIES" envDefault:"3"`
	PersistBackoff time.Duration `env:"PERSIST_BACKOFF" envDefault:"500ms"`
	JournalSize    int           `env:"JOURNAL_SIZE" envDefault:"256"`
}

// Redis holds the optional action log / alarm connection. An empty Addr disables both.
type Redis struct {
	Addr         string `env:"REDIS_ADDR"`
	DB           int    `env:"REDIS_DB" envDefault:"0"`
	ActionQueue  string `env:"ACTION_QUEUE" envDefault:"room_actions"`
	AlarmChannel string `env:"ALARM_CHANNEL" envDefault:"room_alarms"`
}

// Session holds the lifecycle timings shared by every room.
type Session struct {
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	GracePeriod       time.Duration `env:"GRACE_PERIOD" envDefault:"180s"`
	GraceTick         time.Duration `env:"GRACE_TICK" envDefault:"30s"`
	DriftInterval     time.Duration `env:"DRIFT_INTERVAL" envDefault:"60s"`
	BackoffBase       time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"1.5"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"5"`
}

// Delivery holds the per-connection outbound queue limits.
type Delivery struct {
	Burst        int           `env:"BURST" envDefault:"32"`
	Ceiling      int           `env:"CEILING" envDefault:"256"`
	PingInterval time.Duration `env:"PING" envDefault:"30s"`
}

// LoadServer parses the environment into a ServerConfig and validates it.
func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports the first inconsistent setting.
func (c ServerConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Session.GracePeriod <= 0 || c.Session.GraceTick <= 0 {
		return errors.New("grace period and tick must be positive")
	}
	if c.Session.GraceTick > c.Session.GracePeriod {
		return errors.New("SESSION_GRACE_TICK must not exceed SESSION_GRACE_PERIOD")
	}
	if c.Session.BackoffMultiplier < 1 {
		return errors.New("SESSION_BACKOFF_MULTIPLIER must be >= 1")
	}
	if c.Session.MaxAttempts < 1 {
		return errors.New("SESSION_MAX_ATTEMPTS must be >= 1")
	}
	if c.Delivery.Burst < 1 || c.Delivery.Ceiling < c.Delivery.Burst {
		return errors.New("DELIVERY_CEILING must be at least DELIVERY_BURST and both positive")
	}
	if c.PersistRetries < 0 {
		return errors.New("PERSIST_RETRIES must not be negative")
	}
	return nil
}
