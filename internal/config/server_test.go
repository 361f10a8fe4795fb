package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 180*time.Second, cfg.Session.GracePeriod)
	assert.Equal(t, 30*time.Second, cfg.Session.GraceTick)
	assert.Equal(t, time.Second, cfg.Session.BackoffBase)
	assert.InDelta(t, 1.5, cfg.Session.BackoffMultiplier, 1e-9)
	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, 32, cfg.Delivery.Burst)
	assert.Equal(t, 256, cfg.Delivery.Ceiling)
	assert.Equal(t, "room_actions", cfg.Redis.ActionQueue)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/rooms")
	t.Setenv("SESSION_GRACE_PERIOD", "45s")
	t.Setenv("SESSION_GRACE_TICK", "15s")
	t.Setenv("DELIVERY_BURST", "8")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 45*time.Second, cfg.Session.GracePeriod)
	assert.Equal(t, 15*time.Second, cfg.Session.GraceTick)
	assert.Equal(t, 8, cfg.Delivery.Burst)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestServerConfigValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	base, err := LoadServer()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing secret", func(c *ServerConfig) { c.JWTSecret = "" }},
		{"postgres without dsn", func(c *ServerConfig) { c.StoreDriver = StorePostgres; c.PostgresDSN = "" }},
		{"unknown driver", func(c *ServerConfig) { c.StoreDriver = "mysql" }},
		{"tick longer than grace", func(c *ServerConfig) { c.Session.GraceTick = time.Hour }},
		{"shrinking backoff", func(c *ServerConfig) { c.Session.BackoffMultiplier = 0.5 }},
		{"ceiling below burst", func(c *ServerConfig) { c.Delivery.Ceiling = 4; c.Delivery.Burst = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, "debug", logger.GetLevel().String())

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
