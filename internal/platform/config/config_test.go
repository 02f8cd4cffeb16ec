package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONTACTLINK_ADDR", "PORT", "IDENTIFY_TX_TIMEOUT", "SHUTDOWN_TIMEOUT",
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_MIGRATE",
		"REDIS_URL", "RATE_LIMIT_PER_MINUTE", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DATABASE_URL", "postgres://contactlink@localhost:5432/contactlink?sslmode=disable")

		cfg, err := FromEnv()

		require.NoError(t, err)
		assert.Equal(t, ":3000", cfg.Server.Addr)
		assert.Equal(t, 5*time.Second, cfg.Server.IdentifyTimeout)
		assert.True(t, cfg.Database.Migrate)
		assert.Zero(t, cfg.RateLimit.PerMinute)
		assert.False(t, cfg.Kafka.Enabled())
		assert.Equal(t, "contact-events", cfg.Kafka.Topic)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "8080")
		t.Setenv("DB_HOST", "db")
		t.Setenv("DB_NAME", "contacts")
		t.Setenv("DB_USER", "svc")
		t.Setenv("DB_PASSWORD", "p@ss")
		t.Setenv("DB_MIGRATE", "false")
		t.Setenv("IDENTIFY_TX_TIMEOUT", "2s")
		t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
		t.Setenv("LOG_LEVEL", "DEBUG")
		t.Setenv("LOG_FORMAT", "text")

		cfg, err := FromEnv()

		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, 2*time.Second, cfg.Server.IdentifyTimeout)
		assert.False(t, cfg.Database.Migrate)
		assert.Equal(t, "postgres://svc:p%40ss@db:5432/contacts?sslmode=disable", cfg.Database.DSN())
		assert.Equal(t, 60, cfg.RateLimit.PerMinute)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.True(t, cfg.Kafka.Enabled())
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("explicit address wins over port", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DATABASE_URL", "postgres://localhost/contactlink")
		t.Setenv("PORT", "8080")
		t.Setenv("CONTACTLINK_ADDR", "127.0.0.1:9000")

		cfg, err := FromEnv()

		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	})

	t.Run("malformed values are all reported", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DATABASE_URL", "postgres://localhost/contactlink")
		t.Setenv("DB_PORT", "five")
		t.Setenv("DB_MIGRATE", "maybe")
		t.Setenv("SHUTDOWN_TIMEOUT", "10")

		_, err := FromEnv()

		require.Error(t, err)
		assert.ErrorContains(t, err, "DB_PORT")
		assert.ErrorContains(t, err, "DB_MIGRATE")
		assert.ErrorContains(t, err, "SHUTDOWN_TIMEOUT")
	})

	t.Run("missing database is invalid", func(t *testing.T) {
		clearEnv(t)

		_, err := FromEnv()

		require.Error(t, err)
		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("unknown log level is invalid", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DATABASE_URL", "postgres://localhost/contactlink")
		t.Setenv("LOG_LEVEL", "verbose")

		_, err := FromEnv()

		require.Error(t, err)
	})
}

func TestDatabaseDSN(t *testing.T) {
	assert.Equal(t, "postgres://u@h/x", Database{URL: "postgres://u@h/x", Host: "ignored"}.DSN())
	assert.Equal(t, "postgres://h:5433/x?sslmode=require", Database{Host: "h", Port: 5433, Name: "x", SSLMode: "require"}.DSN())
}
