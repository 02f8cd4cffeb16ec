package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Server    Server
	Database  Database
	Redis     RedisConfig
	RateLimit RateLimit
	Kafka     Kafka
	Log       Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `validate:"required"`
	IdentifyTimeout   time.Duration `validate:"gt=0"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
	ReadHeaderTimeout time.Duration `validate:"gt=0"`
}

// Database holds connection and pool settings. URL wins over the discrete
// fields when both are set.
type Database struct {
	URL             string
	Host            string `validate:"required_without=URL"`
	Port            int    `validate:"gte=0,lte=65535"`
	User            string
	Password        string
	Name            string `validate:"required_without=URL"`
	SSLMode         string `validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int    `validate:"gt=0"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// DSN renders the connection string understood by lib/pq.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig configures the optional Redis client. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int `validate:"gte=0"`
	MinIdleConns int `validate:"gte=0"`
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimit configures the per-client limit on /identify. Zero disables it.
type RateLimit struct {
	PerMinute int `validate:"gte=0"`
}

// Kafka configures the outbox relay. No brokers means events stay in the
// outbox table and no relay runs.
type Kafka struct {
	Brokers      []string
	Topic        string        `validate:"required"`
	PollInterval time.Duration `validate:"gt=0"`
	BatchSize    int           `validate:"gt=0"`
}

// Enabled reports whether the relay should run.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

type Log struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// FromEnv builds a Config from environment variables so main stays lean. A
// .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	env := envReader{errs: &errs}

	addr := os.Getenv("CONTACTLINK_ADDR")
	if addr == "" {
		addr = ":" + env.str("PORT", "3000")
	}

	cfg := Config{
		Server: Server{
			Addr:              addr,
			IdentifyTimeout:   env.duration("IDENTIFY_TX_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   env.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
			ReadHeaderTimeout: 5 * time.Second,
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            os.Getenv("DB_HOST"),
			Port:            env.int("DB_PORT", 5432),
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			Name:            os.Getenv("DB_NAME"),
			SSLMode:         env.str("DB_SSLMODE", "disable"),
			MaxOpenConns:    env.int("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    env.int("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			Migrate:         env.bool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     env.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: env.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  env.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  env.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: env.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		RateLimit: RateLimit{
			PerMinute: env.int("RATE_LIMIT_PER_MINUTE", 0),
		},
		Kafka: Kafka{
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:        env.str("KAFKA_TOPIC", "contact-events"),
			PollInterval: env.duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    env.int("OUTBOX_BATCH_SIZE", 100),
		},
		Log: Log{
			Level:  strings.ToLower(env.str("LOG_LEVEL", "info")),
			Format: strings.ToLower(env.str("LOG_FORMAT", "json")),
		},
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type envReader struct {
	errs *[]error
}

func (e envReader) str(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (e envReader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (e envReader) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
