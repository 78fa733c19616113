// Package config assembles runtime configuration from environment
// variables so main stays lean. Every knob has a development default;
// secrets must be overridden in production.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	AdminToken    string
}

// Postgres captures primary event store configuration. An empty DSN
// selects the in-memory store, for local development only.
type Postgres struct {
	DSN string
}

// Redis captures cache configuration. An empty URL disables both the
// risk cache and the query cache.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures outbound notification configuration. Empty brokers
// disable publishing.
type Kafka struct {
	Brokers []string
}

// Signing captures tamper-evidence configuration. The master secret is
// never used directly; per-key material is derived from it.
type Signing struct {
	MasterSecret string
	ActiveKeyID  string
}

// Pipeline captures analysis orchestration knobs.
type Pipeline struct {
	StageTimeout     time.Duration
	BaselineInterval time.Duration
}

// Config is the full runtime configuration.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Signing  Signing
	Pipeline Pipeline

	JournalPath string
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("VIGIL_ADDR", ":8080"),
			JWTSigningKey: envOr("VIGIL_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			AdminToken:    os.Getenv("VIGIL_ADMIN_TOKEN"),
		},
		Postgres: Postgres{
			DSN: os.Getenv("VIGIL_POSTGRES_DSN"),
		},
		Redis: Redis{
			URL:          os.Getenv("VIGIL_REDIS_URL"),
			PoolSize:     envInt("VIGIL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("VIGIL_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("VIGIL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("VIGIL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("VIGIL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: envList("VIGIL_KAFKA_BROKERS"),
		},
		Signing: Signing{
			MasterSecret: envOr("VIGIL_SIGNING_MASTER_SECRET", "dev-signing-secret-change-in-production"),
			ActiveKeyID:  envOr("VIGIL_SIGNING_KEY_ID", "primary"),
		},
		Pipeline: Pipeline{
			StageTimeout:     envDuration("VIGIL_STAGE_TIMEOUT", 5*time.Second),
			BaselineInterval: envDuration("VIGIL_BASELINE_INTERVAL", 15*time.Minute),
		},
		JournalPath: envOr("VIGIL_JOURNAL_PATH", "audit-fallback.journal"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
