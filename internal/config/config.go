package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Concurrency modes of the schedule store.
const (
	ModePessimistic = "pessimistic"
	ModeOptimistic  = "optimistic"
)

type Config struct {
	Addr                 string
	StoreDriver          string
	DBPath               string
	DatabaseDSN          string
	DatabaseMaxConns     int
	LogLevel             string
	ConcurrencyMode      string
	MaxCommitAttempts    int
	DueDefaultLimit      int
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	SweepWorkerCount     int
	SweepQueueSize       int
}

// Load reads configuration from a .env file (if present) and environment variables,
// applying sensible defaults when values are missing or invalid.
func Load() Config {
	// Ignore error so the app still starts when .env is absent in production.
	_ = godotenv.Load()

	return Config{
		Addr:                 envOr("ADDR", ":8080"),
		StoreDriver:          strings.ToLower(envOr("STORE_DRIVER", DriverSQLite)),
		DBPath:               envOr("DB_PATH", "file:scheduler.db"),
		DatabaseDSN:          envOr("DATABASE_DSN", ""),
		DatabaseMaxConns:     envIntOr("DATABASE_MAX_CONNS", 10),
		LogLevel:             strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		ConcurrencyMode:      strings.ToLower(envOr("CONCURRENCY_MODE", ModePessimistic)),
		MaxCommitAttempts:    envIntOr("MAX_COMMIT_ATTEMPTS", 3),
		DueDefaultLimit:      envIntOr("DUE_DEFAULT_LIMIT", 20),
		SessionIdleTimeout:   envDurationOr("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		SessionSweepInterval: envDurationOr("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		SweepWorkerCount:     envIntOr("SWEEP_WORKER_COUNT", 1),
		SweepQueueSize:       envIntOr("SWEEP_QUEUE_SIZE", 8),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems []string

	if c.Addr == "" {
		problems = append(problems, "ADDR cannot be empty")
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			problems = append(problems, "DB_PATH cannot be empty for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			problems = append(problems, "DATABASE_DSN cannot be empty for the postgres driver")
		}
		if c.DatabaseMaxConns <= 0 {
			problems = append(problems, fmt.Sprintf("DATABASE_MAX_CONNS must be positive, got %d", c.DatabaseMaxConns))
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER must be one of sqlite, postgres, memory, got %q", c.StoreDriver))
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be DEBUG, INFO, WARN or ERROR, got %q", c.LogLevel))
	}

	if c.ConcurrencyMode != ModePessimistic && c.ConcurrencyMode != ModeOptimistic {
		problems = append(problems, fmt.Sprintf("CONCURRENCY_MODE must be pessimistic or optimistic, got %q", c.ConcurrencyMode))
	}
	if c.MaxCommitAttempts < 1 {
		problems = append(problems, fmt.Sprintf("MAX_COMMIT_ATTEMPTS must be at least 1, got %d", c.MaxCommitAttempts))
	}
	if c.DueDefaultLimit < 1 {
		problems = append(problems, fmt.Sprintf("DUE_DEFAULT_LIMIT must be at least 1, got %d", c.DueDefaultLimit))
	}
	if c.SessionIdleTimeout <= 0 {
		problems = append(problems, "SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		problems = append(problems, "SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.SweepWorkerCount < 1 {
		problems = append(problems, fmt.Sprintf("SWEEP_WORKER_COUNT must be at least 1, got %d", c.SweepWorkerCount))
	}
	if c.SweepQueueSize < 1 {
		problems = append(problems, fmt.Sprintf("SWEEP_QUEUE_SIZE must be at least 1, got %d", c.SweepQueueSize))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Printf("invalid value for %s=%q, using default %d", key, v, def)
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid value for %s=%q, using default %s", key, v, def)
	}
	return def
}
