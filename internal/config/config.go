// Package config loads ELSPETH process configuration from the
// environment, the way the reference orchestrator's common/config does.
// Pipeline-authored YAML profiles (datasource/sinks/transforms/...) are an
// explicit Non-goal of the core and are not parsed here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide engine configuration.
type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Telemetry  TelemetryConfig
	Retry      RetryConfig
	Checkpoint CheckpointConfig
	RateLimit  RateLimitConfig
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	LogFormat   string
	CanonicalVersion string
}

// DatabaseConfig holds Postgres connection pool settings for the audit store.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// TelemetryConfig holds observability toggles.
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// RetryConfig is the default RuntimeRetryConfig applied when a node omits one.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          float64
}

// CheckpointConfig controls batch-pending resume polling.
type CheckpointConfig struct {
	DefaultCheckAfter time.Duration
}

// RateLimitConfig holds the Redis-backed rate-limit registry connection.
type RateLimitConfig struct {
	RedisAddr string
	RedisDB   int
}

// Load loads configuration from environment variables, applying the same
// defaults a developer running the reference orchestrator would see.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:             serviceName,
			Environment:      getEnv("ELSPETH_ENV", "development"),
			LogLevel:         getEnv("LOG_LEVEL", "info"),
			LogFormat:        getEnv("LOG_FORMAT", "text"),
			CanonicalVersion: getEnv("ELSPETH_CANONICAL_VERSION", "cv1"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "elspeth"),
			User:        getEnv("POSTGRES_USER", "elspeth"),
			Password:    getEnv("POSTGRES_PASSWORD", "elspeth"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:       getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:        getEnvDuration("RETRY_MAX_DELAY", 120*time.Second),
			ExponentialBase: getEnvFloat("RETRY_EXPONENTIAL_BASE", 3.0),
			Jitter:          getEnvFloat("RETRY_JITTER", 0.1),
		},
		Checkpoint: CheckpointConfig{
			DefaultCheckAfter: getEnvDuration("CHECKPOINT_CHECK_AFTER", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvInt("REDIS_DB", 0),
		},
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}

	return cfg, nil
}

// DatabaseURL builds the pgx connection string for the audit store.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return def
}
