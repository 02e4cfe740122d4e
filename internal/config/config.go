// Package config loads process configuration from the environment, the
// way this lineage always has: godotenv for local .env files, then
// os.Getenv-with-defaults helpers grouped into sub-structs — not a
// generic mapstructure/viper layer.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppEnv     string
	AppPort    string
	AppHost    string
	AppName    string
	AppVersion string

	// Database
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxConnections  int
	DBIdleConnections int
	DBConnLifetime    time.Duration
	DatabaseURL       string
	DBDriver          string // "postgres" or "sqlite"

	// Redis (scheduler leader election and the admin API rate limiter — see SPEC_FULL §3)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisURL      string

	// Logging
	LogLevel string

	// Queue
	Queue struct {
		Enabled              bool
		PollInterval         time.Duration
		IdleBackoff          time.Duration
		BatchSize            int
		MaxWorkers           int
		HeartbeatInterval    time.Duration
		StaleAfter           time.Duration
		StaleSweepInterval   time.Duration
		ShutdownGrace        time.Duration
		CleanupRetentionDays int
		BackoffBase          time.Duration
		BackoffCap           time.Duration
		BackoffJitter        time.Duration
	}

	// Monitoring
	Monitoring struct {
		MetricsEnabled bool
		MetricsPort    int
		MetricsPath    string
	}

	// RateLimit guards the admin API (mainly the enqueue endpoint) against
	// a runaway producer, counted per client IP in Redis.
	RateLimit struct {
		Enabled  bool
		Requests int
		Window   time.Duration
	}
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env.development"); err != nil {
		_ = godotenv.Load(".env.test")
	}

	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		AppPort:    getEnv("APP_PORT", "8080"),
		AppHost:    getEnv("APP_HOST", "0.0.0.0"),
		AppName:    getEnv("APP_NAME", "talentqueue"),
		AppVersion: getEnv("APP_VERSION", "1.0.0"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "talentqueue"),
		DBPassword:        getEnv("DB_PASSWORD", "talentqueue"),
		DBName:            getEnv("DB_NAME", "talentqueue_dev"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "disable"),
		DBMaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
		DBIdleConnections: getEnvAsInt("DB_IDLE_CONNECTIONS", 5),
		DBConnLifetime:    time.Duration(getEnvAsInt("DB_CONNECTION_LIFETIME", 300)) * time.Second,
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBDriver:          getEnv("DB_DRIVER", "postgres"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisURL:      getEnv("REDIS_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.Queue.Enabled = getEnvAsBool("QUEUE_SCHEDULER_ENABLED", false)
	cfg.Queue.PollInterval = parseDuration(getEnv("QUEUE_POLL_INTERVAL", "5s"), 5*time.Second)
	cfg.Queue.IdleBackoff = parseDuration(getEnv("QUEUE_IDLE_BACKOFF", "5s"), 5*time.Second)
	cfg.Queue.BatchSize = getEnvAsInt("QUEUE_BATCH_SIZE", 10)
	cfg.Queue.MaxWorkers = getEnvAsInt("QUEUE_MAX_WORKERS", 5)
	cfg.Queue.HeartbeatInterval = parseDuration(getEnv("QUEUE_HEARTBEAT_INTERVAL", "30s"), 30*time.Second)
	cfg.Queue.StaleAfter = parseDuration(getEnv("QUEUE_STALE_AFTER", "10m"), 10*time.Minute)
	cfg.Queue.StaleSweepInterval = parseDuration(getEnv("QUEUE_STALE_SWEEP_INTERVAL", "1m"), 1*time.Minute)
	cfg.Queue.ShutdownGrace = parseDuration(getEnv("QUEUE_SHUTDOWN_GRACE", "30s"), 30*time.Second)
	cfg.Queue.CleanupRetentionDays = getEnvAsInt("QUEUE_CLEANUP_RETENTION_DAYS", 30)
	cfg.Queue.BackoffBase = parseDuration(getEnv("QUEUE_BACKOFF_BASE", "5m"), 5*time.Minute)
	cfg.Queue.BackoffCap = parseDuration(getEnv("QUEUE_BACKOFF_CAP", "1h"), 1*time.Hour)
	cfg.Queue.BackoffJitter = parseDuration(getEnv("QUEUE_BACKOFF_JITTER", "30s"), 30*time.Second)

	cfg.Monitoring.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", true)
	cfg.Monitoring.MetricsPort = getEnvAsInt("METRICS_PORT", 9090)
	cfg.Monitoring.MetricsPath = getEnv("METRICS_PATH", "/metrics")

	cfg.RateLimit.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", false)
	cfg.RateLimit.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", 100)
	cfg.RateLimit.Window = parseDuration(getEnv("RATE_LIMIT_WINDOW", "1m"), time.Minute)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
