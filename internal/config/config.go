// Package config provides configuration management for the vault snapshot service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Poll interval bounds, in milliseconds.
const (
	DefaultPollIntervalMs = 900_000
	MinPollIntervalMs     = 60_000
)

// Store backends.
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendMemory     = "memory"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Vault    VaultConfig
	Cron     CronConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	IngestTimeout   time.Duration
	IngestRateLimit int // requests per second per client on /ingest
	PollerInProcess bool
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Backend    string
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration tooling.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds listing cache configuration
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// VaultConfig holds the sampled vault and poller settings.
// Address may be empty here and resolved later from the deployments directory.
type VaultConfig struct {
	RPCURL         string
	Address        string
	ChainID        string
	PollIntervalMs int
	PollerEnabled  bool
	IngestSecret   string
	DeploymentsDir string
}

// PollInterval returns the effective poll interval. Values below the floor fall back to the default.
func (v VaultConfig) PollInterval() time.Duration {
	return time.Duration(NormalizePollIntervalMs(v.PollIntervalMs)) * time.Millisecond
}

// CronConfig holds settings for the external ingest caller
type CronConfig struct {
	TargetURL string
	ChainID   string
	Secret    string
	Interval  time.Duration
	Timeout   time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			IngestTimeout:   getEnvAsDuration("INGEST_TIMEOUT", 45*time.Second),
			IngestRateLimit: getEnvAsInt("INGEST_RATE_LIMIT_RPS", 1),
			PollerInProcess: getEnvAsBool("POLLER_IN_SERVER", false),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "vault_snapshots"),
				User:           getEnv("POSTGRES_USER", "vault"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "vault_snapshots"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Cache: CacheConfig{
			Enabled: getEnvAsBool("CACHE_ENABLED", false),
			TTL:     getEnvAsDuration("CACHE_TTL", time.Minute),
		},
		Vault: VaultConfig{
			RPCURL:         getEnv("VAULT_RPC_URL", ""),
			Address:        getEnv("VAULT_ADDRESS", ""),
			ChainID:        getEnv("VAULT_CHAIN_ID", "1"),
			PollIntervalMs: getEnvAsInt("VAULT_POLL_INTERVAL_MS", DefaultPollIntervalMs),
			PollerEnabled:  getEnvAsBool("VAULT_POLLER_ENABLED", true),
			IngestSecret:   getEnv("INGEST_SECRET", ""),
			DeploymentsDir: getEnv("VAULT_DEPLOYMENTS_DIR", "deployments"),
		},
		Cron: CronConfig{
			TargetURL: getEnv("CRON_TARGET_URL", "http://localhost:8080/ingest"),
			ChainID:   getEnv("CRON_CHAIN_ID", ""),
			Secret:    getEnv("INGEST_SECRET", ""),
			Interval:  getEnvAsDuration("CRON_INTERVAL", 15*time.Minute),
			Timeout:   getEnvAsDuration("CRON_TIMEOUT", 45*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// NormalizePollIntervalMs applies the 60s floor; anything below it falls back to the 15 minute default.
func NormalizePollIntervalMs(ms int) int {
	if ms < MinPollIntervalMs {
		return DefaultPollIntervalMs
	}
	return ms
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool accepts the usual spellings of true/false ("1", "yes", "on" included).
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	switch valueStr {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
