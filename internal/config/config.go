// Package config provides configuration management for the token indexer.
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

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chain    ChainConfig
	Scanner  ScannerConfig
	Cache    CacheConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
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

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Enabled  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds blockchain RPC configuration
type ChainConfig struct {
	RPCPrimary   string
	RPCSecondary string
}

// ScannerConfig holds block scanner configuration
type ScannerConfig struct {
	ChunkSize         uint64        // blocks per getLogs call (default: 10)
	MaxRecords        int           // persisted-record cap per address (default: 100)
	ChunkDelay        time.Duration // pacing between chunk fetches (default: 500ms)
	DefaultBlockSpan  uint64        // from = head - span when range unspecified (default: 1000)
	ChunkRetries      int           // attempts per chunk before skipping it (default: 2)
}

// CacheConfig holds recency and endpoint cache configuration
type CacheConfig struct {
	FreshnessWindow time.Duration // recency short-circuit window (default: 1h)
	HotTTL          time.Duration
	WarmTTL         time.Duration
	ColdTTL         time.Duration
}

// WorkerConfig holds job worker pool configuration
type WorkerConfig struct {
	PoolSize  int // concurrent job drivers (default: 4)
	QueueSize int // pending job buffer (default: 64)
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
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "token_indexer"),
				User:           getEnv("POSTGRES_USER", "indexer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "token_indexer"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCPrimary:   getEnv("ETH_RPC_PRIMARY", ""),
			RPCSecondary: getEnv("ETH_RPC_SECONDARY", ""),
		},
		Scanner: ScannerConfig{
			ChunkSize:        getEnvAsUint64("SCANNER_CHUNK_SIZE", 10),
			MaxRecords:       getEnvAsInt("SCANNER_MAX_RECORDS", 100),
			ChunkDelay:       getEnvAsDuration("SCANNER_CHUNK_DELAY", 500*time.Millisecond),
			DefaultBlockSpan: getEnvAsUint64("SCANNER_DEFAULT_BLOCK_SPAN", 1000),
			ChunkRetries:     getEnvAsInt("SCANNER_CHUNK_RETRIES", 2),
		},
		Cache: CacheConfig{
			FreshnessWindow: getEnvAsDuration("CACHE_FRESHNESS_WINDOW", time.Hour),
			HotTTL:          getEnvAsDuration("CACHE_HOT_TTL", time.Minute),
			WarmTTL:         getEnvAsDuration("CACHE_WARM_TTL", 15*time.Minute),
			ColdTTL:         getEnvAsDuration("CACHE_COLD_TTL", 6*time.Hour),
		},
		Worker: WorkerConfig{
			PoolSize:  getEnvAsInt("WORKER_POOL_SIZE", 4),
			QueueSize: getEnvAsInt("WORKER_QUEUE_SIZE", 64),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// PostgresURL builds a database URL suitable for golang-migrate
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
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

// getEnvAsUint64 gets an environment variable as a uint64 with a default value
func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
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
