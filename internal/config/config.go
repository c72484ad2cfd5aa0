// Package config provides configuration management for the pair tracker.
// It loads configuration from environment variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultPairAddress is the WETH/USDC 0.05% Uniswap v3 pool
const DefaultPairAddress = "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"

// Storage backends selectable through STORAGE_BACKEND
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Etherscan EtherscanConfig
	Prices    PricesConfig
	Lookup    LookupConfig
	LiveSync  LiveSyncConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds datastore configuration
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

// EtherscanConfig holds explorer API configuration
type EtherscanConfig struct {
	BaseURL     string
	APIKey      string
	PairAddress string
	PageSize    int
	// RequestsPerSecond throttles outgoing explorer calls. Zero picks a default
	// based on whether an API key is configured.
	RequestsPerSecond float64
	Timeout           time.Duration
	// SharedBudget coordinates the explorer rate through Redis so the
	// server and the worker split one key's quota.
	SharedBudget bool
}

// PricesConfig holds price feed configuration
type PricesConfig struct {
	BinanceURL   string
	CoinGeckoURL string
	TTL          time.Duration
}

// LookupConfig holds lookup engine configuration
type LookupConfig struct {
	// ProbeWindow is how far inside each date bound the store is searched
	// when deciding whether a range was already synced.
	ProbeWindow time.Duration
}

// LiveSyncConfig holds live poller configuration
type LiveSyncConfig struct {
	Enabled  bool
	Interval time.Duration
	PageSize int
}

// KafkaConfig holds the optional transfer feed. Publishing is off when
// Brokers is empty.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Enabled reports whether a broker list was configured
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// RateLimitConfig holds per-client API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional, variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "pair_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "pair_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Etherscan: EtherscanConfig{
			BaseURL:           getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api"),
			APIKey:            getEnv("ETHERSCAN_API_KEY", ""),
			PairAddress:       getEnv("PAIR_ADDRESS", DefaultPairAddress),
			PageSize:          getEnvAsInt("ETHERSCAN_PAGE_SIZE", 10000),
			RequestsPerSecond: getEnvAsFloat("ETHERSCAN_RPS", 0),
			Timeout:           getEnvAsDuration("ETHERSCAN_TIMEOUT", 30*time.Second),
			SharedBudget:      getEnvAsBool("ETHERSCAN_SHARED_BUDGET", false),
		},
		Prices: PricesConfig{
			BinanceURL:   getEnv("BINANCE_BASE_URL", "https://api.binance.com/api"),
			CoinGeckoURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			TTL:          getEnvAsDuration("PRICE_CACHE_TTL", 30*time.Second),
		},
		Lookup: LookupConfig{
			ProbeWindow: getEnvAsDuration("LOOKUP_PROBE_WINDOW", time.Minute),
		},
		LiveSync: LiveSyncConfig{
			Enabled:  getEnvAsBool("LIVE_SYNC_ENABLED", true),
			Interval: getEnvAsDuration("LIVE_SYNC_INTERVAL", time.Minute),
			PageSize: getEnvAsInt("LIVE_SYNC_PAGE_SIZE", 100),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsList("KAFKA_BROKERS"),
			Topic:        getEnv("KAFKA_TOPIC", "pair-transfers"),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that cannot be defaulted silently
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case BackendPostgres, BackendClickHouse:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Database.Backend)
	}
	if c.Etherscan.PairAddress == "" {
		return fmt.Errorf("PAIR_ADDRESS must not be empty")
	}
	if !common.IsHexAddress(c.Etherscan.PairAddress) {
		return fmt.Errorf("PAIR_ADDRESS %q is not a hex address", c.Etherscan.PairAddress)
	}
	if c.Etherscan.PageSize <= 0 || c.Etherscan.PageSize > 10000 {
		return fmt.Errorf("ETHERSCAN_PAGE_SIZE must be between 1 and 10000, got %d", c.Etherscan.PageSize)
	}
	if c.Lookup.ProbeWindow <= 0 {
		return fmt.Errorf("LOOKUP_PROBE_WINDOW must be positive")
	}
	return nil
}

// EtherscanRPS returns the effective explorer request rate
func (c *EtherscanConfig) EtherscanRPS() float64 {
	if c.RequestsPerSecond > 0 {
		return c.RequestsPerSecond
	}
	if c.APIKey != "" {
		return 5
	}
	// keyless access is limited to one call every five seconds
	return 0.2
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
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

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
