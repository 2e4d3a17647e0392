// Package config provides configuration management for the grant reconciliation service.
// It loads configuration from environment variables and .env files.
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

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Chain     ChainConfig
	Database  DatabaseConfig
	GitHub    GitHubConfig
	Scoring   ScoringConfig
	Refresh   RefreshConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ChainConfig holds the contract endpoint configuration
type ChainConfig struct {
	RPCEndpoints        []string // tried in order, failing over on rate limits and dial errors
	ContractAddress     string
	ChainID             int64
	LogLookbackBlocks   uint64
	ConfirmationTimeout time.Duration
	ReceiptPollInterval time.Duration
	SignerPrivateKey    string // empty disables the write path
	// RPC compute-unit budget shared through Redis; 0 disables
	RPCBudgetCU   int
	RPCReservedCU int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	Enabled        bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	Enabled        bool
	MetricsTTL     time.Duration
}

// GitHubConfig holds repository-metrics client configuration
type GitHubConfig struct {
	Token             string
	BaseURL           string
	CommitLookback    time.Duration
	RequestsPerSecond float64
	Timeout           time.Duration
}

// ScoringConfig holds the generative scoring backend configuration.
// An empty URL means only the deterministic formula is used.
type ScoringConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RefreshConfig holds view refresh tuning
type RefreshConfig struct {
	MaxConcurrency int
	RetryDelay     time.Duration
	RetryAttempts  int
}

// SessionConfig holds view session configuration
type SessionConfig struct {
	IdleTTL time.Duration
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
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
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
		Chain: ChainConfig{
			RPCEndpoints:        splitList(getEnv("CHAIN_RPC_ENDPOINTS", "https://alfajores-forno.celo-testnet.org")),
			ContractAddress:     getEnv("GRANT_CONTRACT_ADDRESS", ""),
			ChainID:             int64(getEnvAsInt("CHAIN_ID", 44787)),
			LogLookbackBlocks:   uint64(getEnvAsInt("CHAIN_LOG_LOOKBACK_BLOCKS", 10000)),
			ConfirmationTimeout: getEnvAsDuration("CHAIN_CONFIRMATION_TIMEOUT", 2*time.Minute),
			ReceiptPollInterval: getEnvAsDuration("CHAIN_RECEIPT_POLL_INTERVAL", 2*time.Second),
			SignerPrivateKey:    getEnv("CHAIN_SIGNER_PRIVATE_KEY", ""),
			RPCBudgetCU:         getEnvAsInt("RPC_CU_BUDGET", 0),
			RPCReservedCU:       getEnvAsInt("RPC_CU_RESERVED", 0),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "grants"),
				User:           getEnv("POSTGRES_USER", "grants"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				MetricsTTL:     getEnvAsDuration("REDIS_METRICS_TTL", 10*time.Minute),
			},
		},
		GitHub: GitHubConfig{
			Token:             getEnv("GITHUB_TOKEN", ""),
			BaseURL:           strings.TrimRight(getEnv("GITHUB_API_URL", "https://api.github.com"), "/"),
			CommitLookback:    getEnvAsDuration("GITHUB_COMMIT_LOOKBACK", 90*24*time.Hour),
			RequestsPerSecond: getEnvAsFloat("GITHUB_REQUESTS_PER_SECOND", 5),
			Timeout:           getEnvAsDuration("GITHUB_TIMEOUT", 10*time.Second),
		},
		Scoring: ScoringConfig{
			URL:     getEnv("SCORING_URL", ""),
			APIKey:  getEnv("SCORING_API_KEY", ""),
			Model:   getEnv("SCORING_MODEL", "gemini-1.5-flash"),
			Timeout: getEnvAsDuration("SCORING_TIMEOUT", 20*time.Second),
		},
		Refresh: RefreshConfig{
			MaxConcurrency: getEnvAsInt("REFRESH_MAX_CONCURRENCY", 8),
			RetryDelay:     getEnvAsDuration("REFRESH_RETRY_DELAY", 2*time.Second),
			RetryAttempts:  getEnvAsInt("REFRESH_RETRY_ATTEMPTS", 2),
		},
		Session: SessionConfig{
			IdleTTL: getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
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

// Validate checks values that would otherwise fail later at dial time
func (c *Config) Validate() error {
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("CHAIN_RPC_ENDPOINTS must list at least one endpoint")
	}
	if c.Chain.ContractAddress != "" && !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("GRANT_CONTRACT_ADDRESS is not a hex address: %s", c.Chain.ContractAddress)
	}
	if c.Chain.RPCBudgetCU > 0 && c.Chain.RPCReservedCU == 0 {
		c.Chain.RPCReservedCU = c.Chain.RPCBudgetCU * 2 / 5
	}
	if c.Chain.RPCBudgetCU > 0 && c.Chain.RPCReservedCU >= c.Chain.RPCBudgetCU {
		return fmt.Errorf("RPC_CU_RESERVED (%d) must be below RPC_CU_BUDGET (%d)", c.Chain.RPCReservedCU, c.Chain.RPCBudgetCU)
	}
	if c.Refresh.MaxConcurrency < 1 {
		c.Refresh.MaxConcurrency = 1
	}
	if c.Refresh.RetryAttempts < 1 {
		c.Refresh.RetryAttempts = 1
	}
	return nil
}

// PostgresURL builds the connection URL used by pgx and migrations
func (p PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// RedisAddr returns host:port
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// getEnvAsBool gets an environment variable as a bool with a default value
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
