package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"CHAINGATE_PORT" default:"8080"`
	LogLevel string `envconfig:"CHAINGATE_LOG_LEVEL" default:"info"`

	BlockCypherToken string `envconfig:"BLOCKCYPHER_TOKEN"`
	EtherscanToken   string `envconfig:"ETHERSCAN_TOKEN"`
	BlockChairToken  string `envconfig:"BLOCKCHAIR_TOKEN"`
	BlocksetToken    string `envconfig:"BLOCKSET_TOKEN"`

	BlockCypherRateLimit int `envconfig:"BLOCKCYPHER_RATE_LIMIT" default:"5"`
	EtherscanRateLimit   int `envconfig:"ETHERSCAN_RATE_LIMIT" default:"3"`
}

// Load reads configuration from .env file (if present) then from environment
// variables. Environment variables override .env values.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.EtherscanToken == "" {
		slog.Warn("ETHERSCAN_TOKEN not set, Etherscan calls will be unauthenticated")
	}
	if cfg.BlockChairToken == "" {
		slog.Warn("BLOCKCHAIR_TOKEN not set, BlockChair calls will be unauthenticated")
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.BlockCypherToken == "" {
		return fmt.Errorf("%w: BLOCKCYPHER_TOKEN is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.BlockCypherRateLimit < 1 {
		return fmt.Errorf("%w: BLOCKCYPHER_RATE_LIMIT must be positive, got %d", ErrInvalidConfig, c.BlockCypherRateLimit)
	}
	if c.EtherscanRateLimit < 1 {
		return fmt.Errorf("%w: ETHERSCAN_RATE_LIMIT must be positive, got %d", ErrInvalidConfig, c.EtherscanRateLimit)
	}
	return nil
}
