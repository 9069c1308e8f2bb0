package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Postgres connection string
	DatabaseURL string

	// Stellar RPC endpoint URL
	RPCURL string

	// Contract IDs whose events are ingested
	ContractIDs []string

	// HTTP listen port
	Port int

	// Log level: debug, info, warn, error
	LogLevel string

	// Queue poll interval
	PollInterval time.Duration

	// Base backoff for failed jobs
	BaseBackoff time.Duration

	// Starting ledger sequence ( 0 means resume from checkpoint )
	StartLedger uint32

	// How far behind the chain tip to start when there is no checkpoint
	LookbackLedgers uint32

	// Include events from failed transactions
	IncludeFailedTx bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RPCURL:          getEnv("RPC_URL", "https://soroban-testnet.stellar.org"),
		ContractIDs:     splitCSV(os.Getenv("CONTRACT_IDS")),
		Port:            getEnvAsInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PollInterval:    time.Duration(getEnvAsInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		BaseBackoff:     time.Duration(getEnvAsInt("BASE_BACKOFF_MS", 2000)) * time.Millisecond,
		StartLedger:     uint32(getEnvAsInt("START_LEDGER", 0)),
		LookbackLedgers: uint32(getEnvAsInt("LOOKBACK_LEDGERS", 120)),
		IncludeFailedTx: getEnvAsBool("INCLUDE_FAILED_TX", false),
	}
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if len(c.ContractIDs) == 0 {
		return fmt.Errorf("CONTRACT_IDS is required (comma separated)")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper: get string from env
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Helper: get int from env
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get bool from env
func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
