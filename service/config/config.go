package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Supported values for NETWORK.
const (
	NetworkLocalnet = "localnet"
	NetworkDevnet   = "devnet"
	NetworkMainnet  = "mainnet"
)

// DefaultProgramID is the address the WEEK program is deployed at.
const DefaultProgramID = "A7FGoLcEt2qJD32UvzT1ndnBUPWEanprxxYH1PtFouCm"

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// ServerURL is where workers and the CLI reach the validator API on localnet.
	ServerURL string

	// Database configuration. Empty disables the event log.
	DatabaseURL string

	// NATS configuration. Empty disables event publishing.
	NATSURL string

	// Solana configuration
	Network        string
	SolanaRPCURLs  []string
	ProgramID      solana.PublicKey
	SubmitTimeout  time.Duration
	AuthorityKey   string
	BlockhashTTL   uint64
	AirdropMax     uint64
	PreflightCheck bool

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.ServerURL = getEnvOrDefault("SERVER_URL", "http://localhost:8080")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.Network = getEnvOrDefault("NETWORK", NetworkLocalnet)
	switch cfg.Network {
	case NetworkLocalnet, NetworkDevnet, NetworkMainnet:
	default:
		errs = append(errs, fmt.Errorf("NETWORK must be one of localnet, devnet, mainnet (got %q)", cfg.Network))
	}

	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	if cfg.Network != NetworkLocalnet && len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required for network %s", cfg.Network))
	}

	programID, err := solana.PublicKeyFromBase58(getEnvOrDefault("PROGRAM_ID", DefaultProgramID))
	if err != nil {
		errs = append(errs, fmt.Errorf("PROGRAM_ID: invalid address: %w", err))
	} else {
		cfg.ProgramID = programID
	}

	preflight, err := parseBool("PREFLIGHT_CHECKS", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PreflightCheck = preflight
	}

	airdropMax, err := parseUint64("AIRDROP_MAX_LAMPORTS", 10_000_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AirdropMax = airdropMax
	}

	ttl, err := parseUint64("BLOCKHASH_TTL", 150)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BlockhashTTL = ttl
	}

	timeout, err := parseDuration("SUBMIT_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SubmitTimeout = timeout
	}

	cfg.AuthorityKey = os.Getenv("AUTHORITY_KEYPAIR")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "weektoken-distribution")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.Network != NetworkLocalnet && len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required for network %q", c.Network))
	}

	if c.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}

	if c.BlockhashTTL == 0 {
		errs = append(errs, fmt.Errorf("BlockhashTTL must be positive"))
	}

	if c.SubmitTimeout < time.Second {
		errs = append(errs, fmt.Errorf("SubmitTimeout must be at least 1 second"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ValidateWorker checks the extra settings the distribution worker needs.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.AuthorityKey == "" {
		return fmt.Errorf("configuration validation failed: AUTHORITY_KEYPAIR is required")
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseUint64 parses an unsigned integer from an environment variable or uses a default.
func parseUint64(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
