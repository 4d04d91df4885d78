package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Token backends.
const (
	TokenBackendMemory = "memory"
	TokenBackendChain  = "chain"
)

// Storage modes.
const (
	StorageModeMemory   = "memory"
	StorageModeConsole  = "console"
	StorageModePostgres = "postgres"
)

// DefaultEngineAddress is the custody address used by the memory backend
// when no key or address is configured.
const DefaultEngineAddress = "0x00000000000000000000000000000000000e0e0e"

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Engine identity
	EngineAddress    string
	EnginePrivateKey string

	// Token collaborators
	TokenBackend        string // "memory" or "chain"
	RPCURL              string
	ChainReceiptTimeout time.Duration
	ChainGasLimit       uint64
	// ChainBatchHelper is a disperse-style contract used for atomic batch
	// payouts. Empty pays batches one transfer at a time.
	ChainBatchHelper string
	RegistryCacheSize   int
	RegistryCacheTTL    time.Duration

	// Settlement
	PayoutPolicy string // "owner" or "open"

	// Custody circuit breaker
	CircuitBreakerEnabled        bool
	CircuitBreakerCheckInterval  time.Duration
	CircuitBreakerRecoveryChecks int

	// API
	EventFeedBufferSize int
	AuthMaxSkew         time.Duration

	// Storage
	StorageMode  string // "memory", "console" or "postgres"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		EngineAddress:    os.Getenv("ENGINE_ADDRESS"),
		EnginePrivateKey: os.Getenv("ENGINE_PRIVATE_KEY"),

		// Token defaults
		TokenBackend:        getEnvOrDefault("TOKEN_BACKEND", TokenBackendMemory),
		RPCURL:              os.Getenv("RPC_URL"),
		ChainReceiptTimeout: getDurationOrDefault("CHAIN_RECEIPT_TIMEOUT", 2*time.Minute),
		ChainGasLimit:       uint64(getIntOrDefault("CHAIN_GAS_LIMIT", 200000)),
		ChainBatchHelper:    os.Getenv("CHAIN_BATCH_HELPER"),
		RegistryCacheSize:   getIntOrDefault("REGISTRY_CACHE_SIZE", 1000),
		RegistryCacheTTL:    getDurationOrDefault("REGISTRY_CACHE_TTL", time.Hour),

		PayoutPolicy: getEnvOrDefault("PAYOUT_POLICY", "owner"),

		// Circuit breaker defaults
		CircuitBreakerEnabled:        getBoolOrDefault("CIRCUIT_BREAKER_ENABLED", true),
		CircuitBreakerCheckInterval:  getDurationOrDefault("CIRCUIT_BREAKER_CHECK_INTERVAL", time.Minute),
		CircuitBreakerRecoveryChecks: getIntOrDefault("CIRCUIT_BREAKER_RECOVERY_CHECKS", 1),

		// API defaults
		EventFeedBufferSize: getIntOrDefault("EVENT_FEED_BUFFER_SIZE", 256),
		AuthMaxSkew:         getDurationOrDefault("AUTH_MAX_SKEW", 5*time.Minute),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", StorageModeMemory),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "slotauction"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "slotauction"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "slot_auction"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	switch c.TokenBackend {
	case TokenBackendMemory:
	case TokenBackendChain:
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when TOKEN_BACKEND=chain")
		}
		if c.EnginePrivateKey == "" {
			return fmt.Errorf("ENGINE_PRIVATE_KEY is required when TOKEN_BACKEND=chain")
		}
		if c.ChainGasLimit == 0 {
			return fmt.Errorf("CHAIN_GAS_LIMIT must be positive")
		}
		if c.ChainReceiptTimeout <= 0 {
			return fmt.Errorf("CHAIN_RECEIPT_TIMEOUT must be positive, got %s", c.ChainReceiptTimeout)
		}
		if c.ChainBatchHelper != "" && !common.IsHexAddress(c.ChainBatchHelper) {
			return fmt.Errorf("CHAIN_BATCH_HELPER is not an address: %q", c.ChainBatchHelper)
		}
	default:
		return fmt.Errorf("TOKEN_BACKEND must be 'memory' or 'chain', got %q", c.TokenBackend)
	}

	if _, _, err := c.EngineIdentity(); err != nil {
		return err
	}

	if c.PayoutPolicy != "owner" && c.PayoutPolicy != "open" {
		return fmt.Errorf("PAYOUT_POLICY must be 'owner' or 'open', got %q", c.PayoutPolicy)
	}

	switch c.StorageMode {
	case StorageModeMemory, StorageModeConsole, StorageModePostgres:
	default:
		return fmt.Errorf("STORAGE_MODE must be 'memory', 'console' or 'postgres', got %q", c.StorageMode)
	}

	if c.CircuitBreakerEnabled && c.CircuitBreakerCheckInterval <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_CHECK_INTERVAL must be positive, got %s", c.CircuitBreakerCheckInterval)
	}

	if c.RegistryCacheSize <= 0 {
		return fmt.Errorf("REGISTRY_CACHE_SIZE must be positive, got %d", c.RegistryCacheSize)
	}

	if c.EventFeedBufferSize <= 0 {
		return fmt.Errorf("EVENT_FEED_BUFFER_SIZE must be positive, got %d", c.EventFeedBufferSize)
	}

	if c.AuthMaxSkew <= 0 {
		return fmt.Errorf("AUTH_MAX_SKEW must be positive, got %s", c.AuthMaxSkew)
	}

	return nil
}

// EngineIdentity returns the engine's custody address and, when configured,
// its signing key. With a key the address is derived from it; ENGINE_ADDRESS
// must then match if also set.
func (c *Config) EngineIdentity() (common.Address, *ecdsa.PrivateKey, error) {
	var key *ecdsa.PrivateKey
	if c.EnginePrivateKey != "" {
		var err error
		key, err = crypto.HexToECDSA(strings.TrimPrefix(c.EnginePrivateKey, "0x"))
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("parse ENGINE_PRIVATE_KEY: %w", err)
		}
	}

	addrStr := c.EngineAddress
	if addrStr != "" && !common.IsHexAddress(addrStr) {
		return common.Address{}, nil, fmt.Errorf("ENGINE_ADDRESS %q is not a hex address", addrStr)
	}

	switch {
	case key != nil:
		derived := crypto.PubkeyToAddress(key.PublicKey)
		if addrStr != "" && common.HexToAddress(addrStr) != derived {
			return common.Address{}, nil, fmt.Errorf("ENGINE_ADDRESS %s does not match ENGINE_PRIVATE_KEY (%s)", addrStr, derived.Hex())
		}
		return derived, key, nil
	case addrStr != "":
		return common.HexToAddress(addrStr), nil, nil
	default:
		return common.HexToAddress(DefaultEngineAddress), nil, nil
	}
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
