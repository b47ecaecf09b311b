package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret store kinds
const (
	SecretStoreMemory = "memory"
	SecretStoreVault  = "vault"
)

// Sealing modes for secret payloads at rest
const (
	SealingNone         = "none"
	SealingLocal        = "local"
	SealingAWSKMS       = "aws-kms"
	SealingVaultTransit = "vault-transit"
)

// Config holds service configuration
type Config struct {
	// Database
	PostgresDSN string
	DBMaxConns  int
	DBMinConns  int

	// Server
	Port            int
	JWTSecret       string
	SessionTTL      time.Duration
	CookieSecure    bool
	ServiceAPIToken string
	DefaultChain    string

	// Secret store
	SecretStore       string // memory or vault
	VaultAddress      string
	VaultToken        string
	VaultMount        string
	VaultReadCacheTTL time.Duration

	// Sealing of secret payloads before they reach the store
	SecretSealing          string
	SealingLocalKey        string
	SealingAWSKMSKeyID     string
	SealingAWSRegion       string
	SealingVaultTransitKey string

	// Ethereum-style chain
	EthRPCURL         string
	EthConfirmTimeout time.Duration

	// Substrate-style chain
	SubstrateRPCURL           string
	SubstrateSS58Prefix       int
	SubstrateDecimals         int // 0 reads the precision from the chain
	SubstrateTokenID          string
	SubstrateUseBalances      bool
	SubstrateCustomCall       string
	SubstrateInclusionTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 25),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 2),

		Port:            getEnvInt("PORT", 5000),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
		CookieSecure:    getEnv("NODE_ENV", getEnv("APP_ENV", "")) == "production",
		ServiceAPIToken: getEnv("SERVICE_API_TOKEN", ""),
		DefaultChain:    getEnv("DEFAULT_CHAIN", "ethereum"),

		SecretStore:       getEnv("SECRET_STORE", SecretStoreVault),
		VaultAddress:      getEnv("VAULT_ADDR", getEnv("VAULT_ENDPOINT", "http://127.0.0.1:8200")),
		VaultToken:        getEnv("VAULT_TOKEN", ""),
		VaultMount:        getEnv("VAULT_MOUNT", "secret"),
		VaultReadCacheTTL: getEnvDuration("VAULT_READ_CACHE_TTL", 30*time.Second),

		SecretSealing:          getEnv("SECRET_SEALING", SealingNone),
		SealingLocalKey:        getEnv("SEALING_LOCAL_KEY", ""),
		SealingAWSKMSKeyID:     getEnv("SEALING_AWS_KMS_KEY_ID", ""),
		SealingAWSRegion:       getEnv("SEALING_AWS_REGION", ""),
		SealingVaultTransitKey: getEnv("SEALING_VAULT_TRANSIT_KEY", ""),

		EthRPCURL:         getEnv("ETH_RPC_URL", getEnv("RPC_URL", "https://rpc-opal.unique.network")),
		EthConfirmTimeout: getEnvDuration("ETH_CONFIRM_TIMEOUT", 5*time.Minute),

		SubstrateRPCURL:           getEnv("SUBSTRATE_RPC_URL", "ws://127.0.0.1:9944"),
		SubstrateSS58Prefix:       getEnvInt("SUBSTRATE_SS58_PREFIX", 42),
		SubstrateDecimals:         getEnvInt("SUBSTRATE_DECIMALS", 0),
		SubstrateTokenID:          getEnv("SUBSTRATE_TOKEN_ID", "OPAL"),
		SubstrateUseBalances:      getEnvBool("USE_BALANCES", false),
		SubstrateCustomCall:       getEnv("SUBSTRATE_CUSTOM_TRANSFER_CALL", "Unique.transfer"),
		SubstrateInclusionTimeout: getEnvDuration("SUBSTRATE_INCLUSION_TIMEOUT", 2*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got: %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got: %d", c.DBMinConns)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	if c.DefaultChain != "ethereum" && c.DefaultChain != "substrate" {
		return fmt.Errorf("DEFAULT_CHAIN must be 'ethereum' or 'substrate', got: %s", c.DefaultChain)
	}

	switch c.SecretStore {
	case SecretStoreMemory:
	case SecretStoreVault:
		if c.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when SECRET_STORE is 'vault'")
		}
		if c.VaultToken == "" {
			return fmt.Errorf("VAULT_TOKEN is required when SECRET_STORE is 'vault'")
		}
		if c.VaultMount == "" {
			return fmt.Errorf("VAULT_MOUNT must not be empty")
		}
	default:
		return fmt.Errorf("SECRET_STORE must be 'memory' or 'vault', got: %s", c.SecretStore)
	}

	switch c.SecretSealing {
	case SealingNone, "":
	case SealingLocal:
		if c.SealingLocalKey == "" {
			return fmt.Errorf("SEALING_LOCAL_KEY is required when SECRET_SEALING is 'local'")
		}
	case SealingAWSKMS:
		if c.SealingAWSKMSKeyID == "" || c.SealingAWSRegion == "" {
			return fmt.Errorf("SEALING_AWS_KMS_KEY_ID and SEALING_AWS_REGION are required when SECRET_SEALING is 'aws-kms'")
		}
	case SealingVaultTransit:
		if c.SealingVaultTransitKey == "" {
			return fmt.Errorf("SEALING_VAULT_TRANSIT_KEY is required when SECRET_SEALING is 'vault-transit'")
		}
		if c.VaultAddress == "" || c.VaultToken == "" {
			return fmt.Errorf("VAULT_ADDR and VAULT_TOKEN are required when SECRET_SEALING is 'vault-transit'")
		}
	default:
		return fmt.Errorf("SECRET_SEALING must be one of none, local, aws-kms, vault-transit; got: %s", c.SecretSealing)
	}

	if c.EthRPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL is required")
	}
	if c.SubstrateRPCURL == "" {
		return fmt.Errorf("SUBSTRATE_RPC_URL is required")
	}
	if c.SubstrateSS58Prefix < 0 || c.SubstrateSS58Prefix > 16383 {
		return fmt.Errorf("SUBSTRATE_SS58_PREFIX must be between 0 and 16383, got: %d", c.SubstrateSS58Prefix)
	}
	if c.SubstrateDecimals < 0 || c.SubstrateDecimals > 36 {
		return fmt.Errorf("SUBSTRATE_DECIMALS must be between 0 and 36, got: %d", c.SubstrateDecimals)
	}

	if c.EthConfirmTimeout <= 0 {
		return fmt.Errorf("ETH_CONFIRM_TIMEOUT must be positive")
	}
	if c.SubstrateInclusionTimeout <= 0 {
		return fmt.Errorf("SUBSTRATE_INCLUSION_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable ("30s", "2m") with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
