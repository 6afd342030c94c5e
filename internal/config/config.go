// Package config loads MAMMON's runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the MAMMON agent.
type Config struct {
	Network       NetworkConfig
	RPC           RPCConfig
	Wallet        WalletConfig
	Gas           GasConfig
	Limits        LimitsConfig
	Profit        ProfitabilityConfig
	Risk          RiskConfig
	Oracle        OracleConfig
	Scanner       ScannerConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
	Database      DatabaseConfig
	Cache         RedisConfig
}

// NetworkConfig identifies the execution network.
type NetworkConfig struct {
	Network        string // required: e.g. "arbitrum", "optimism", "base"
	RPCURLOverride string
	Testnet        bool
}

// RPCConfig configures the multi-endpoint transport (C1).
type RPCConfig struct {
	PremiumEnabled              bool
	PremiumPercentage           int // 0-100
	AlchemyAPIKey               string
	QuicknodeEndpoint           string
	AlchemyRateLimitPerSecond   int
	QuicknodeRateLimitPerSecond int
	PublicRateLimitPerSecond    int
	FailureThreshold            int
	RecoveryTimeout             time.Duration
	ReadTimeout                 time.Duration
}

// WalletConfig configures the local signing wallet (C3).
type WalletConfig struct {
	Mnemonic       string // required, secret
	UseLocalWallet bool
	DryRunMode     bool
}

// GasConfig configures EIP-1559 fee policy.
type GasConfig struct {
	MaxGasPriceGwei    float64
	MaxPriorityFeeGwei float64
}

// LimitsConfig configures spending/approval limits.
type LimitsConfig struct {
	MaxTransactionValueUSD float64
	DailySpendingLimitUSD  float64
	ApprovalThresholdUSD   float64
	ApprovalTimeout        time.Duration
	ConfirmationTimeout    time.Duration
	Confirmations          uint64
	WaitForConfirmation    bool
}

// ProfitabilityConfig configures the 4-gate profitability engine (C6).
type ProfitabilityConfig struct {
	MinAPYImprovementPP  float64
	MinAnnualGainUSD     float64
	MaxBreakEvenDays     int
	MaxCostPct           float64
	MinRebalanceAmountUSD float64
}

// RiskConfig configures the 7-factor risk engine (C7).
type RiskConfig struct {
	MaxConcentrationPct       float64
	LargePositionThresholdUSD float64
	RiskTolerance             string // low|medium|high
	AllowHighRisk             bool
	DiversificationTargetK    int
	PerProtocolCapPct         float64
}

// OracleConfig configures the price oracle (C2).
type OracleConfig struct {
	ChainlinkEnabled        bool
	ChainlinkPriceNetwork   string
	ChainlinkCacheTTL       time.Duration
	ChainlinkMaxStaleness   time.Duration
	ChainlinkFallbackToMock bool
}

// ScannerConfig configures the yield scanner (C5).
type ScannerConfig struct {
	MinTVLUSD float64
}

// SchedulerConfig configures the orchestrator loop (C10).
type SchedulerConfig struct {
	ScanIntervalSeconds  int
	MinDeployableUSD     float64
	MaxRebalancesPerTick int
}

// ObservabilityConfig configures logging/tracing/metrics.
type ObservabilityConfig struct {
	ServiceName      string
	ServiceVersion   string
	LogLevel         string
	LogFormat        string
	JaegerEndpoint   string
	TracingEnabled   bool
	MetricsEnabled   bool
	MetricsPort      int
	HealthPort       int
}

// DatabaseConfig configures the Postgres-backed store (C11).
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis-backed price cache and usage tracker.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Network: NetworkConfig{
			Network:        getEnv("NETWORK", ""),
			RPCURLOverride: getEnv("RPC_URL", ""),
			Testnet:        getBoolEnv("TESTNET", false),
		},
		RPC: RPCConfig{
			PremiumEnabled:              getBoolEnv("PREMIUM_RPC_ENABLED", false),
			PremiumPercentage:           getIntEnv("PREMIUM_RPC_PERCENTAGE", 0),
			AlchemyAPIKey:               getEnv("ALCHEMY_API_KEY", ""),
			QuicknodeEndpoint:           getEnv("QUICKNODE_ENDPOINT", ""),
			AlchemyRateLimitPerSecond:   getIntEnv("ALCHEMY_RATE_LIMIT_PER_SECOND", 25),
			QuicknodeRateLimitPerSecond: getIntEnv("QUICKNODE_RATE_LIMIT_PER_SECOND", 25),
			PublicRateLimitPerSecond:    getIntEnv("PUBLIC_RATE_LIMIT_PER_SECOND", 5),
			FailureThreshold:            getIntEnv("RPC_FAILURE_THRESHOLD", 3),
			RecoveryTimeout:             getDurationEnv("RPC_RECOVERY_TIMEOUT", 60*time.Second),
			ReadTimeout:                 getDurationEnv("RPC_READ_TIMEOUT", 10*time.Second),
		},
		Wallet: WalletConfig{
			Mnemonic:       getEnv("WALLET_MNEMONIC", ""),
			UseLocalWallet: getBoolEnv("USE_LOCAL_WALLET", true),
			DryRunMode:     getBoolEnv("DRY_RUN_MODE", false),
		},
		Gas: GasConfig{
			MaxGasPriceGwei:    getFloatEnv("MAX_GAS_PRICE_GWEI", 100),
			MaxPriorityFeeGwei: getFloatEnv("MAX_PRIORITY_FEE_GWEI", 1.5),
		},
		Limits: LimitsConfig{
			MaxTransactionValueUSD: getFloatEnv("MAX_TRANSACTION_VALUE_USD", 5000),
			DailySpendingLimitUSD:  getFloatEnv("DAILY_SPENDING_LIMIT_USD", 20000),
			ApprovalThresholdUSD:   getFloatEnv("APPROVAL_THRESHOLD_USD", 2000),
			ApprovalTimeout:        getDurationEnv("APPROVAL_TIMEOUT", time.Hour),
			ConfirmationTimeout:    getDurationEnv("CONFIRMATION_TIMEOUT", 5*time.Minute),
			Confirmations:          uint64(getIntEnv("CONFIRMATIONS", 1)),
			WaitForConfirmation:    getBoolEnv("WAIT_FOR_CONFIRMATION", true),
		},
		Profit: ProfitabilityConfig{
			MinAPYImprovementPP:   getFloatEnv("MIN_APY_IMPROVEMENT_PP", 0.5),
			MinAnnualGainUSD:      getFloatEnv("MIN_ANNUAL_GAIN_USD", 10),
			MaxBreakEvenDays:      getIntEnv("MAX_BREAK_EVEN_DAYS", 30),
			MaxCostPct:            getFloatEnv("MAX_COST_PCT", 0.01),
			MinRebalanceAmountUSD: getFloatEnv("MIN_REBALANCE_AMOUNT_USD", 50),
		},
		Risk: RiskConfig{
			MaxConcentrationPct:       getFloatEnv("MAX_CONCENTRATION_PCT", 0.4),
			LargePositionThresholdUSD: getFloatEnv("LARGE_POSITION_THRESHOLD_USD", 50000),
			RiskTolerance:             getEnv("RISK_TOLERANCE", "medium"),
			AllowHighRisk:             getBoolEnv("ALLOW_HIGH_RISK", false),
			DiversificationTargetK:    getIntEnv("DIVERSIFICATION_TARGET_K", 3),
			PerProtocolCapPct:         getFloatEnv("PER_PROTOCOL_CAP_PCT", 0.4),
		},
		Oracle: OracleConfig{
			ChainlinkEnabled:        getBoolEnv("CHAINLINK_ENABLED", true),
			ChainlinkPriceNetwork:   getEnv("CHAINLINK_PRICE_NETWORK", "ethereum"),
			ChainlinkCacheTTL:       getDurationEnv("CHAINLINK_CACHE_TTL_SECONDS", 300*time.Second),
			ChainlinkMaxStaleness:   getDurationEnv("CHAINLINK_MAX_STALENESS_SECONDS", 3600*time.Second),
			ChainlinkFallbackToMock: getBoolEnv("CHAINLINK_FALLBACK_TO_MOCK", true),
		},
		Scanner: ScannerConfig{
			MinTVLUSD: getFloatEnv("MIN_TVL_USD", 100000),
		},
		Scheduler: SchedulerConfig{
			ScanIntervalSeconds:  getIntEnv("SCAN_INTERVAL_SECONDS", 300),
			MinDeployableUSD:     getFloatEnv("MIN_DEPLOYABLE_USD", 50),
			MaxRebalancesPerTick: getIntEnv("MAX_REBALANCES_PER_TICK", 1),
		},
		Observability: ObservabilityConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "mammon"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
			TracingEnabled: getBoolEnv("TRACING_ENABLED", false),
			MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
			MetricsPort:    getIntEnv("METRICS_PORT", 9090),
			HealthPort:     getIntEnv("HEALTH_PORT", 8080),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", "postgres://localhost:5432/mammon?sslmode=disable"),
			MaxOpenConns:    getIntEnv("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Cache: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Network.Network == "" {
		return fmt.Errorf("NETWORK is required")
	}
	if c.Wallet.UseLocalWallet && c.Wallet.Mnemonic == "" && !c.Wallet.DryRunMode {
		return fmt.Errorf("WALLET_MNEMONIC is required when USE_LOCAL_WALLET is set and not in dry-run mode")
	}
	if c.RPC.PremiumPercentage < 0 || c.RPC.PremiumPercentage > 100 {
		return fmt.Errorf("PREMIUM_RPC_PERCENTAGE must be between 0 and 100")
	}
	return nil
}

// Redacted returns a copy of the config safe to log: secrets are blanked.
func (c Config) Redacted() Config {
	c.Wallet.Mnemonic = redactIfSet(c.Wallet.Mnemonic)
	c.RPC.AlchemyAPIKey = redactIfSet(c.RPC.AlchemyAPIKey)
	c.RPC.QuicknodeEndpoint = redactIfSet(c.RPC.QuicknodeEndpoint)
	return c
}

func redactIfSet(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Helper functions for environment variable parsing, in the teacher's style.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
