package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig               `yaml:"server"`
	Logging        LoggingConfig              `yaml:"logging"`
	Policy         PolicyConfig               `yaml:"policy"`
	Storage        StorageConfig              `yaml:"storage"`
	RPC            map[string]ChainRPC        `yaml:"rpc"`
	Tokens         map[string]TokenTable      `yaml:"tokens"`
	Bridge         BridgeConfig               `yaml:"bridge"`
	Monitoring     MonitoringConfig           `yaml:"monitoring"`
	Encryption     EncryptionConfig           `yaml:"encryption"`
	Payment        PaymentConfig              `yaml:"payment"`
	Sol            SolConfig                  `yaml:"sol"`
	RateLimit      RateLimitConfig            `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig       `yaml:"circuit_breaker"`
}

// TokenTable maps a token symbol to its on-chain configuration for one chain.
type TokenTable map[string]TokenConfig

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// PolicyConfig locates the business policy document.
type PolicyConfig struct {
	Path string `yaml:"path"` // YAML policy document with front-matter
}

// StorageConfig holds payment record storage configuration.
type StorageConfig struct {
	Backend     string `yaml:"backend"`      // "file" (default) or "postgres"
	DataDir     string `yaml:"data_dir"`     // root of the file record store
	PostgresURL string `yaml:"postgres_url"` // PostgreSQL connection string (backend=postgres)
}

// ChainRPC holds per-chain RPC endpoint configuration.
type ChainRPC struct {
	URL              string `yaml:"url"`                // HTTP(S) JSON-RPC endpoint
	WSURL            string `yaml:"ws_url"`             // Optional websocket endpoint for log subscriptions
	BlockTimeSeconds int    `yaml:"block_time_seconds"` // Used to estimate the look-back start block
	MaxLookbackBlocks uint64 `yaml:"max_lookback_blocks"` // Historical scan bound (default: 150, 1500 for sub-second chains)
}

// TokenConfig holds on-chain token identifiers.
// For EVM chains Address is the ERC-20 contract; for Solana it is the mint.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"` // 0 = resolve via on-chain decimals(), fall back to 6
}

// BridgeConfig holds Across protocol bridging configuration.
type BridgeConfig struct {
	SpokePools           map[string]string `yaml:"spoke_pools"`             // chain -> SpokePool address (program id for solana)
	AcrossChainIDs       map[string]uint64 `yaml:"across_chain_ids"`        // chain -> Across chain id
	EstimatedRelayFeePct float64           `yaml:"estimated_relay_fee_pct"` // Relay fee estimate as a fraction (default: 0.006)
	MinRelayFeeBuffer    float64           `yaml:"min_relay_fee_buffer"`    // Floor for the relay fee in token units (default: 0.30)
	FillDeadlineOffset   Duration          `yaml:"fill_deadline_offset"`    // Added to quote timestamp (default: 6h)
	FillLookbackBlocks   uint64            `yaml:"fill_lookback_blocks"`    // Historical fill sweep depth (default: 300)
	ResumeLookbackBlocks uint64            `yaml:"resume_lookback_blocks"`  // Widened sweep depth when resuming stage 3 (default: 2000)
}

// MonitoringConfig holds payment monitor configuration.
type MonitoringConfig struct {
	PollInterval          Duration `yaml:"poll_interval"`          // Balance/confirmation poll cadence (default: 30s)
	RequiredConfirmations uint64   `yaml:"required_confirmations"` // Confirmations before a direct payment is final (default: 20)
	DirectTimeout         Duration `yaml:"direct_timeout"`         // Global deadline for direct monitors (default: 1h)
	BridgeTimeout         Duration `yaml:"bridge_timeout"`         // Global deadline for bridge monitors (default: 2h)
	LogChunkBlocks        uint64   `yaml:"log_chunk_blocks"`       // Max block span per eth_getLogs call (default: 10)
	ChunkDelay            Duration `yaml:"chunk_delay"`            // Sleep between log chunks (default: 100ms)
}

// EncryptionConfig holds the key used to seal per-payment Solana private keys.
type EncryptionConfig struct {
	WalletKey string `yaml:"wallet_key"` // Hex-encoded 32-byte AES key
}

// PaymentConfig holds payment link and identity configuration.
type PaymentConfig struct {
	BaseURL            string `yaml:"base_url"`             // Payment link base, e.g. https://pay.example.com
	IDPrefix           string `yaml:"id_prefix"`            // Payment id prefix (default: "pay")
	DefaultExpiryHours int    `yaml:"default_expiry_hours"` // Record expiry (default: 24)
}

// SolConfig holds Solana side configuration beyond the RPC endpoint.
type SolConfig struct {
	DispenserKey       string `yaml:"dispenser_key"`        // Optional funder for temp wallets (base58 or JSON array)
	FundAmountLamports uint64 `yaml:"fund_amount_lamports"` // Lamports transferred to each temp wallet (default: 2000000)
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"` // Enable per-IP request limiting (default: true)
	Limit   int      `yaml:"limit"`   // Requests allowed per window (default: 120)
	Window  Duration `yaml:"window"`  // Time window (default: 1m)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when RPC providers are degraded.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`    // Enable circuit breakers (default: true)
	EVMRPC    BreakerServiceConfig `yaml:"evm_rpc"`    // EVM JSON-RPC circuit breaker
	SolanaRPC BreakerServiceConfig `yaml:"solana_rpc"` // Solana RPC circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
