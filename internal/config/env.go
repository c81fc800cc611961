package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use RAILCLAW_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "RAILCLAW_SERVER_ADDRESS")

	// Logging config
	setIfEnv(&c.Logging.Level, "RAILCLAW_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "RAILCLAW_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "RAILCLAW_ENVIRONMENT")

	// Policy + storage
	setIfEnv(&c.Policy.Path, "RAILCLAW_POLICY_PATH")
	setIfEnv(&c.Storage.Backend, "RAILCLAW_STORAGE_BACKEND")
	setIfEnv(&c.Storage.DataDir, "RAILCLAW_DATA_DIR")
	setIfEnv(&c.Storage.PostgresURL, "RAILCLAW_POSTGRES_URL")

	// RPC endpoints (RAILCLAW_RPC_POLYGON=https://..., RAILCLAW_RPC_WS_POLYGON=wss://...)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		switch {
		case strings.HasPrefix(parts[0], "RAILCLAW_RPC_WS_"):
			chain := strings.ToLower(strings.TrimPrefix(parts[0], "RAILCLAW_RPC_WS_"))
			rpc := c.RPC[chain]
			rpc.WSURL = parts[1]
			c.RPC[chain] = rpc
		case strings.HasPrefix(parts[0], "RAILCLAW_RPC_"):
			chain := strings.ToLower(strings.TrimPrefix(parts[0], "RAILCLAW_RPC_"))
			rpc := c.RPC[chain]
			rpc.URL = parts[1]
			c.RPC[chain] = rpc
		}
	}

	// Bridge config
	if v := os.Getenv("RAILCLAW_BRIDGE_RELAY_FEE_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Bridge.EstimatedRelayFeePct = f
		}
	}
	if v := os.Getenv("RAILCLAW_BRIDGE_MIN_FEE_BUFFER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Bridge.MinRelayFeeBuffer = f
		}
	}
	setDurationIfEnv(&c.Bridge.FillDeadlineOffset, "RAILCLAW_BRIDGE_FILL_DEADLINE_OFFSET")

	// Monitoring config
	setDurationIfEnv(&c.Monitoring.PollInterval, "RAILCLAW_MONITORING_POLL_INTERVAL")
	setDurationIfEnv(&c.Monitoring.DirectTimeout, "RAILCLAW_MONITORING_DIRECT_TIMEOUT")
	setDurationIfEnv(&c.Monitoring.BridgeTimeout, "RAILCLAW_MONITORING_BRIDGE_TIMEOUT")
	if v := os.Getenv("RAILCLAW_MONITORING_REQUIRED_CONFIRMATIONS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Monitoring.RequiredConfirmations = n
		}
	}

	// Secrets are env-only in most deployments
	setIfEnv(&c.Encryption.WalletKey, "RAILCLAW_ENCRYPTION_WALLET_KEY")
	setIfEnv(&c.Sol.DispenserKey, "RAILCLAW_SOL_DISPENSER_KEY")
	if v := os.Getenv("RAILCLAW_SOL_FUND_AMOUNT_LAMPORTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Sol.FundAmountLamports = n
		}
	}

	// Payment config
	setIfEnv(&c.Payment.BaseURL, "RAILCLAW_PAYMENT_BASE_URL")
	setIfEnv(&c.Payment.IDPrefix, "RAILCLAW_PAYMENT_ID_PREFIX")
	if v := os.Getenv("RAILCLAW_PAYMENT_DEFAULT_EXPIRY_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Payment.DefaultExpiryHours = n
		}
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
