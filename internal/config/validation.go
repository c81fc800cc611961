package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// finalize validates the configuration and fills derived defaults.
// Called after YAML parsing and environment overrides.
func (c *Config) finalize() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file backend")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"postgres\", got %q", c.Storage.Backend)
	}

	if c.Encryption.WalletKey != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(c.Encryption.WalletKey, "0x"))
		if err != nil {
			return fmt.Errorf("encryption.wallet_key must be hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption.wallet_key must be 32 bytes, got %d", len(key))
		}
	}

	if c.Bridge.EstimatedRelayFeePct < 0 || c.Bridge.EstimatedRelayFeePct >= 1 {
		return fmt.Errorf("bridge.estimated_relay_fee_pct must be in [0, 1), got %f", c.Bridge.EstimatedRelayFeePct)
	}

	if c.Monitoring.LogChunkBlocks == 0 || c.Monitoring.LogChunkBlocks > 10 {
		// Public RPC providers reject wide eth_getLogs ranges.
		c.Monitoring.LogChunkBlocks = 10
	}
	if c.Monitoring.RequiredConfirmations == 0 {
		c.Monitoring.RequiredConfirmations = 20
	}
	if c.Monitoring.PollInterval.Duration <= 0 {
		return fmt.Errorf("monitoring.poll_interval must be positive")
	}

	// Fill per-chain look-back bounds from the block time class.
	for chain, rpc := range c.RPC {
		if rpc.BlockTimeSeconds <= 0 {
			rpc.BlockTimeSeconds = 2
		}
		if rpc.MaxLookbackBlocks == 0 {
			if rpc.BlockTimeSeconds <= 1 {
				rpc.MaxLookbackBlocks = 1500
			} else {
				rpc.MaxLookbackBlocks = 150
			}
		}
		c.RPC[chain] = rpc
	}

	if c.Payment.IDPrefix == "" {
		c.Payment.IDPrefix = "pay"
	}
	if c.Payment.DefaultExpiryHours <= 0 {
		c.Payment.DefaultExpiryHours = 24
	}

	return nil
}

// WalletKeyBytes returns the decoded sealing key, or nil when not configured.
func (c *Config) WalletKeyBytes() []byte {
	if c.Encryption.WalletKey == "" {
		return nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(c.Encryption.WalletKey, "0x"))
	if err != nil {
		return nil
	}
	return key
}

// TokenFor looks up the token configuration for a chain and symbol.
// Symbol matching is case-insensitive.
func (c *Config) TokenFor(chain, symbol string) (TokenConfig, bool) {
	table, ok := c.Tokens[strings.ToLower(chain)]
	if !ok {
		return TokenConfig{}, false
	}
	for sym, tok := range table {
		if strings.EqualFold(sym, symbol) {
			return tok, true
		}
	}
	return TokenConfig{}, false
}

// SpokePoolFor returns the configured SpokePool address for a chain.
func (c *Config) SpokePoolFor(chain string) (string, bool) {
	addr, ok := c.Bridge.SpokePools[strings.ToLower(chain)]
	return addr, ok
}

// KnownSpokePools returns every configured SpokePool address. The direct
// monitor uses this set to discard bridge fills arriving at a watched wallet.
func (c *Config) KnownSpokePools() []string {
	pools := make([]string, 0, len(c.Bridge.SpokePools))
	for _, addr := range c.Bridge.SpokePools {
		pools = append(pools, addr)
	}
	return pools
}
