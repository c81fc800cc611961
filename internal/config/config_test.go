package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Monitoring.RequiredConfirmations != 20 {
		t.Errorf("confirmations = %d", cfg.Monitoring.RequiredConfirmations)
	}
	if cfg.Monitoring.LogChunkBlocks != 10 {
		t.Errorf("chunk blocks = %d", cfg.Monitoring.LogChunkBlocks)
	}
	if cfg.Bridge.EstimatedRelayFeePct != 0.006 || cfg.Bridge.MinRelayFeeBuffer != 0.30 {
		t.Errorf("bridge fees = %+v", cfg.Bridge)
	}
	if cfg.Monitoring.DirectTimeout.Duration != time.Hour {
		t.Errorf("direct timeout = %v", cfg.Monitoring.DirectTimeout.Duration)
	}
	if cfg.Monitoring.BridgeTimeout.Duration != 2*time.Hour {
		t.Errorf("bridge timeout = %v", cfg.Monitoring.BridgeTimeout.Duration)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  read_timeout: 5s
logging:
  level: debug
  format: console
storage:
  backend: file
  data_dir: /tmp/railclaw-test
rpc:
  polygon:
    url: https://polygon-rpc.example.com
    ws_url: wss://polygon-rpc.example.com
    block_time_seconds: 2
  arbitrum:
    url: https://arb-rpc.example.com
    block_time_seconds: 1
tokens:
  polygon:
    USDC:
      address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
      decimals: 6
monitoring:
  poll_interval: 10s
  log_chunk_blocks: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout.Duration != 5*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout.Duration)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Monitoring.PollInterval.Duration != 10*time.Second {
		t.Errorf("poll interval = %v", cfg.Monitoring.PollInterval.Duration)
	}
	if cfg.Monitoring.LogChunkBlocks != 5 {
		t.Errorf("chunk blocks = %d", cfg.Monitoring.LogChunkBlocks)
	}

	// Look-back bounds derive from the block time class.
	if got := cfg.RPC["polygon"].MaxLookbackBlocks; got != 150 {
		t.Errorf("polygon lookback = %d, want 150", got)
	}
	if got := cfg.RPC["arbitrum"].MaxLookbackBlocks; got != 1500 {
		t.Errorf("arbitrum lookback = %d, want 1500", got)
	}

	tok, ok := cfg.TokenFor("polygon", "usdc")
	if !ok || tok.Decimals != 6 {
		t.Errorf("TokenFor(polygon, usdc) = %+v, %v", tok, ok)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAILCLAW_SERVER_ADDRESS", ":7070")
	t.Setenv("RAILCLAW_LOG_LEVEL", "warn")
	t.Setenv("RAILCLAW_RPC_BASE", "https://base-rpc.example.com")
	t.Setenv("RAILCLAW_RPC_WS_BASE", "wss://base-rpc.example.com")
	t.Setenv("RAILCLAW_MONITORING_POLL_INTERVAL", "7s")
	t.Setenv("RAILCLAW_BRIDGE_RELAY_FEE_PCT", "0.01")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":7070" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.RPC["base"].URL != "https://base-rpc.example.com" {
		t.Errorf("rpc url = %q", cfg.RPC["base"].URL)
	}
	if cfg.RPC["base"].WSURL != "wss://base-rpc.example.com" {
		t.Errorf("rpc ws url = %q", cfg.RPC["base"].WSURL)
	}
	if cfg.Monitoring.PollInterval.Duration != 7*time.Second {
		t.Errorf("poll interval = %v", cfg.Monitoring.PollInterval.Duration)
	}
	if cfg.Bridge.EstimatedRelayFeePct != 0.01 {
		t.Errorf("relay fee pct = %f", cfg.Bridge.EstimatedRelayFeePct)
	}
}

func TestFinalizeRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown backend",
			body: "storage:\n  backend: redis\n",
			want: "storage.backend",
		},
		{
			name: "postgres without url",
			body: "storage:\n  backend: postgres\n",
			want: "postgres_url",
		},
		{
			name: "short wallet key",
			body: "encryption:\n  wallet_key: \"deadbeef\"\n",
			want: "32 bytes",
		},
		{
			name: "non-hex wallet key",
			body: "encryption:\n  wallet_key: \"not-hex\"\n",
			want: "must be hex",
		},
		{
			name: "relay fee out of range",
			body: "bridge:\n  estimated_relay_fee_pct: 1.5\n",
			want: "estimated_relay_fee_pct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestChunkBlocksClamped(t *testing.T) {
	cfg, err := Load(writeConfig(t, "monitoring:\n  log_chunk_blocks: 500\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitoring.LogChunkBlocks != 10 {
		t.Errorf("chunk blocks = %d, want clamped to 10", cfg.Monitoring.LogChunkBlocks)
	}
}

func TestWalletKeyBytes(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	cfg, err := Load(writeConfig(t, "encryption:\n  wallet_key: \""+hex.EncodeToString(key)+"\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.WalletKeyBytes()
	if len(got) != 32 || got[1] != 1 || got[31] != 31 {
		t.Errorf("WalletKeyBytes = %x", got)
	}

	empty := &Config{}
	if empty.WalletKeyBytes() != nil {
		t.Error("empty key should yield nil")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"45", 45 * time.Second}, // bare numbers are seconds
		{"100ms", 100 * time.Millisecond},
	}

	for _, tt := range tests {
		cfg, err := Load(writeConfig(t, "monitoring:\n  poll_interval: "+tt.raw+"\n"))
		if err != nil {
			t.Fatalf("Load(%q): %v", tt.raw, err)
		}
		if cfg.Monitoring.PollInterval.Duration != tt.want {
			t.Errorf("poll_interval %q = %v, want %v", tt.raw, cfg.Monitoring.PollInterval.Duration, tt.want)
		}
	}

	if _, err := Load(writeConfig(t, "monitoring:\n  poll_interval: soon\n")); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestKnownSpokePools(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
bridge:
  spoke_pools:
    polygon: "0x9295ee1d8C5b022Be115A2AD3c30C72E34e7F096"
    arbitrum: "0xe35e9842fceaCA96570B734083f4a58e8F7C5f2A"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	pools := cfg.KnownSpokePools()
	if len(pools) != 2 {
		t.Fatalf("pools = %v", pools)
	}
	if _, ok := cfg.SpokePoolFor("POLYGON"); !ok {
		t.Error("SpokePoolFor should be case-insensitive on chain")
	}
}
