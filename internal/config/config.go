package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Policy: PolicyConfig{
			Path: "./data/policy.yaml",
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: "./data",
		},
		RPC:    map[string]ChainRPC{},
		Tokens: map[string]TokenTable{},
		Bridge: BridgeConfig{
			SpokePools:           map[string]string{},
			AcrossChainIDs:       map[string]uint64{},
			EstimatedRelayFeePct: 0.006,
			MinRelayFeeBuffer:    0.30,
			FillDeadlineOffset:   Duration{Duration: 6 * time.Hour},
			FillLookbackBlocks:   300,
			ResumeLookbackBlocks: 2000,
		},
		Monitoring: MonitoringConfig{
			PollInterval:          Duration{Duration: 30 * time.Second},
			RequiredConfirmations: 20,
			DirectTimeout:         Duration{Duration: time.Hour},
			BridgeTimeout:         Duration{Duration: 2 * time.Hour},
			LogChunkBlocks:        10,
			ChunkDelay:            Duration{Duration: 100 * time.Millisecond},
		},
		Payment: PaymentConfig{
			BaseURL:            "http://localhost:8080",
			IDPrefix:           "pay",
			DefaultExpiryHours: 24,
		},
		Sol: SolConfig{
			FundAmountLamports: 2_000_000,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   120,
			Window:  Duration{Duration: time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			EVMRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			SolanaRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
