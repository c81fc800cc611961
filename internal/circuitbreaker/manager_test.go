package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/config"
)

func testConfig(enabled bool) config.CircuitBreakerConfig {
	svc := config.BreakerServiceConfig{
		MaxRequests:         1,
		Interval:            config.Duration{Duration: time.Minute},
		Timeout:             config.Duration{Duration: time.Minute},
		ConsecutiveFailures: 3,
	}
	return config.CircuitBreakerConfig{Enabled: enabled, EVMRPC: svc, SolanaRPC: svc}
}

func TestExecutePassThroughWhenDisabled(t *testing.T) {
	m := NewManagerFromConfig(testConfig(false), zerolog.Nop())

	got, err := m.Execute(ServiceEVMRPC, func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Execute = %v, %v", got, err)
	}
	if m.State(ServiceEVMRPC) != "disabled" {
		t.Errorf("State = %q", m.State(ServiceEVMRPC))
	}
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	m := NewManagerFromConfig(testConfig(true), zerolog.Nop())
	boom := errors.New("connection refused")

	for range 3 {
		_, _ = m.Execute(ServiceEVMRPC, func() (interface{}, error) {
			return nil, boom
		})
	}
	if m.State(ServiceEVMRPC) != "open" {
		t.Fatalf("state after 3 failures = %q, want open", m.State(ServiceEVMRPC))
	}

	// Open breaker fails fast without invoking the call.
	called := false
	_, err := m.Execute(ServiceEVMRPC, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err == nil || called {
		t.Errorf("open breaker let the call through: err=%v called=%v", err, called)
	}

	// Services are isolated bulkheads.
	if m.State(ServiceSolanaRPC) != "closed" {
		t.Errorf("solana breaker = %q, want closed", m.State(ServiceSolanaRPC))
	}
}

func TestCounts(t *testing.T) {
	m := NewManagerFromConfig(testConfig(true), zerolog.Nop())

	_, _ = m.Execute(ServiceSolanaRPC, func() (interface{}, error) { return nil, nil })
	_, _ = m.Execute(ServiceSolanaRPC, func() (interface{}, error) { return nil, errors.New("timeout") })

	c := m.Counts(ServiceSolanaRPC)
	if c.Requests != 2 || c.TotalSuccesses != 1 || c.TotalFailures != 1 {
		t.Errorf("counts = %+v", c)
	}
}
