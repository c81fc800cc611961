package rpcutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryEventualSuccess(t *testing.T) {
	calls := 0
	got, err := WithRetryCustom(context.Background(), retryConfig{maxRetries: 3, baseDelay: time.Millisecond},
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("connection refused")
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls", got, calls)
	}
}

func TestWithRetryPermanentError(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "", errors.New("execution reverted")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent errors must not retry, got %d calls", calls)
	}
}

func TestWithRetryExhaustion(t *testing.T) {
	calls := 0
	_, err := WithRetryCustom(context.Background(), retryConfig{maxRetries: 2, baseDelay: time.Millisecond},
		func() (int, error) {
			calls++
			return 0, errors.New("503 service unavailable")
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestWithRetryContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := WithRetry(ctx, func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancellation", calls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("read tcp: i/o timeout"), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("header not found"), true},
		{errors.New("execution reverted"), false},
		{errors.New("insufficient funds"), false},
		{errors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
