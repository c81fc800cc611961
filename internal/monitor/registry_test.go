package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSpawnEnforcesOnePerPayment(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	defer r.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	if err := r.Spawn("pay_1", func(ctx context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	<-started

	if err := r.Spawn("pay_1", func(ctx context.Context) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Spawn: got %v, want ErrAlreadyRunning", err)
	}
	if !r.Running("pay_1") {
		t.Error("Running(pay_1) = false while monitor active")
	}

	// A different payment id is unaffected.
	if err := r.Spawn("pay_2", func(ctx context.Context) {}); err != nil {
		t.Errorf("Spawn pay_2: %v", err)
	}

	close(release)

	// The slot frees once the monitor exits.
	deadline := time.After(2 * time.Second)
	for r.Running("pay_1") {
		select {
		case <-deadline:
			t.Fatal("pay_1 still registered after exit")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := r.Spawn("pay_1", func(ctx context.Context) {}); err != nil {
		t.Errorf("respawn after exit: %v", err)
	}
}

func TestCloseCancelsAndWaits(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var finished atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Spawn(id, func(ctx context.Context) {
			<-ctx.Done()
			finished.Add(1)
		}); err != nil {
			t.Fatalf("Spawn %s: %v", id, err)
		}
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := finished.Load(); got != 3 {
		t.Errorf("finished monitors = %d, want 3", got)
	}
	if r.Count() != 0 {
		t.Errorf("Count after Close = %d", r.Count())
	}

	// Spawning after Close is rejected.
	if err := r.Spawn("d", func(ctx context.Context) {}); err == nil {
		t.Error("Spawn after Close succeeded")
	}
}
