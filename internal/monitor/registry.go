// Package monitor runs the long-lived payment watchers: the direct EVM
// transfer monitor and the three-stage bridge pipeline monitor. Monitors are
// detached from the request that spawned them; their only outputs are the
// payment record's terminal status and, on success, a notification.
package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning indicates a monitor for the payment id already exists.
// At most one monitor per payment may run at any moment; record updates rely
// on this for single-writer semantics.
var ErrAlreadyRunning = errors.New("monitor: already running for payment")

// Registry tracks running monitors and enforces the one-per-payment rule.
type Registry struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewRegistry creates a monitor registry. The registry owns the lifetime of
// every monitor it spawns; Close cancels and waits for all of them.
func NewRegistry(logger zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		running: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Spawn starts run in its own goroutine, registered under the payment id.
// Returns ErrAlreadyRunning without starting anything when a monitor for the
// payment already exists.
func (r *Registry) Spawn(paymentID string, run func(ctx context.Context)) error {
	r.mu.Lock()
	if _, exists := r.running[paymentID]; exists {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return r.ctx.Err()
	}
	r.running[paymentID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, paymentID)
			r.mu.Unlock()
			r.wg.Done()
		}()
		run(r.ctx)
	}()

	return nil
}

// Running reports whether a monitor exists for the payment id.
func (r *Registry) Running(paymentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[paymentID]
	return ok
}

// Count returns the number of live monitors.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Close cancels every monitor and waits for them to exit.
func (r *Registry) Close() error {
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("monitor.registry_closed")
	return nil
}

// interrupted reports whether a monitor context ended by parent cancellation
// (registry shutdown) rather than by the monitor's own deadline. An
// interrupted monitor exits without touching its record; the payment is still
// live and the next boot resumes it.
func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded)
}
