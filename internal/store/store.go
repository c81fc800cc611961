// Package store persists payment records, the notifications queue, and the
// business wallet keystore. Two backends share one contract: a file store
// over a shared data root (the default) and a PostgreSQL store.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the payment record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict indicates a create collided with an existing payment id.
	ErrConflict = errors.New("store: record already exists")
	// ErrBadTransition indicates an update attempted an illegal status change.
	ErrBadTransition = errors.New("store: illegal status transition")
)

// Mutator transforms a record inside a read-modify-write cycle. Returning an
// error aborts the update without persisting.
type Mutator func(*Record) error

// Store is the payment record store contract. Each payment record has a
// single writer by convention: the monitor that owns it. The store only has
// to make individual writes atomic.
type Store interface {
	// Create persists a new record, failing with ErrConflict on duplicates.
	Create(ctx context.Context, rec Record) error

	// Get returns the record for a payment id.
	Get(ctx context.Context, paymentID string) (Record, error)

	// Update applies a mutator under a per-payment lock and persists the
	// result. Status changes are validated against the transition table.
	Update(ctx context.Context, paymentID string, fn Mutator) (Record, error)

	// List returns records matching the filter, bounded by Filter.Limit.
	List(ctx context.Context, f Filter) ([]Record, error)

	// EnqueueNotification appends a user-facing confirmation.
	EnqueueNotification(ctx context.Context, n Notification) error

	// DrainNotifications returns all pending notifications, deleting as it
	// reads. Single consumer by convention.
	DrainNotifications(ctx context.Context) ([]Notification, error)

	// SaveWallet persists an encrypted business wallet keystore entry.
	SaveWallet(ctx context.Context, w WalletRecord) error

	// LoadWallet returns the keystore entry for a business.
	LoadWallet(ctx context.Context, businessID string) (WalletRecord, error)

	Close() error
}
