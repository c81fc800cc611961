package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Directory layout under the data root. The layout is a persisted interface
// shared with operational tooling; do not rename.
const (
	pendingDir       = "pending"
	notificationsDir = "notifications"
	walletsDir       = "wallets"
)

// FileStore implements Store with one JSON file per payment under a shared
// data root. Writes go through a temp file and an atomic rename so a crashed
// writer never leaves a torn record behind.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-payment update locks

	notifyMu sync.Mutex // serializes notification enqueue/drain
}

// NewFileStore creates a file-backed store rooted at dataDir, creating the
// directory layout if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	for _, dir := range []string{pendingDir, notificationsDir, walletsDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}

	return &FileStore{
		root:  dataDir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// paymentLock returns the mutex guarding one payment's read-modify-write.
func (s *FileStore) paymentLock(paymentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[paymentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[paymentID] = lock
	}
	return lock
}

func (s *FileStore) recordPath(paymentID string) string {
	return filepath.Join(s.root, pendingDir, paymentID+".json")
}

// Create persists a new record, failing with ErrConflict if the payment id
// is already taken.
func (s *FileStore) Create(_ context.Context, rec Record) error {
	lock := s.paymentLock(rec.PaymentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.recordPath(rec.PaymentID)
	if _, err := os.Stat(path); err == nil {
		return ErrConflict
	}

	return writeJSONAtomic(path, rec, 0644)
}

// Get returns the record for a payment id.
func (s *FileStore) Get(_ context.Context, paymentID string) (Record, error) {
	return s.read(paymentID)
}

func (s *FileStore) read(paymentID string) (Record, error) {
	data, err := os.ReadFile(s.recordPath(paymentID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record %s: %w", paymentID, err)
	}
	return rec, nil
}

// Update applies the mutator under the per-payment lock and persists the
// result atomically. Status changes are checked against the transition table.
func (s *FileStore) Update(_ context.Context, paymentID string, fn Mutator) (Record, error) {
	lock := s.paymentLock(paymentID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.read(paymentID)
	if err != nil {
		return Record{}, err
	}

	before := rec.Status
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	if !CanTransition(before, rec.Status) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, before, rec.Status)
	}

	if err := writeJSONAtomic(s.recordPath(paymentID), rec, 0644); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List scans the pending directory and returns records matching the filter.
// Results are ordered by creation time, newest first.
func (s *FileStore) List(_ context.Context, f Filter) ([]Record, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, pendingDir))
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// A record being renamed into place can briefly vanish.
			continue
		}
		if f.Matches(rec) {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

// EnqueueNotification writes a confirmation under notifications/, keyed by
// payment id.
func (s *FileStore) EnqueueNotification(_ context.Context, n Notification) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	path := filepath.Join(s.root, notificationsDir, n.PaymentID+".json")
	return writeJSONAtomic(path, n, 0644)
}

// DrainNotifications reads every pending notification and deletes as it reads.
func (s *FileStore) DrainNotifications(_ context.Context) ([]Notification, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	dir := filepath.Join(s.root, notificationsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}

	var out []Notification
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			// Unreadable notifications are dropped rather than wedging the queue.
			_ = os.Remove(path)
			continue
		}

		out = append(out, n)
		_ = os.Remove(path)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConfirmedAt.Before(out[j].ConfirmedAt)
	})
	return out, nil
}

// SaveWallet persists an encrypted business wallet keystore entry with 0600
// permissions.
func (s *FileStore) SaveWallet(_ context.Context, w WalletRecord) error {
	path := filepath.Join(s.root, walletsDir, w.BusinessID+".enc.json")
	return writeJSONAtomic(path, w, 0600)
}

// LoadWallet returns the keystore entry for a business.
func (s *FileStore) LoadWallet(_ context.Context, businessID string) (WalletRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.root, walletsDir, businessID+".enc.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return WalletRecord{}, ErrNotFound
		}
		return WalletRecord{}, fmt.Errorf("read wallet: %w", err)
	}

	var w WalletRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return WalletRecord{}, fmt.Errorf("unmarshal wallet: %w", err)
	}
	return w, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// writeJSONAtomic marshals v and writes it via temp file + rename.
func writeJSONAtomic(path string, v any, mode os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	_ = os.Chmod(path, mode)

	return nil
}
