package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. Records and notifications
// are stored as JSONB documents keyed by payment id, mirroring the file
// layout so either backend can be restored from the other.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error during initialization cleanup is not actionable and
		// would only obscure the original connection failure.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB creates a store over an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

// createTables creates the necessary tables if they don't exist.
func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS payment_records (
			payment_id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payment_notifications (
			payment_id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS business_wallets (
			business_id TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_payment_records_business
			ON payment_records (business_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_payment_records_status
			ON payment_records (status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Create persists a new record, failing with ErrConflict on duplicate ids.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_records (payment_id, business_id, kind, status, record, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.PaymentID, rec.BusinessID, string(rec.Kind), string(rec.Status), payload, rec.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get returns the record for a payment id.
func (s *PostgresStore) Get(ctx context.Context, paymentID string) (Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM payment_records WHERE payment_id = $1`, paymentID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record %s: %w", paymentID, err)
	}
	return rec, nil
}

// Update applies the mutator inside a transaction with a row lock, giving
// the same single-writer guarantee the file store gets from its mutex.
func (s *PostgresStore) Update(ctx context.Context, paymentID string, fn Mutator) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM payment_records WHERE payment_id = $1 FOR UPDATE`, paymentID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select for update: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record %s: %w", paymentID, err)
	}

	before := rec.Status
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	if !CanTransition(before, rec.Status) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, before, rec.Status)
	}

	updated, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_records SET status = $2, record = $3 WHERE payment_id = $1`,
		paymentID, string(rec.Status), updated,
	); err != nil {
		return Record{}, fmt.Errorf("update record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// List returns records matching the filter, newest first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT record FROM payment_records WHERE 1=1`
	args := []any{}

	if f.BusinessID != "" {
		args = append(args, f.BusinessID)
		query += fmt.Sprintf(" AND business_id = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EnqueueNotification upserts a confirmation keyed by payment id.
func (s *PostgresStore) EnqueueNotification(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_notifications (payment_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (payment_id) DO UPDATE SET payload = EXCLUDED.payload`,
		n.PaymentID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// DrainNotifications deletes and returns all pending notifications in one
// statement, so concurrent drains never deliver a notification twice.
func (s *PostgresStore) DrainNotifications(ctx context.Context) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM payment_notifications RETURNING payload`)
	if err != nil {
		return nil, fmt.Errorf("drain notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		var n Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SaveWallet upserts an encrypted business wallet keystore entry.
func (s *PostgresStore) SaveWallet(ctx context.Context, w WalletRecord) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO business_wallets (business_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (business_id) DO UPDATE SET payload = EXCLUDED.payload`,
		w.BusinessID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// LoadWallet returns the keystore entry for a business.
func (s *PostgresStore) LoadWallet(ctx context.Context, businessID string) (WalletRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM business_wallets WHERE business_id = $1`, businessID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return WalletRecord{}, ErrNotFound
	}
	if err != nil {
		return WalletRecord{}, fmt.Errorf("select wallet: %w", err)
	}

	var w WalletRecord
	if err := json.Unmarshal(payload, &w); err != nil {
		return WalletRecord{}, fmt.Errorf("unmarshal wallet: %w", err)
	}
	return w, nil
}

// Close closes the database connection when this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
