package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/dafu-zhu/trading-system-sub000/internal/event"
)

// AuditStore is the append-only order audit trail, backed by SQLite. Records
// are written before downstream processing continues, so a crash cannot lose
// an acknowledged lifecycle transition.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (or creates) the audit database with WAL mode enabled.
func NewAuditStore(dbPath string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for high-throughput sequential appends
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// Metadata table for KV storage (session markers, schema version)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	// Append-only audit log. There is no UPDATE or DELETE path anywhere in
	// this package; corrections are new records.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			order_id INTEGER NOT NULL DEFAULT 0,
			symbol TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_events table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_audit_order ON audit_events(order_id);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create order index: %w", err)
	}

	return &AuditStore{db: db}, nil
}

// SaveEvent appends one event to the audit log.
func (s *AuditStore) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var orderID uint64
	var symbol string
	if oe, ok := ev.(*event.OrderAuditEvent); ok {
		orderID = oe.OrderID
		symbol = oe.Symbol
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit_events (id, type, ts, order_id, symbol, payload) VALUES (?, ?, ?, ?, ?, ?)",
		ev.GetSeq(), ev.GetType(), ev.GetTs(), orderID, symbol, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *AuditStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *AuditStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetLastSeq returns the highest sequence number stored in the audit log.
// Returns 0 if no events exist.
func (s *AuditStore) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM audit_events").Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil // No events yet
	}
	return uint64(lastSeq.Int64), nil
}

// LoadOrderEvents loads order audit records starting from fromSeq
// (inclusive), in append order. Used for post-session reconciliation.
func (s *AuditStore) LoadOrderEvents(ctx context.Context, fromSeq uint64) ([]*event.OrderAuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM audit_events WHERE id >= ? AND type = ? ORDER BY id ASC",
		fromSeq, event.EvOrderAudit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*event.OrderAuditEvent
	for rows.Next() {
		var id int64
		var payload []byte

		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		var ev event.OrderAuditEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", id, err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// OrderHistory returns the full lifecycle of one order, in append order.
func (s *AuditStore) OrderHistory(ctx context.Context, orderID uint64) ([]*event.OrderAuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM audit_events WHERE order_id = ? AND type = ? ORDER BY id ASC",
		orderID, event.EvOrderAudit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	var events []*event.OrderAuditEvent
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev event.OrderAuditEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", id, err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close closes the database connection.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
