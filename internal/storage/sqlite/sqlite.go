// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath, creating parent directories, and runs
// migrations.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := filepath.Clean(dbPath) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// Commit writes every part of b in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, b storage.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	for _, evt := range b.Events {
		if err := insertEvent(ctx, tx, evt); err != nil {
			return err
		}
	}
	if b.Group != nil {
		if err := upsertGroup(ctx, tx, b.Group); err != nil {
			return err
		}
	}
	for _, m := range b.Memberships {
		if err := upsertMembership(ctx, tx, m); err != nil {
			return err
		}
	}
	for _, a := range b.Activities {
		if err := insertActivity(ctx, tx, a); err != nil {
			return err
		}
	}
	if b.Watermark != nil {
		if err := upsertWatermark(ctx, tx, *b.Watermark); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, evt storage.LedgerEvent) error {
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", evt.Kind, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_events (kind, expense_id, request_id, payload, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(evt.Kind), nullString(evt.ExpenseID()), nullString(evt.RequestID), string(payload), evt.RecordedAt.UnixNano(),
	)
	if isConstraintError(err) && evt.RequestID != "" {
		return fmt.Errorf("request %s: %w", evt.RequestID, storage.ErrDuplicateRequest)
	}
	if err != nil {
		return classify(fmt.Errorf("failed to insert %s event: %w", evt.Kind, err))
	}
	return nil
}

// EventByRequestID returns the ledger event recorded for requestID.
func (s *SQLiteStore) EventByRequestID(ctx context.Context, requestID string) (*storage.LedgerEvent, error) {
	var (
		seq     int64
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT seq, payload FROM ledger_events WHERE request_id = ?",
		requestID,
	).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get event: %w", err))
	}
	evt, err := decodeEvent(seq, payload)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// Events returns the ledger log in commit order.
func (s *SQLiteStore) Events(ctx context.Context) ([]storage.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT seq, payload FROM ledger_events ORDER BY seq")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list events: %w", err))
	}
	defer rows.Close()

	var events []storage.LedgerEvent
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt, err := decodeEvent(seq, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate events: %w", err))
	}
	return events, nil
}

func decodeEvent(seq int64, payload string) (storage.LedgerEvent, error) {
	var evt storage.LedgerEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return storage.LedgerEvent{}, models.Consistencyf("event %d has an unreadable payload: %v", seq, err)
	}
	evt.Seq = seq
	return evt, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// classify marks lock contention as transient so callers can retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isBusyError(err) {
		return models.Transient(err)
	}
	return err
}

func isBusyError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
