package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/models"
)

var (
	_ idempotency.Store           = (*SQLiteStore)(nil)
	_ idempotency.PendingReleaser = (*SQLiteStore)(nil)
)

// Claim reserves key until lease elapses. Expired keys are reclaimed.
func (s *SQLiteStore) Claim(ctx context.Context, key, hash string, lease time.Duration) (idempotency.Record, bool, error) {
	now := time.Now().UTC()
	expires := now.Add(lease)
	claimed := idempotency.Record{Key: key, Hash: hash, ExpiresAt: expires}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, done, expires_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, hash, expires.UnixNano(),
	)
	if err != nil {
		return idempotency.Record{}, false, classify(fmt.Errorf("failed to claim key: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return claimed, true, nil
	}

	// Take over an expired key only if nobody else did first.
	res, err = s.db.ExecContext(ctx,
		`UPDATE idempotency_keys
		 SET request_hash = ?, response = NULL, done = 0, expires_at = ?
		 WHERE key = ? AND expires_at < ?`,
		hash, expires.UnixNano(), key, now.UnixNano(),
	)
	if err != nil {
		return idempotency.Record{}, false, classify(fmt.Errorf("failed to reclaim key: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return claimed, true, nil
	}

	var (
		rec       idempotency.Record
		done      bool
		expiresAt int64
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT key, request_hash, response, done, expires_at FROM idempotency_keys WHERE key = ?",
		key,
	).Scan(&rec.Key, &rec.Hash, &rec.Response, &done, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Released or swept between the statements.
		return s.Claim(ctx, key, hash, lease)
	}
	if err != nil {
		return idempotency.Record{}, false, classify(fmt.Errorf("failed to read key: %w", err))
	}
	rec.Done = done
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return idempotency.ResolveExisting(rec, hash)
}

// Complete stores the response of a claimed key and keeps it for ttl.
func (s *SQLiteStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE idempotency_keys SET done = 1, response = ?, expires_at = ? WHERE key = ?",
		response, time.Now().Add(ttl).UnixNano(), key,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to complete key: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFoundf("idempotency key", key)
	}
	return nil
}

// Release forgets a pending key.
func (s *SQLiteStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE key = ? AND done = 0", key)
	if err != nil {
		return classify(fmt.Errorf("failed to release key: %w", err))
	}
	return nil
}

// ReleasePending forgets every key that was claimed but never completed.
func (s *SQLiteStore) ReleasePending(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE done = 0")
	if err != nil {
		return 0, classify(fmt.Errorf("failed to release pending keys: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count released keys: %w", err)
	}
	return int(n), nil
}

// Sweep deletes keys that expired before now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE expires_at < ?", now.UnixNano())
	if err != nil {
		return 0, classify(fmt.Errorf("failed to sweep keys: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept keys: %w", err)
	}
	return int(n), nil
}
