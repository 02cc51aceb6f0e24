package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/omnichat-gateway/internal/clock"
	"go.uber.org/zap"
)

const (
	getQuery = `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`

	putQuery = `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`

	deleteQuery = `DELETE FROM kv_entries WHERE key = $1`

	// Overwrites only rows that have already expired
	putIfAbsentQuery = `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $4
	`

	incrementQuery = `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, '1', $2)
		ON CONFLICT (key) DO UPDATE
		SET value = CASE
				WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $3 THEN '1'
				ELSE (kv_entries.value::BIGINT + 1)::TEXT
			END,
			expires_at = CASE
				WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $3 THEN EXCLUDED.expires_at
				ELSE kv_entries.expires_at
			END
		RETURNING value::BIGINT
	`
)

// KVStore implements repositories.KVStore on a kv_entries table.
// Expiry is evaluated against the injected clock so every instance agrees on "now".
type KVStore struct {
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

// NewKVStore creates a KVStore on an open connection pool
func NewKVStore(db *sql.DB, clk clock.Clock, logger *zap.Logger) *KVStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &KVStore{
		db:     db,
		clock:  clk,
		logger: logger,
	}
}

func (s *KVStore) expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: s.clock.Now().Add(ttl), Valid: true}
}

// Get returns the live value for key
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, getQuery, key, s.clock.Now()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return value, true, nil
}

// Put upserts value under key
func (s *KVStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, putQuery, key, value, s.expiry(ttl)); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Delete removes key
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// PutIfAbsent inserts value unless a live row exists
func (s *KVStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, putIfAbsentQuery, key, value, s.expiry(ttl), s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to put key if absent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// Increment bumps the counter at key and returns the new value
func (s *KVStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, incrementQuery, key, s.expiry(ttl), s.clock.Now()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment key: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes rows whose TTL has passed
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("purged expired keys", zap.Int64("count", n))
	}
	return n, nil
}

// Ping runs the database health check
func (s *KVStore) Ping(ctx context.Context) error {
	return healthCheck(ctx, s.db)
}

// Close closes the underlying pool
func (s *KVStore) Close() error {
	return s.db.Close()
}
