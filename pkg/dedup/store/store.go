// Package store is the persistent half of the Deduplicator (C4): a
// WAL-mode SQLite index of previously observed events, schema-migrated with
// goose and queried through sqlx.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cctelegram/bridge/internal/retry"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the persistent dedup index, surviving process restarts.
type Store struct {
	db      *sqlx.DB
	retrier *retry.Retrier
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and applies any pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite WAL: single writer, avoid lock thrash

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("apply dedup store migrations: %w", err)
	}

	return &Store{db: db, retrier: retry.New(retry.DatabaseConfig(), nil)}, nil
}

// OpenWithDB wraps an already-open *sqlx.DB (used by tests with sqlmock),
// skipping migrations — the caller is responsible for schema setup.
func OpenWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, retrier: retry.New(retry.DatabaseConfig(), nil)}
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record persists that eventID (with contentHash) was observed at seenAt,
// expiring the row after ttl.
func (s *Store) Record(ctx context.Context, eventID, contentHash string, seenAt time.Time, ttl time.Duration) error {
	return s.retrier.Do(ctx, "dedup_store.record", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO seen_events (event_id, content_hash, seen_at, expires_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(event_id) DO NOTHING`,
			eventID, contentHash, seenAt.UTC(), seenAt.Add(ttl).UTC())
		return err
	})
}

// SeenPrimary reports whether eventID has already been recorded.
func (s *Store) SeenPrimary(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.retrier.Do(ctx, "dedup_store.seen_primary", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &count,
			`SELECT COUNT(1) FROM seen_events WHERE event_id = ? AND expires_at > ?`,
			eventID, time.Now().UTC())
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SeenSecondary reports whether contentHash was recorded within window of
// now, regardless of event_id — catching a different event_id with
// identical content re-submitted in a short span (spec §4.3).
func (s *Store) SeenSecondary(ctx context.Context, contentHash string, window time.Duration) (bool, error) {
	var count int
	cutoff := time.Now().Add(-window).UTC()
	err := s.retrier.Do(ctx, "dedup_store.seen_secondary", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &count,
			`SELECT COUNT(1) FROM seen_events WHERE content_hash = ? AND seen_at >= ?`,
			contentHash, cutoff)
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Prune removes rows past their expiry, bounding the table's growth.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	var result sql.Result
	err := s.retrier.Do(ctx, "dedup_store.prune", func(ctx context.Context) error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE expires_at <= ?`, time.Now().UTC())
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
