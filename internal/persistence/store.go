package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore keeps named scheduler snapshots and the job event history in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryConfig
}

// RetryConfig bounds the exponential backoff used when the database is busy.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the retry policy used by new stores.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Create parent directories
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// WAL mode, busy timeout
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openStore(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call gets
// its own database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	// A unique name keeps stores apart while the shared cache lets every
	// connection of one store see the same database.
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return openStore(ctx, connStr)
}

func openStore(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite does not accept _foreign_keys in the connection string.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One writer keeps snapshot transactions serialized inside the process.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, retry: DefaultRetryConfig()}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withRetry runs op, retrying with exponential backoff while SQLite reports
// the database as busy or locked. Any other error stops immediately.
func (s *SQLiteStore) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	policy.MaxElapsedTime = s.retry.MaxElapsedTime

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := op()
		if err == nil || isBusy(err) {
			return err // nil stops, busy retries
		}
		// Other errors are final
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
