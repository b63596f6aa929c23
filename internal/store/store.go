// Package store implements the persistent relational layer described in
// spec.md §4.1: a single embedded SQLite file with write-ahead journaling,
// ordered idempotent migrations, foreign keys, and typed transactional
// methods. No raw query string is part of the package's exported contract.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage wraps the single *sql.DB handle shared by request handlers and
// the background Import/Backup tasks.
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

// ParseDatabaseURL accepts spec §6's `sqlite://relative/path` or
// `sqlite:///absolute/path` forms and returns the filesystem path
// mattn/go-sqlite3 should open.
func ParseDatabaseURL(url string) (string, error) {
	const prefix = "sqlite://"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("invalid DATABASE_URL %q: must start with %q", url, prefix)
	}
	path := strings.TrimPrefix(url, prefix)
	if path == "" {
		return "", fmt.Errorf("invalid DATABASE_URL %q: empty path", url)
	}
	// sqlite:///absolute/path leaves one leading slash after TrimPrefix,
	// which is exactly the absolute path we want to pass through.
	return path, nil
}

// Open connects to the SQLite file named by databaseURL (spec §6's
// DATABASE_URL form), enables WAL journaling and foreign keys, applies
// every pending migration, and ensures the single local user exists.
func Open(databaseURL string, log *slog.Logger) (*Storage, error) {
	if log == nil {
		log = slog.Default()
	}
	path, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, newErr(KindInvalidInput, "store.Open", err)
	}
	return open(path, log)
}

// OpenPath connects directly to a filesystem path (or ":memory:"),
// bypassing DATABASE_URL parsing. Used by tests.
func OpenPath(path string, log *slog.Logger) (*Storage, error) {
	if log == nil {
		log = slog.Default()
	}
	return open(path, log)
}

func open(path string, log *slog.Logger) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	if path == ":memory:" {
		// A shared in-memory cache keeps all connections on the *sql.DB
		// pool pointed at the same database, matching on-disk semantics
		// for tests.
		dsn = "file::memory:?cache=shared&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, newErr(KindUnavailable, "store.Open", fmt.Errorf("opening database: %w", err))
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" from the driver's own pool contending with
	// itself, while WAL still lets external readers proceed.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, log: log}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, newErr(KindUnavailable, "store.Open", fmt.Errorf("migrating: %w", err))
	}

	if err := s.ensureLocalUser(); err != nil {
		db.Close()
		return nil, newErr(KindUnavailable, "store.Open", fmt.Errorf("seeding local user: %w", err))
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the one caller that needs a raw
// file-level operation the typed methods don't cover: Backup's VACUUM
// INTO (spec §4.6).
func (s *Storage) DB() *sql.DB { return s.db }

// retryAttempts and retryBaseWait bound how long a single call will retry a transient
// SQLITE_BUSY before surfacing KindUnavailable to the caller (spec §4.1,
// §7: "transient lock conflicts are retried with bounded backoff inside
// the Store; exhaustion is a fatal error to the caller").
const (
	retryAttempts = 5
	retryBaseWait = 10 * time.Millisecond
)

// withRetry runs fn, retrying on SQLITE_BUSY/SQLITE_LOCKED with bounded
// exponential backoff, and wraps exhaustion as KindUnavailable.
func withRetry(op string, fn func() error) error {
	var err error
	wait := retryBaseWait
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			break
		}
		time.Sleep(wait)
		wait *= 2
	}
	if err != nil {
		if isBusy(err) {
			return newErr(KindUnavailable, op, fmt.Errorf("store locked beyond retry budget: %w", err))
		}
		return err
	}
	return nil
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic (spec §5: "a submit_review is atomic").
func (s *Storage) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return withRetry(op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: beginning transaction: %w", op, err)
		}
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			}
		}()
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: committing transaction: %w", op, err)
		}
		return nil
	})
}

func scanErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return newErr(KindNotFound, op, err)
	}
	return newErr(KindInternal, op, err)
}
