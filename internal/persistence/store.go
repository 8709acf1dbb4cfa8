// Package persistence is the SQLite entity store for tasks, shopping items,
// calendar events and the agent action log.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/asis/internal/audit"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

type migration struct {
	version  int
	checksum string
	stmts    []string
}

var migrations = []migration{
	{
		version:  1,
		checksum: "asis-v1-core-entities",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS tasks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				description TEXT,
				due_date DATETIME,
				priority INTEGER NOT NULL DEFAULT 1,
				category TEXT,
				is_completed INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_active_due ON tasks(is_completed, due_date);`,
			`CREATE TABLE IF NOT EXISTS shopping_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				quantity TEXT NOT NULL DEFAULT '1',
				category TEXT,
				notes TEXT,
				price_estimate REAL,
				is_purchased INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS calendar_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_event_id TEXT,
				title TEXT NOT NULL,
				description TEXT,
				start_time DATETIME NOT NULL,
				end_time DATETIME NOT NULL,
				meet_link TEXT,
				attendee_email TEXT,
				attendee_name TEXT,
				reminder_time DATETIME,
				status TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled', 'cancelled')),
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				CHECK (end_time >= start_time)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_calendar_events_upcoming ON calendar_events(status, start_time);`,
			`CREATE INDEX IF NOT EXISTS idx_calendar_events_external ON calendar_events(external_event_id);`,
			`CREATE TABLE IF NOT EXISTS agent_actions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				action_type TEXT NOT NULL,
				target TEXT,
				content TEXT,
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'failed')),
				created_at DATETIME NOT NULL,
				executed_at DATETIME
			);`,
		},
	},
	{
		version:  2,
		checksum: "asis-v2-reminder-tracking",
		stmts: []string{
			`ALTER TABLE calendar_events ADD COLUMN reminder_sent INTEGER NOT NULL DEFAULT 0;`,
		},
	},
}

func latestMigration() migration {
	return migrations[len(migrations)-1]
}

type Store struct {
	db    *sql.DB
	audit *audit.Log // may be nil in tests
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".asis", "asis.db")
}

// Open opens (creating if needed) the database at path and brings the schema
// up to date. auditLog mirrors agent action transitions and may be nil.
func Open(path string, auditLog *audit.Log) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, audit: auditLog}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1;`).Scan(&one)
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter. maxRetries=5 gives ~3s total wait on top of the
// driver's busy_timeout (5s).
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	latest := latestMigration()
	if maxVersion > latest.version {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, latest.version)
	}

	for _, m := range migrations {
		if m.version > maxVersion {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("apply migration v%d: %w", m.version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`, m.version, m.checksum); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
			continue
		}
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, m.version).Scan(&existing); err != nil {
			return fmt.Errorf("read schema migration checksum v%d: %w", m.version, err)
		}
		if existing != m.checksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", m.version, existing, m.checksum)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// Tx is the handle a single dispatch call writes through. All entity
// operations hang off it so they commit or roll back together.
type Tx struct {
	tx          *sql.Tx
	store       *Store
	afterCommit []func()
}

// AfterCommit queues fn to run once the transaction has committed. Queued
// functions are dropped on rollback or a failed commit.
func (x *Tx) AfterCommit(fn func()) {
	x.afterCommit = append(x.afterCommit, fn)
}

// WithTx runs fn in one transaction. It commits when fn returns nil and
// rolls back otherwise. AfterCommit hooks run in order after a successful
// commit. Only BEGIN is retried on SQLITE_BUSY; fn itself is
// never re-run because callers perform remote side effects inside it.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	var sqlTx *sql.Tx
	err := retryOnBusy(ctx, 5, func() error {
		var beginErr error
		sqlTx, beginErr = s.db.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &Tx{tx: sqlTx, store: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

// Backup creates an online-consistent copy of the database with VACUUM INTO.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("backup destination path required")
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", destPath)
	}
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, destPath)
	if err != nil {
		return fmt.Errorf("backup (VACUUM INTO): %w", err)
	}
	return nil
}

// dbTime normalizes a timestamp for storage. Every DATETIME column holds UTC
// at second precision so text comparison in SQL matches time order.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
