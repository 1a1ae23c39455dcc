// Package db provides the embedded SQLite store that backs offline attendance capture.
//
// The store owns two tables:
//   - attendance_log: every check-in recorded on this device, with sync bookkeeping
//   - sync_queue: remote-bound operations awaiting (or having completed) replay
//
// The database runs in WAL mode so the HTTP API, the flush daemon and the CLI can
// read while a writer holds the lock. Construction is explicit: callers Open the
// store and InitSchema before handing it to the queue manager.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySynced is returned when a local delete targets a record the remote already holds.
	ErrAlreadySynced = errors.New("record already synced")
)

// querier is the subset of *sql.DB and *sql.Tx used by the row operations.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. WAL mode is enabled on the file;
// the busy timeout and foreign keys are set per connection through the DSN, and
// write transactions take the lock up front so concurrent writers queue on
// the busy timeout instead of failing mid-transaction.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	pragmas := []struct {
		stmt string
		desc string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA synchronous=NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.desc, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database is closed")
	}
	return db.conn.PingContext(ctx)
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the attendance_log and sync_queue tables if they don't exist.
// Safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attendance_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_uuid TEXT NOT NULL,
		date TEXT NOT NULL,
		child_name TEXT NOT NULL,
		service TEXT NOT NULL DEFAULT '',
		day_tag TEXT NOT NULL,
		check_in_time TEXT NOT NULL,
		check_out_time TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		event_name TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		session_label TEXT NOT NULL DEFAULT '',
		session_period TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		church_location TEXT NOT NULL DEFAULT '',
		camp_group TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		sync_status TEXT NOT NULL DEFAULT 'pending',
		synced_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_uuid TEXT NOT NULL,
		record_type TEXT NOT NULL,
		record_id INTEGER,  -- NULL for checkouts spanning many records
		operation TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_attempt_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_log(date);
	CREATE INDEX IF NOT EXISTS idx_attendance_tag ON attendance_log(day_tag);
	CREATE INDEX IF NOT EXISTS idx_attendance_status ON attendance_log(status);
	CREATE INDEX IF NOT EXISTS idx_attendance_sync_status ON attendance_log(sync_status);
	CREATE INDEX IF NOT EXISTS idx_attendance_event ON attendance_log(event_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance_log(session_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_sync_uuid ON attendance_log(sync_uuid);

	-- Checkout lookups
	CREATE INDEX IF NOT EXISTS idx_attendance_checkout
	    ON attendance_log(date, day_tag, status);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_record ON sync_queue(record_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_sync_uuid ON sync_queue(sync_uuid);

	-- FIFO drain
	CREATE INDEX IF NOT EXISTS idx_sync_queue_pending
	    ON sync_queue(status, created_at, id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Tx is a scoped transaction exposing the same row operations as DB.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders timestamps as sortable UTC text.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
