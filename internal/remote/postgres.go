package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebootcamp/attendsync/internal/schema"
)

// PostgreSQL error codes that indicate the table doesn't match what we write.
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// PostgresBackend stores attendance in a shared PostgreSQL table.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresPool creates and pings a connection pool.
func NewPostgresPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	if maxConns > math.MaxInt32 {
		maxConns = math.MaxInt32
	}
	poolCfg.MaxConns = int32(maxConns)
	if cfg.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	}
	if cfg.MaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, Unavailable(fmt.Errorf("failed to ping database: %w", err))
	}
	return pool, nil
}

// NewPostgresBackend wraps an existing pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// Close releases the pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}

// EnsureSchema creates the attendance_log table if it doesn't exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS attendance_log (
		id BIGSERIAL PRIMARY KEY,
		date TEXT NOT NULL,
		child_name TEXT NOT NULL,
		event_name TEXT NOT NULL DEFAULT '',
		event_id TEXT NOT NULL DEFAULT '',
		session_label TEXT NOT NULL DEFAULT '',
		session_period TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		church_location TEXT NOT NULL DEFAULT '',
		camp_group TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		day_tag TEXT NOT NULL,
		check_in_time TEXT NOT NULL,
		check_out_time TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_log_checkout ON attendance_log(date, day_tag, status);
	`
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return classifyPgError(fmt.Errorf("failed to create attendance_log: %w", err))
	}
	return nil
}

// AppendRecord inserts one row.
func (b *PostgresBackend) AppendRecord(ctx context.Context, row Row) error {
	query := `
	INSERT INTO attendance_log (
		date, child_name, event_name, event_id, session_label, session_period,
		session_id, state, church_location, camp_group, service, day_tag,
		check_in_time, check_out_time, status, notes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := b.pool.Exec(ctx, query,
		row.Date, row.ChildName, row.EventName, row.EventID, row.SessionLabel, row.SessionPeriod,
		row.SessionID, row.State, row.ChurchLocation, row.CampGroup, row.Service, row.DayTag,
		row.CheckInTime, row.CheckOutTime, row.Status, row.Notes,
	)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to insert attendance for %s: %w", row.ChildName, err))
	}
	return nil
}

// BulkUpdateCheckout checks out every open row for (date, dayTag) in one statement.
func (b *PostgresBackend) BulkUpdateCheckout(ctx context.Context, date, dayTag, checkoutTime string) ([]string, error) {
	query := `
	UPDATE attendance_log
	SET check_out_time = $1, status = $2
	WHERE date = $3 AND day_tag = $4 AND status = $5
	RETURNING child_name
	`
	rows, err := b.pool.Query(ctx, query,
		checkoutTime, string(schema.StatusCheckedOut), date, dayTag, string(schema.StatusCheckedIn))
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to check out tag %s: %w", dayTag, err))
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to check out tag %s: %w", dayTag, err))
	}
	return names, nil
}

// ListRecords returns every row ordered by id. RowID is the table id.
func (b *PostgresBackend) ListRecords(ctx context.Context) ([]Row, error) {
	query := `
	SELECT id, date, child_name, event_name, event_id, session_label, session_period,
	       session_id, state, church_location, camp_group, service, day_tag,
	       check_in_time, check_out_time, status, notes
	FROM attendance_log
	ORDER BY id ASC
	`
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to list attendance: %w", err))
	}

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Row, error) {
		var row Row
		var id int64
		err := r.Scan(&id, &row.Date, &row.ChildName, &row.EventName, &row.EventID,
			&row.SessionLabel, &row.SessionPeriod, &row.SessionID, &row.State,
			&row.ChurchLocation, &row.CampGroup, &row.Service, &row.DayTag,
			&row.CheckInTime, &row.CheckOutTime, &row.Status, &row.Notes)
		row.RowID = int(id)
		return row, err
	})
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to scan attendance: %w", err))
	}
	return out, nil
}

// DeleteRow deletes the row with the given id.
func (b *PostgresBackend) DeleteRow(ctx context.Context, rowID int) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM attendance_log WHERE id = $1`, rowID)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to delete attendance row %d: %w", rowID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attendance row %d not found", rowID)
	}
	return nil
}

// Ping checks the pool can reach the server.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return Unavailable(err)
	}
	return nil
}

// classifyPgError maps server-side schema errors to *SchemaMismatchError and
// anything that never reached the server to ErrUnavailable.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable, pgUndefinedColumn:
			return fmt.Errorf("%w (%s)", &SchemaMismatchError{Missing: []string{pgErr.Message}}, err)
		}
		return err
	}
	return Unavailable(err)
}
