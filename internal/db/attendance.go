package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rebootcamp/attendsync/internal/schema"
)

// AttendanceUpdate describes a partial update of an attendance row.
// Nil fields are left untouched.
type AttendanceUpdate struct {
	Status       *schema.AttendanceStatus
	CheckOutTime *string
	SyncStatus   *schema.SyncStatus
	// SyncedAt is stored when SyncStatus is synced; defaults to now.
	// Any other SyncStatus clears synced_at.
	SyncedAt *time.Time
}

// AttendanceFilter configures QueryAttendance.
type AttendanceFilter struct {
	// IDs restricts to specific rows (empty = all)
	IDs []int64
	// Date filters by calendar day (empty = all dates)
	Date string
	// DayTag filters by tag (empty = all tags)
	DayTag string
	// ChildName filters by exact child name (empty = all children)
	ChildName string
	// Status filters by attendance status (empty = all)
	Status schema.AttendanceStatus
	// SyncStatus filters by sync status (empty = all)
	SyncStatus schema.SyncStatus
	// Unsynced restricts to rows whose sync_status is not synced
	Unsynced bool
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

const attendanceColumns = `id, sync_uuid, date, child_name, service, day_tag,
	check_in_time, check_out_time, status,
	event_id, event_name, session_id, session_label, session_period,
	state, church_location, camp_group, notes,
	sync_status, synced_at, created_at`

func insertAttendance(ctx context.Context, q querier, rec *schema.AttendanceRecord) (int64, error) {
	rec.SetDefaults()
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("invalid attendance record: %w", err)
	}

	now := formatTime(time.Now())
	query := `
	INSERT INTO attendance_log (
		sync_uuid, date, child_name, service, day_tag,
		check_in_time, check_out_time, status,
		event_id, event_name, session_id, session_label, session_period,
		state, church_location, camp_group, notes,
		sync_status, synced_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := q.ExecContext(ctx, query,
		rec.SyncUUID,
		rec.Date,
		rec.ChildName,
		rec.Service,
		rec.DayTag,
		rec.CheckInTime,
		rec.CheckOutTime,
		string(rec.Status),
		rec.EventID,
		rec.EventName,
		rec.SessionID,
		rec.SessionLabel,
		rec.SessionPeriod,
		rec.State,
		rec.ChurchLocation,
		rec.CampGroup,
		rec.Notes,
		string(rec.SyncStatus),
		timeToNullString(rec.SyncedAt),
		formatTime(rec.CreatedAt),
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attendance for %s: %w", rec.ChildName, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read attendance id: %w", err)
	}
	rec.ID = id
	return id, nil
}

func getAttendance(ctx context.Context, q querier, id int64) (*schema.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_log WHERE id = ?`

	rec, err := scanAttendance(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attendance %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance %d: %w", id, err)
	}
	return rec, nil
}

func updateAttendance(ctx context.Context, q querier, id int64, upd AttendanceUpdate) error {
	var sets []string
	var args []interface{}

	if upd.Status != nil {
		if !upd.Status.IsValid() {
			return fmt.Errorf("invalid status: %q", *upd.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.CheckOutTime != nil {
		sets = append(sets, "check_out_time = ?")
		args = append(args, *upd.CheckOutTime)
	}
	if upd.SyncStatus != nil {
		if !upd.SyncStatus.IsValid() {
			return fmt.Errorf("invalid sync_status: %q", *upd.SyncStatus)
		}
		sets = append(sets, "sync_status = ?", "synced_at = ?")
		args = append(args, string(*upd.SyncStatus))
		if *upd.SyncStatus == schema.SyncSynced {
			syncedAt := time.Now()
			if upd.SyncedAt != nil {
				syncedAt = *upd.SyncedAt
			}
			args = append(args, formatTime(syncedAt))
		} else {
			args = append(args, nil)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	query := `UPDATE attendance_log SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update attendance %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update attendance %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("attendance %d: %w", id, ErrNotFound)
	}
	return nil
}

func queryAttendance(ctx context.Context, q querier, filter AttendanceFilter) ([]*schema.AttendanceRecord, error) {
	var conditions []string
	var args []interface{}

	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conditions = append(conditions, "id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Date != "" {
		conditions = append(conditions, "date = ?")
		args = append(args, filter.Date)
	}
	if filter.DayTag != "" {
		conditions = append(conditions, "day_tag = ?")
		args = append(args, filter.DayTag)
	}
	if filter.ChildName != "" {
		conditions = append(conditions, "child_name = ?")
		args = append(args, filter.ChildName)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SyncStatus != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(filter.SyncStatus))
	}
	if filter.Unsynced {
		conditions = append(conditions, "sync_status != ?")
		args = append(args, string(schema.SyncSynced))
	}

	query := `SELECT ` + attendanceColumns + ` FROM attendance_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var records []*schema.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance: %w", err)
	}
	return records, nil
}

// deleteAttendance removes an unsynced attendance row.
func deleteAttendance(ctx context.Context, q querier, id int64) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM attendance_log WHERE id = ? AND sync_status != ?`,
		id, string(schema.SyncSynced))
	if err != nil {
		return fmt.Errorf("failed to delete attendance %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete attendance %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing row from a synced one.
	if _, err := getAttendance(ctx, q, id); err != nil {
		return err
	}
	return fmt.Errorf("attendance %d: %w", id, ErrAlreadySynced)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (*schema.AttendanceRecord, error) {
	var rec schema.AttendanceRecord
	var status, syncStatus, createdAt string
	var syncedAt sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.SyncUUID,
		&rec.Date,
		&rec.ChildName,
		&rec.Service,
		&rec.DayTag,
		&rec.CheckInTime,
		&rec.CheckOutTime,
		&status,
		&rec.EventID,
		&rec.EventName,
		&rec.SessionID,
		&rec.SessionLabel,
		&rec.SessionPeriod,
		&rec.State,
		&rec.ChurchLocation,
		&rec.CampGroup,
		&rec.Notes,
		&syncStatus,
		&syncedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = schema.AttendanceStatus(status)
	rec.SyncStatus = schema.SyncStatus(syncStatus)
	rec.SyncedAt = nullStringToTime(syncedAt)
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

// InsertAttendance inserts a record and sets its ID.
func (db *DB) InsertAttendance(rec *schema.AttendanceRecord) (int64, error) {
	return db.InsertAttendanceContext(context.Background(), rec)
}

// InsertAttendanceContext inserts a record with context support.
func (db *DB) InsertAttendanceContext(ctx context.Context, rec *schema.AttendanceRecord) (int64, error) {
	return insertAttendance(ctx, db.conn, rec)
}

// GetAttendance retrieves a record by id. Returns ErrNotFound if missing.
func (db *DB) GetAttendance(id int64) (*schema.AttendanceRecord, error) {
	return db.GetAttendanceContext(context.Background(), id)
}

// GetAttendanceContext retrieves a record by id with context support.
func (db *DB) GetAttendanceContext(ctx context.Context, id int64) (*schema.AttendanceRecord, error) {
	return getAttendance(ctx, db.conn, id)
}

// UpdateAttendance applies a partial update. Returns ErrNotFound if missing.
func (db *DB) UpdateAttendance(id int64, upd AttendanceUpdate) error {
	return db.UpdateAttendanceContext(context.Background(), id, upd)
}

// UpdateAttendanceContext applies a partial update with context support.
func (db *DB) UpdateAttendanceContext(ctx context.Context, id int64, upd AttendanceUpdate) error {
	return updateAttendance(ctx, db.conn, id, upd)
}

// QueryAttendance retrieves records matching the filter, oldest first.
func (db *DB) QueryAttendance(filter AttendanceFilter) ([]*schema.AttendanceRecord, error) {
	return db.QueryAttendanceContext(context.Background(), filter)
}

// QueryAttendanceContext retrieves records with context support.
func (db *DB) QueryAttendanceContext(ctx context.Context, filter AttendanceFilter) ([]*schema.AttendanceRecord, error) {
	return queryAttendance(ctx, db.conn, filter)
}

// DeleteAttendance removes an unsynced record.
// Returns ErrAlreadySynced for synced records and ErrNotFound for missing ones.
func (db *DB) DeleteAttendance(id int64) error {
	return db.DeleteAttendanceContext(context.Background(), id)
}

// DeleteAttendanceContext removes an unsynced record with context support.
func (db *DB) DeleteAttendanceContext(ctx context.Context, id int64) error {
	return deleteAttendance(ctx, db.conn, id)
}

// InsertAttendance inserts a record inside the transaction.
func (tx *Tx) InsertAttendance(ctx context.Context, rec *schema.AttendanceRecord) (int64, error) {
	return insertAttendance(ctx, tx.tx, rec)
}

// GetAttendance retrieves a record inside the transaction.
func (tx *Tx) GetAttendance(ctx context.Context, id int64) (*schema.AttendanceRecord, error) {
	return getAttendance(ctx, tx.tx, id)
}

// UpdateAttendance applies a partial update inside the transaction.
func (tx *Tx) UpdateAttendance(ctx context.Context, id int64, upd AttendanceUpdate) error {
	return updateAttendance(ctx, tx.tx, id, upd)
}

// QueryAttendance queries records inside the transaction.
func (tx *Tx) QueryAttendance(ctx context.Context, filter AttendanceFilter) ([]*schema.AttendanceRecord, error) {
	return queryAttendance(ctx, tx.tx, filter)
}

// DeleteAttendance removes an unsynced record inside the transaction.
func (tx *Tx) DeleteAttendance(ctx context.Context, id int64) error {
	return deleteAttendance(ctx, tx.tx, id)
}
