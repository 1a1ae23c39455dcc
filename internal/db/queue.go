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

// QueueUpdate describes a partial update of a sync_queue row.
type QueueUpdate struct {
	Status *schema.SyncStatus
	// LastError is stored truncated to schema.MaxErrorLength.
	LastError *string
	// IncrementAttempts bumps attempts by one and stamps last_attempt_at.
	IncrementAttempts bool
	// AttemptedAt overrides the last_attempt_at stamp (defaults to now).
	AttemptedAt *time.Time
}

// QueueFilter configures QueryQueue.
type QueueFilter struct {
	// Status filters by queue status (empty = all)
	Status schema.SyncStatus
	// Operation filters by operation (empty = all)
	Operation schema.Operation
	// RecordID filters by originating attendance id (nil = all)
	RecordID *int64
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// QueueStats summarizes queue and attendance sync state.
type QueueStats struct {
	Pending         int        `json:"pending"`
	Synced          int        `json:"synced"`
	Failed          int        `json:"failed"`
	UnsyncedRecords int        `json:"unsynced_records"`
	FailedRecords   int        `json:"failed_records"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
}

const queueColumns = `id, sync_uuid, record_type, record_id, operation, payload,
	status, attempts, last_error, last_attempt_at, created_at, updated_at`

func insertQueueItem(ctx context.Context, q querier, item *schema.QueueItem) (int64, error) {
	if item.Status == "" {
		item.Status = schema.SyncPending
	}
	if item.RecordType == "" {
		item.RecordType = schema.RecordTypeAttendance
	}
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue item: %w", err)
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now.UTC()
	}
	item.UpdatedAt = now.UTC()

	var recordID sql.NullInt64
	if item.RecordID != nil {
		recordID = sql.NullInt64{Int64: *item.RecordID, Valid: true}
	}

	query := `
	INSERT INTO sync_queue (
		sync_uuid, record_type, record_id, operation, payload,
		status, attempts, last_error, last_attempt_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := q.ExecContext(ctx, query,
		item.SyncUUID,
		item.RecordType,
		recordID,
		string(item.Operation),
		string(item.Payload),
		string(item.Status),
		item.Attempts,
		schema.TruncateError(item.LastError),
		timeToNullString(item.LastAttemptAt),
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s queue item: %w", item.Operation, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue item id: %w", err)
	}
	item.ID = id
	return id, nil
}

func getQueueItem(ctx context.Context, q querier, where string, arg any) (*schema.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE ` + where

	item, err := scanQueueItem(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %v: %w", arg, err)
	}
	return item, nil
}

func updateQueueItem(ctx context.Context, q querier, id int64, upd QueueUpdate) error {
	var sets []string
	var args []interface{}

	if upd.Status != nil {
		if !upd.Status.IsValid() {
			return fmt.Errorf("invalid status: %q", *upd.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, schema.TruncateError(*upd.LastError))
	}
	if upd.IncrementAttempts {
		attemptedAt := time.Now()
		if upd.AttemptedAt != nil {
			attemptedAt = *upd.AttemptedAt
		}
		sets = append(sets, "attempts = attempts + 1", "last_attempt_at = ?")
		args = append(args, formatTime(attemptedAt))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	query := `UPDATE sync_queue SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update queue item %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	return nil
}

func queryQueue(ctx context.Context, q querier, filter QueueFilter) ([]*schema.QueueItem, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Operation != "" {
		conditions = append(conditions, "operation = ?")
		args = append(args, string(filter.Operation))
	}
	if filter.RecordID != nil {
		conditions = append(conditions, "record_id = ?")
		args = append(args, *filter.RecordID)
	}

	query := `SELECT ` + queueColumns + ` FROM sync_queue`
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
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var items []*schema.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return items, nil
}

func resetFailedQueue(ctx context.Context, q querier) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = '', updated_at = ? WHERE status = ?`,
		string(schema.SyncPending), formatTime(time.Now()), string(schema.SyncFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed queue items: %w", err)
	}
	return n, nil
}

// deleteUnsyncedQueueForRecord removes queue rows of a record that never reached the remote.
func deleteUnsyncedQueueForRecord(ctx context.Context, q querier, recordID int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE record_id = ? AND status != ?`,
		recordID, string(schema.SyncSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue items for attendance %d: %w", recordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue items for attendance %d: %w", recordID, err)
	}
	return n, nil
}

func queueStats(ctx context.Context, q querier) (*QueueStats, error) {
	var stats QueueStats

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		switch schema.SyncStatus(status) {
		case schema.SyncPending:
			stats.Pending = count
		case schema.SyncSynced:
			stats.Synced = count
		case schema.SyncFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue counts: %w", err)
	}

	var oldest, lastAttempt sql.NullString
	err = q.QueryRowContext(ctx, `
	SELECT
		(SELECT MIN(created_at) FROM sync_queue WHERE status = ?),
		(SELECT MAX(last_attempt_at) FROM sync_queue)
	`, string(schema.SyncPending)).Scan(&oldest, &lastAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue timestamps: %w", err)
	}
	stats.OldestPendingAt = nullStringToTime(oldest)
	stats.LastAttemptAt = nullStringToTime(lastAttempt)

	err = q.QueryRowContext(ctx, `
	SELECT
		COALESCE(SUM(CASE WHEN sync_status != ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN sync_status = ? THEN 1 ELSE 0 END), 0)
	FROM attendance_log
	`, string(schema.SyncSynced), string(schema.SyncFailed)).Scan(&stats.UnsyncedRecords, &stats.FailedRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count unsynced attendance: %w", err)
	}

	return &stats, nil
}

func scanQueueItem(row rowScanner) (*schema.QueueItem, error) {
	var item schema.QueueItem
	var recordID sql.NullInt64
	var operation, payload, status, createdAt, updatedAt string
	var lastAttempt sql.NullString

	err := row.Scan(
		&item.ID,
		&item.SyncUUID,
		&item.RecordType,
		&recordID,
		&operation,
		&payload,
		&status,
		&item.Attempts,
		&item.LastError,
		&lastAttempt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if recordID.Valid {
		id := recordID.Int64
		item.RecordID = &id
	}
	item.Operation = schema.Operation(operation)
	item.Payload = []byte(payload)
	item.Status = schema.SyncStatus(status)
	item.LastAttemptAt = nullStringToTime(lastAttempt)
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}

// InsertQueueItem inserts a queue item and sets its ID.
func (db *DB) InsertQueueItem(item *schema.QueueItem) (int64, error) {
	return db.InsertQueueItemContext(context.Background(), item)
}

// InsertQueueItemContext inserts a queue item with context support.
func (db *DB) InsertQueueItemContext(ctx context.Context, item *schema.QueueItem) (int64, error) {
	return insertQueueItem(ctx, db.conn, item)
}

// GetQueueItem retrieves a queue item by id. Returns ErrNotFound if missing.
func (db *DB) GetQueueItem(id int64) (*schema.QueueItem, error) {
	return db.GetQueueItemContext(context.Background(), id)
}

// GetQueueItemContext retrieves a queue item by id with context support.
func (db *DB) GetQueueItemContext(ctx context.Context, id int64) (*schema.QueueItem, error) {
	return getQueueItem(ctx, db.conn, "id = ?", id)
}

// GetQueueItemByUUID retrieves a queue item by its sync_uuid.
func (db *DB) GetQueueItemByUUID(syncUUID string) (*schema.QueueItem, error) {
	return db.GetQueueItemByUUIDContext(context.Background(), syncUUID)
}

// GetQueueItemByUUIDContext retrieves a queue item by sync_uuid with context support.
func (db *DB) GetQueueItemByUUIDContext(ctx context.Context, syncUUID string) (*schema.QueueItem, error) {
	return getQueueItem(ctx, db.conn, "sync_uuid = ?", syncUUID)
}

// UpdateQueueItem applies a partial update. Returns ErrNotFound if missing.
func (db *DB) UpdateQueueItem(id int64, upd QueueUpdate) error {
	return db.UpdateQueueItemContext(context.Background(), id, upd)
}

// UpdateQueueItemContext applies a partial update with context support.
func (db *DB) UpdateQueueItemContext(ctx context.Context, id int64, upd QueueUpdate) error {
	return updateQueueItem(ctx, db.conn, id, upd)
}

// QueryPendingQueue returns up to limit pending items in FIFO order.
// A limit of 0 returns every pending item.
func (db *DB) QueryPendingQueue(limit int) ([]*schema.QueueItem, error) {
	return db.QueryPendingQueueContext(context.Background(), limit)
}

// QueryPendingQueueContext returns pending items with context support.
func (db *DB) QueryPendingQueueContext(ctx context.Context, limit int) ([]*schema.QueueItem, error) {
	return queryQueue(ctx, db.conn, QueueFilter{Status: schema.SyncPending, Limit: limit})
}

// QueryQueue retrieves queue items matching the filter, oldest first.
func (db *DB) QueryQueue(filter QueueFilter) ([]*schema.QueueItem, error) {
	return db.QueryQueueContext(context.Background(), filter)
}

// QueryQueueContext retrieves queue items with context support.
func (db *DB) QueryQueueContext(ctx context.Context, filter QueueFilter) ([]*schema.QueueItem, error) {
	return queryQueue(ctx, db.conn, filter)
}

// ResetFailedQueue moves every failed item back to pending and clears its error.
func (db *DB) ResetFailedQueue() (int64, error) {
	return db.ResetFailedQueueContext(context.Background())
}

// ResetFailedQueueContext resets failed items with context support.
func (db *DB) ResetFailedQueueContext(ctx context.Context) (int64, error) {
	return resetFailedQueue(ctx, db.conn)
}

// QueueStats returns queue counts and attendance sync counts.
func (db *DB) QueueStats() (*QueueStats, error) {
	return db.QueueStatsContext(context.Background())
}

// QueueStatsContext returns queue stats with context support.
func (db *DB) QueueStatsContext(ctx context.Context) (*QueueStats, error) {
	return queueStats(ctx, db.conn)
}

// InsertQueueItem inserts a queue item inside the transaction.
func (tx *Tx) InsertQueueItem(ctx context.Context, item *schema.QueueItem) (int64, error) {
	return insertQueueItem(ctx, tx.tx, item)
}

// GetQueueItem retrieves a queue item inside the transaction.
func (tx *Tx) GetQueueItem(ctx context.Context, id int64) (*schema.QueueItem, error) {
	return getQueueItem(ctx, tx.tx, "id = ?", id)
}

// UpdateQueueItem applies a partial update inside the transaction.
func (tx *Tx) UpdateQueueItem(ctx context.Context, id int64, upd QueueUpdate) error {
	return updateQueueItem(ctx, tx.tx, id, upd)
}

// QueryQueue queries queue items inside the transaction.
func (tx *Tx) QueryQueue(ctx context.Context, filter QueueFilter) ([]*schema.QueueItem, error) {
	return queryQueue(ctx, tx.tx, filter)
}

// ResetFailedQueue resets failed items inside the transaction.
func (tx *Tx) ResetFailedQueue(ctx context.Context) (int64, error) {
	return resetFailedQueue(ctx, tx.tx)
}

// DeleteUnsyncedQueueForRecord removes a record's queue items that never synced.
func (tx *Tx) DeleteUnsyncedQueueForRecord(ctx context.Context, recordID int64) (int64, error) {
	return deleteUnsyncedQueueForRecord(ctx, tx.tx, recordID)
}
