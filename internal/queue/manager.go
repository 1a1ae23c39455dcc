// Package queue manages the durable sync queue: every remote-bound write lands
// here first, together with the local attendance row it describes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/schema"
)

// CheckIn is the input of EnqueueCheckIn.
type CheckIn struct {
	Date        string
	ChildName   string
	Service     string
	DayTag      string
	CheckInTime string
	Details     schema.SessionDetails
}

// PendingRecord is the result of EnqueueCheckIn.
type PendingRecord struct {
	Record    *schema.AttendanceRecord `json:"record"`
	QueueID   int64                    `json:"queue_id"`
	QueueUUID string                   `json:"queue_uuid"`
}

// CheckoutBatch is the result of EnqueueCheckout.
type CheckoutBatch struct {
	QueueID       int64    `json:"queue_id"`
	AttendanceIDs []int64  `json:"attendance_ids"`
	ChildNames    []string `json:"child_names"`
}

// Manager owns the attendance_log and sync_queue state transitions.
type Manager struct {
	db     *db.DB
	logger *slog.Logger
}

// New creates a queue manager over an initialized store.
func New(store *db.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:     store,
		logger: logger.With("component", "queue"),
	}
}

// SameChild reports whether two child names refer to the same child,
// ignoring case and surrounding whitespace.
func SameChild(a, b string) bool {
	return foldName(a) == foldName(b)
}

// foldName builds a fresh Caser per call; Casers are stateful.
func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// EnqueueCheckIn durably records a pending check-in and its queue item.
// Returns *DuplicateCheckInError if the child already has an open local check-in for the date.
func (m *Manager) EnqueueCheckIn(ctx context.Context, in CheckIn) (*PendingRecord, error) {
	rec := newRecord(in)

	var result *PendingRecord
	err := m.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := m.checkDuplicate(ctx, tx, rec.ChildName, rec.Date); err != nil {
			return err
		}

		if _, err := tx.InsertAttendance(ctx, rec); err != nil {
			return err
		}

		payload, err := json.Marshal(schema.NewCheckInPayload(rec))
		if err != nil {
			return fmt.Errorf("failed to marshal check_in payload: %w", err)
		}

		recordID := rec.ID
		item := &schema.QueueItem{
			SyncUUID:  uuid.NewString(),
			RecordID:  &recordID,
			Operation: schema.OpCheckIn,
			Payload:   payload,
		}
		if _, err := tx.InsertQueueItem(ctx, item); err != nil {
			return err
		}

		result = &PendingRecord{Record: rec, QueueID: item.ID, QueueUUID: item.SyncUUID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("check-in queued",
		"attendance_id", result.Record.ID,
		"queue_id", result.QueueID,
		"child", result.Record.ChildName,
		"date", result.Record.Date)
	return result, nil
}

// RecordShadowCheckIn stores a check-in that is already confirmed, without a queue item.
// Used when no remote backend is configured and the local store is authoritative.
func (m *Manager) RecordShadowCheckIn(ctx context.Context, in CheckIn) (*schema.AttendanceRecord, error) {
	rec := newRecord(in)
	now := time.Now().UTC()
	rec.SyncStatus = schema.SyncSynced
	rec.SyncedAt = &now

	err := m.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := m.checkDuplicate(ctx, tx, rec.ChildName, rec.Date); err != nil {
			return err
		}
		_, err := tx.InsertAttendance(ctx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EnqueueCheckout marks every open check-in for (date, dayTag) as checked out
// and queues one checkout operation covering them.
//
// A queue item is written even when nothing matches locally: the tag may have
// been checked in on another device.
func (m *Manager) EnqueueCheckout(ctx context.Context, date, dayTag, checkoutTime string) (*CheckoutBatch, error) {
	if date == "" || dayTag == "" || checkoutTime == "" {
		return nil, fmt.Errorf("date, day_tag and checkout_time are required")
	}

	batch := &CheckoutBatch{AttendanceIDs: []int64{}, ChildNames: []string{}}
	err := m.db.WithTx(ctx, func(tx *db.Tx) error {
		open, err := tx.QueryAttendance(ctx, db.AttendanceFilter{
			Date:   date,
			DayTag: dayTag,
			Status: schema.StatusCheckedIn,
		})
		if err != nil {
			return err
		}

		checkedOut := schema.StatusCheckedOut
		pending := schema.SyncPending
		for _, rec := range open {
			err := tx.UpdateAttendance(ctx, rec.ID, db.AttendanceUpdate{
				Status:       &checkedOut,
				CheckOutTime: &checkoutTime,
				SyncStatus:   &pending,
			})
			if err != nil {
				return err
			}
			batch.AttendanceIDs = append(batch.AttendanceIDs, rec.ID)
			batch.ChildNames = append(batch.ChildNames, rec.ChildName)
		}

		payload, err := json.Marshal(schema.CheckoutPayload{
			AttendanceIDs: batch.AttendanceIDs,
			Date:          date,
			DayTag:        dayTag,
			CheckoutTime:  checkoutTime,
			ChildNames:    batch.ChildNames,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal checkout payload: %w", err)
		}

		item := &schema.QueueItem{
			SyncUUID:  uuid.NewString(),
			Operation: schema.OpCheckout,
			Payload:   payload,
		}
		if _, err := tx.InsertQueueItem(ctx, item); err != nil {
			return err
		}
		batch.QueueID = item.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("checkout queued",
		"queue_id", batch.QueueID,
		"date", date,
		"day_tag", dayTag,
		"children", len(batch.ChildNames))
	return batch, nil
}

// RecordShadowCheckout checks out (date, dayTag) locally as already confirmed.
func (m *Manager) RecordShadowCheckout(ctx context.Context, date, dayTag, checkoutTime string) ([]string, error) {
	var names []string
	err := m.db.WithTx(ctx, func(tx *db.Tx) error {
		open, err := tx.QueryAttendance(ctx, db.AttendanceFilter{
			Date:   date,
			DayTag: dayTag,
			Status: schema.StatusCheckedIn,
		})
		if err != nil {
			return err
		}

		checkedOut := schema.StatusCheckedOut
		synced := schema.SyncSynced
		for _, rec := range open {
			err := tx.UpdateAttendance(ctx, rec.ID, db.AttendanceUpdate{
				Status:       &checkedOut,
				CheckOutTime: &checkoutTime,
				SyncStatus:   &synced,
			})
			if err != nil {
				return err
			}
			names = append(names, rec.ChildName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// RecordAttempt increments the attempt counter before a replay is dispatched.
func (m *Manager) RecordAttempt(ctx context.Context, queueID int64) error {
	return m.db.UpdateQueueItemContext(ctx, queueID, db.QueueUpdate{IncrementAttempts: true})
}

// RecordError stores the last error on an item and leaves it pending for the next flush.
func (m *Manager) RecordError(ctx context.Context, queueID int64, cause error) error {
	msg := cause.Error()
	return m.db.UpdateQueueItemContext(ctx, queueID, db.QueueUpdate{LastError: &msg})
}

// MarkItemSynced marks a queue item delivered and clears its last error.
func (m *Manager) MarkItemSynced(ctx context.Context, queueID int64) error {
	synced := schema.SyncSynced
	empty := ""
	return m.db.UpdateQueueItemContext(ctx, queueID, db.QueueUpdate{Status: &synced, LastError: &empty})
}

// MarkItemFailed parks an item until ResetFailed. Attempts are kept.
func (m *Manager) MarkItemFailed(ctx context.Context, queueID int64, cause error) error {
	failed := schema.SyncFailed
	msg := cause.Error()
	return m.db.UpdateQueueItemContext(ctx, queueID, db.QueueUpdate{Status: &failed, LastError: &msg})
}

// MarkAttendanceSynced marks a record as present on the remote.
func (m *Manager) MarkAttendanceSynced(ctx context.Context, attendanceID int64) error {
	synced := schema.SyncSynced
	return m.db.UpdateAttendanceContext(ctx, attendanceID, db.AttendanceUpdate{SyncStatus: &synced})
}

// MarkAttendanceFailed flags a record whose latest remote write failed.
func (m *Manager) MarkAttendanceFailed(ctx context.Context, attendanceID int64) error {
	failed := schema.SyncFailed
	return m.db.UpdateAttendanceContext(ctx, attendanceID, db.AttendanceUpdate{SyncStatus: &failed})
}

// ResetFailed moves every failed queue item back to pending.
func (m *Manager) ResetFailed(ctx context.Context) (int, error) {
	n, err := m.db.ResetFailedQueueContext(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("failed queue items reset", "count", n)
	}
	return int(n), nil
}

// Pending returns up to limit pending items, oldest first.
func (m *Manager) Pending(ctx context.Context, limit int) ([]*schema.QueueItem, error) {
	return m.db.QueryPendingQueueContext(ctx, limit)
}

// Item returns one queue item.
func (m *Manager) Item(ctx context.Context, queueID int64) (*schema.QueueItem, error) {
	return m.db.GetQueueItemContext(ctx, queueID)
}

// Items returns queue items matching the filter, oldest first.
func (m *Manager) Items(ctx context.Context, filter db.QueueFilter) ([]*schema.QueueItem, error) {
	return m.db.QueryQueueContext(ctx, filter)
}

// PendingRecords returns unsynced attendance records, optionally for one date.
func (m *Manager) PendingRecords(ctx context.Context, date string) ([]*schema.AttendanceRecord, error) {
	return m.db.QueryAttendanceContext(ctx, db.AttendanceFilter{Date: date, Unsynced: true})
}

// Records returns every local attendance record, optionally for one date.
func (m *Manager) Records(ctx context.Context, date string) ([]*schema.AttendanceRecord, error) {
	return m.db.QueryAttendanceContext(ctx, db.AttendanceFilter{Date: date})
}

// Record returns one local attendance record.
func (m *Manager) Record(ctx context.Context, attendanceID int64) (*schema.AttendanceRecord, error) {
	return m.db.GetAttendanceContext(ctx, attendanceID)
}

// DeleteLocal removes a record that never reached the remote, with its unsynced queue items.
// Returns db.ErrAlreadySynced when the remote already holds the record.
func (m *Manager) DeleteLocal(ctx context.Context, attendanceID int64) error {
	err := m.db.WithTx(ctx, func(tx *db.Tx) error {
		rec, err := tx.GetAttendance(ctx, attendanceID)
		if err != nil {
			return err
		}
		if rec.SyncStatus == schema.SyncSynced {
			return fmt.Errorf("attendance %d: %w", attendanceID, db.ErrAlreadySynced)
		}
		if _, err := tx.DeleteUnsyncedQueueForRecord(ctx, attendanceID); err != nil {
			return err
		}
		return tx.DeleteAttendance(ctx, attendanceID)
	})
	if err != nil {
		return err
	}
	m.logger.Info("local attendance deleted", "attendance_id", attendanceID)
	return nil
}

// Stats returns queue and attendance sync counts.
func (m *Manager) Stats(ctx context.Context) (*db.QueueStats, error) {
	return m.db.QueueStatsContext(ctx)
}

func (m *Manager) checkDuplicate(ctx context.Context, tx *db.Tx, childName, date string) error {
	open, err := tx.QueryAttendance(ctx, db.AttendanceFilter{Date: date, Status: schema.StatusCheckedIn})
	if err != nil {
		return err
	}
	want := foldName(childName)
	for _, rec := range open {
		if foldName(rec.ChildName) == want {
			return &DuplicateCheckInError{ChildName: childName, Date: date, ExistingID: rec.ID}
		}
	}
	return nil
}

func newRecord(in CheckIn) *schema.AttendanceRecord {
	rec := &schema.AttendanceRecord{
		SyncUUID:       uuid.NewString(),
		Date:           strings.TrimSpace(in.Date),
		ChildName:      strings.TrimSpace(in.ChildName),
		Service:        strings.TrimSpace(in.Service),
		DayTag:         strings.TrimSpace(in.DayTag),
		CheckInTime:    strings.TrimSpace(in.CheckInTime),
		Status:         schema.StatusCheckedIn,
		SessionDetails: in.Details,
	}
	rec.SetDefaults()
	return rec
}

// IsDuplicate reports whether err is a duplicate check-in rejection.
func IsDuplicate(err error) bool {
	var dup *DuplicateCheckInError
	return errors.As(err, &dup)
}
