package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/metrics"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/schema"
)

// snapshot is the remote state seen by one flush, loaded on first use and
// kept current with the writes the flush itself makes.
type snapshot struct {
	rows   []remote.Row
	loaded bool
}

func (s *Syncer) loadSnapshot(ctx context.Context, snap *snapshot) error {
	if snap.loaded {
		return nil
	}
	rows, err := s.remote.ListRecords(ctx)
	metrics.ObserveRemote("list_records", err)
	if err != nil {
		return fmt.Errorf("failed to read remote state: %w", err)
	}
	snap.rows = rows
	snap.loaded = true
	return nil
}

func (s *Syncer) dispatch(ctx context.Context, item *schema.QueueItem, snap *snapshot) error {
	switch item.Operation {
	case schema.OpCheckIn:
		return s.replayCheckIn(ctx, item, snap)
	case schema.OpCheckout:
		return s.replayCheckout(ctx, item, snap)
	default:
		return permanent(item, fmt.Errorf("%w: %q", ErrUnknownOperation, item.Operation))
	}
}

func (s *Syncer) replayCheckIn(ctx context.Context, item *schema.QueueItem, snap *snapshot) error {
	payload, err := schema.DecodeCheckIn(item.Payload)
	if err != nil {
		return permanent(item, fmt.Errorf("%w: %v", ErrCorruptPayload, err))
	}

	// Re-check remote state: enqueue-time checks only saw this device.
	if err := s.loadSnapshot(ctx, snap); err != nil {
		return err
	}

	rec := payload.Record()
	row := remote.RowFromRecord(&rec)
	key := row.NaturalKey()

	landed := false
	for _, existing := range snap.rows {
		if existing.NaturalKey() == key {
			landed = true
			break
		}
		if existing.Date == rec.Date && existing.IsCheckedIn() && queue.SameChild(existing.ChildName, rec.ChildName) {
			queued, err := s.checkoutQueuedBefore(ctx, item, existing.Date, existing.DayTag)
			if err != nil {
				return local(err)
			}
			if queued {
				return fmt.Errorf("%w: %s under tag %s", ErrCheckoutPending, existing.ChildName, existing.DayTag)
			}
			return permanent(item, fmt.Errorf("%w: %s on %s", ErrDuplicateRemote, rec.ChildName, rec.Date))
		}
	}

	if landed {
		s.logger.Info("check-in already on remote, marking synced",
			"queue_id", item.ID,
			"attendance_id", payload.AttendanceID)
	} else {
		err := s.remote.AppendRecord(ctx, row)
		metrics.ObserveRemote("append_record", err)
		if err != nil {
			return err
		}
		snap.rows = append(snap.rows, row)
	}

	if err := s.markCheckInSynced(ctx, payload.AttendanceID); err != nil {
		return local(err)
	}
	return local(s.queue.MarkItemSynced(ctx, item.ID))
}

// markCheckInSynced marks the record synced unless a local checkout has since
// re-opened it; the checkout's own queue item settles it then.
func (s *Syncer) markCheckInSynced(ctx context.Context, attendanceID int64) error {
	rec, err := s.queue.Record(ctx, attendanceID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.IsCheckedIn() {
		return nil
	}
	return s.queue.MarkAttendanceSynced(ctx, attendanceID)
}

func (s *Syncer) replayCheckout(ctx context.Context, item *schema.QueueItem, snap *snapshot) error {
	payload, err := schema.DecodeCheckout(item.Payload)
	if err != nil {
		return permanent(item, fmt.Errorf("%w: %v", ErrCorruptPayload, err))
	}

	// A checkout must not overtake the check-ins it closes.
	if err := s.checkInsDelivered(ctx, item, payload.AttendanceIDs); err != nil {
		return err
	}

	children, err := s.remote.BulkUpdateCheckout(ctx, payload.Date, payload.DayTag, payload.CheckoutTime)
	metrics.ObserveRemote("bulk_update_checkout", err)
	if err != nil {
		return err
	}
	if len(children) == 0 && len(payload.ChildNames) > 0 {
		// A prior partial attempt may already have checked these rows out.
		children = payload.ChildNames
	}

	for i := range snap.rows {
		r := &snap.rows[i]
		if r.Date == payload.Date && r.DayTag == payload.DayTag && r.IsCheckedIn() {
			r.Status = string(schema.StatusCheckedOut)
			r.CheckOutTime = payload.CheckoutTime
		}
	}

	for _, id := range payload.AttendanceIDs {
		if err := s.queue.MarkAttendanceSynced(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
			return local(err)
		}
	}

	s.logger.Debug("checkout replayed",
		"queue_id", item.ID,
		"day_tag", payload.DayTag,
		"children", len(children))
	return local(s.queue.MarkItemSynced(ctx, item.ID))
}

// checkInsDelivered holds back a checkout until the check_in items of its
// records are synced. A pending one is transient: ErrCheckInPending. A failed
// one will not recover on its own, so the checkout is parked with it.
func (s *Syncer) checkInsDelivered(ctx context.Context, item *schema.QueueItem, attendanceIDs []int64) error {
	var waiting error
	for _, id := range attendanceIDs {
		recordID := id
		items, err := s.queue.Items(ctx, db.QueueFilter{RecordID: &recordID, Operation: schema.OpCheckIn})
		if err != nil {
			return local(err)
		}
		for _, it := range items {
			switch it.Status {
			case schema.SyncFailed:
				return permanent(item, fmt.Errorf("%w: attendance %d (queue item %d): %s", ErrCheckInFailed, id, it.ID, it.LastError))
			case schema.SyncPending:
				if waiting == nil {
					waiting = fmt.Errorf("%w: attendance %d (queue item %d)", ErrCheckInPending, id, it.ID)
				}
			}
		}
	}
	return waiting
}

// checkoutQueuedBefore reports whether a checkout of date and dayTag was
// queued ahead of item and is still pending.
func (s *Syncer) checkoutQueuedBefore(ctx context.Context, item *schema.QueueItem, date, dayTag string) (bool, error) {
	checkouts, err := s.queue.Items(ctx, db.QueueFilter{Status: schema.SyncPending, Operation: schema.OpCheckout})
	if err != nil {
		return false, err
	}
	for _, co := range checkouts {
		if !queuedBefore(co, item) {
			continue
		}
		payload, err := schema.DecodeCheckout(co.Payload)
		if err != nil {
			continue
		}
		if payload.Date == date && strings.TrimSpace(payload.DayTag) == strings.TrimSpace(dayTag) {
			return true, nil
		}
	}
	return false, nil
}

// queuedBefore orders items the way the queue drains them.
func queuedBefore(a, b *schema.QueueItem) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
