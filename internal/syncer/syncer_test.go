package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/remote/remotetest"
	"github.com/rebootcamp/attendsync/internal/schema"
)

type fixture struct {
	store  *db.DB
	queue  *queue.Manager
	remote *remotetest.Backend
	syncer *Syncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema())

	q := queue.New(store, nil)
	fake := remotetest.New()
	return &fixture{
		store:  store,
		queue:  q,
		remote: fake,
		syncer: New(q, fake, Config{}),
	}
}

func (f *fixture) checkIn(t *testing.T, child, tag string) *queue.PendingRecord {
	t.Helper()
	p, err := f.queue.EnqueueCheckIn(context.Background(), queue.CheckIn{
		Date:        "2024-06-01",
		ChildName:   child,
		Service:     "Morning",
		DayTag:      tag,
		CheckInTime: "08:00 AM",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) record(t *testing.T, id int64) *schema.AttendanceRecord {
	t.Helper()
	rec, err := f.store.GetAttendance(id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) item(t *testing.T, id int64) *schema.QueueItem {
	t.Helper()
	item, err := f.store.GetQueueItem(id)
	require.NoError(t, err)
	return item
}

type recordingNotifier struct {
	summaries []Summary
}

func (r *recordingNotifier) FlushCompleted(s Summary) {
	r.summaries = append(r.summaries, s)
}

func TestFlush_SingleCheckIn(t *testing.T) {
	f := newFixture(t)
	p := f.checkIn(t, "Ada", "T7")

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	rec := f.record(t, p.Record.ID)
	assert.Equal(t, schema.SyncSynced, rec.SyncStatus)
	assert.NotNil(t, rec.SyncedAt)

	item := f.item(t, p.QueueID)
	assert.Equal(t, schema.SyncSynced, item.Status)
	assert.Equal(t, 1, item.Attempts)

	rows := f.remote.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0].ChildName)
	assert.Equal(t, "Checked-In", rows[0].Status)
	assert.Equal(t, "Morning", rows[0].SessionLabel)
}

func TestFlush_Convergence(t *testing.T) {
	f := newFixture(t)
	var pending []*queue.PendingRecord
	for _, child := range []string{"Ada", "Grace", "Linus", "Margaret", "Barbara"} {
		pending = append(pending, f.checkIn(t, child, "T7"))
	}

	summary, err := f.syncer.Flush(context.Background(), len(pending))
	require.NoError(t, err)
	assert.Equal(t, len(pending), summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	for _, p := range pending {
		assert.Equal(t, schema.SyncSynced, f.record(t, p.Record.ID).SyncStatus)
	}
}

func TestFlush_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	ada := f.checkIn(t, "Ada", "T7")
	grace := f.checkIn(t, "Grace", "T7")
	linus := f.checkIn(t, "Linus", "T7")

	f.remote.FailAppendFor("Grace", remote.Unavailable(errors.New("connection reset")))

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	assert.Equal(t, schema.SyncSynced, f.item(t, ada.QueueID).Status)
	assert.Equal(t, schema.SyncSynced, f.item(t, linus.QueueID).Status)

	failed := f.item(t, grace.QueueID)
	assert.Equal(t, schema.SyncPending, failed.Status, "retryable failures stay pending")
	assert.Contains(t, failed.LastError, "connection reset")
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, schema.SyncPending, f.record(t, grace.Record.ID).SyncStatus)

	// Next flush picks it up once the remote recovers.
	f.remote.Heal()
	summary, err = f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, f.item(t, grace.QueueID).Attempts)
	assert.Equal(t, schema.SyncSynced, f.record(t, grace.Record.ID).SyncStatus)
}

func TestFlush_FIFOOrder(t *testing.T) {
	f := newFixture(t)
	for _, child := range []string{"Ada", "Grace", "Linus"} {
		f.checkIn(t, child, "T7")
	}

	_, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)

	var order []string
	for _, row := range f.remote.Appends {
		order = append(order, row.ChildName)
	}
	assert.Equal(t, []string{"Ada", "Grace", "Linus"}, order)
}

func TestFlush_RespectsLimit(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, "Ada", "T7")
	f.checkIn(t, "Grace", "T7")
	f.checkIn(t, "Linus", "T7")

	summary, err := f.syncer.Flush(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	pending, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestFlush_SyncedItemsAreNotReplayed(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, "Ada", "T7")

	_, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, 1, f.remote.AppendCount())
}

func TestFlush_AlreadyLandedIsMarkedWithoutAppend(t *testing.T) {
	f := newFixture(t)
	p := f.checkIn(t, "Ada", "T7")

	// A previous attempt reached the remote but the local mark was lost.
	require.NoError(t, f.remote.AppendRecord(context.Background(), remote.RowFromRecord(p.Record)))
	appended := f.remote.AppendCount()

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, appended, f.remote.AppendCount(), "no duplicate remote row")
	assert.Equal(t, schema.SyncSynced, f.record(t, p.Record.ID).SyncStatus)
}

func TestFlush_RemoteDuplicateIsPermanent(t *testing.T) {
	f := newFixture(t)
	p := f.checkIn(t, "Ada", "T7")

	// Another device checked Ada in at a different time.
	other := remote.RowFromRecord(p.Record)
	other.CheckInTime = "07:45 AM"
	other.DayTag = "T2"
	require.NoError(t, f.remote.AppendRecord(context.Background(), other))

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	item := f.item(t, p.QueueID)
	assert.Equal(t, schema.SyncFailed, item.Status)
	assert.Contains(t, item.LastError, "already checked in")
	assert.Equal(t, schema.SyncFailed, f.record(t, p.Record.ID).SyncStatus)
}

func TestFlush_UnknownOperationIsPermanent(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.InsertQueueItem(&schema.QueueItem{
		SyncUUID:  "q-archive",
		Operation: "archive",
		Payload:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	item := f.item(t, id)
	assert.Equal(t, schema.SyncFailed, item.Status)
	assert.Contains(t, item.LastError, "unknown operation")

	// Parked until reset.
	summary, err = f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

func TestFlush_CorruptPayloadIsPermanent(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.InsertQueueItem(&schema.QueueItem{
		SyncUUID:  "q-corrupt",
		Operation: schema.OpCheckIn,
		Payload:   json.RawMessage(`{"attendance_id":"not-a-number"}`),
	})
	require.NoError(t, err)

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, schema.SyncFailed, f.item(t, id).Status)
	assert.Equal(t, 0, f.remote.AppendCount())
}

func TestFlush_CheckoutAfterCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.checkIn(t, "Ada", "T7")
	grace := f.checkIn(t, "Grace", "T7")

	batch, err := f.queue.EnqueueCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)

	summary, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)

	for _, row := range f.remote.Rows() {
		assert.Equal(t, "Checked-Out", row.Status)
		assert.Equal(t, "12:00 PM", row.CheckOutTime)
	}
	for _, id := range []int64{ada.Record.ID, grace.Record.ID} {
		rec := f.record(t, id)
		assert.Equal(t, schema.StatusCheckedOut, rec.Status)
		assert.Equal(t, schema.SyncSynced, rec.SyncStatus)
	}
	assert.Equal(t, schema.SyncSynced, f.item(t, batch.QueueID).Status)
}

func TestFlush_CheckoutWaitsForUndeliveredCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.checkIn(t, "Ada", "T7")
	batch, err := f.queue.EnqueueCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)

	f.remote.FailAppendsWith(remote.Unavailable(errors.New("offline")))

	summary, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, f.remote.Checkouts, "checkout not sent ahead of its check-in")

	item := f.item(t, batch.QueueID)
	assert.Equal(t, schema.SyncPending, item.Status)
	assert.Contains(t, item.LastError, "not yet delivered")
	assert.Equal(t, schema.SyncPending, f.record(t, ada.Record.ID).SyncStatus)

	f.remote.Heal()
	summary, err = f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, schema.SyncSynced, f.record(t, ada.Record.ID).SyncStatus)
}

func TestFlush_CheckoutParkedBehindFailedCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.checkIn(t, "Ada", "T7")

	// Another device checked Ada in under a different tag.
	other := remote.RowFromRecord(ada.Record)
	other.DayTag = "T2"
	other.CheckInTime = "07:45 AM"
	require.NoError(t, f.remote.AppendRecord(ctx, other))

	batch, err := f.queue.EnqueueCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)

	summary, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, f.remote.Checkouts)

	item := f.item(t, batch.QueueID)
	assert.Equal(t, schema.SyncFailed, item.Status)
	assert.Contains(t, item.LastError, fmt.Sprintf("queue item %d", ada.QueueID))

	// Parked, so later flushes leave it alone.
	summary, err = f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, 1, f.item(t, batch.QueueID).Attempts)

	// Once the conflict is cleared, a reset recovers both in order.
	require.NoError(t, f.remote.DeleteRow(ctx, f.remote.Rows()[0].RowID))
	n, err := f.queue.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	summary, err = f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, schema.SyncSynced, f.item(t, batch.QueueID).Status)

	rows := f.remote.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Checked-Out", rows[0].Status)
}

func TestFlush_CheckInWaitsForQueuedCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkIn(t, "Ada", "T7")
	_, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)

	batch, err := f.queue.EnqueueCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)
	again, err := f.queue.EnqueueCheckIn(ctx, queue.CheckIn{
		Date:        "2024-06-01",
		ChildName:   "Ada",
		Service:     "Afternoon",
		DayTag:      "T8",
		CheckInTime: "01:00 PM",
	})
	require.NoError(t, err)

	// The remote still shows the morning row as checked in.
	f.remote.CheckoutErr = remote.Unavailable(errors.New("offline"))
	summary, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)

	item := f.item(t, again.QueueID)
	assert.Equal(t, schema.SyncPending, item.Status)
	assert.Contains(t, item.LastError, "earlier checkout not yet delivered")

	f.remote.Heal()
	summary, err = f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, schema.SyncSynced, f.item(t, batch.QueueID).Status)
	assert.Equal(t, schema.SyncSynced, f.record(t, again.Record.ID).SyncStatus)

	rows := f.remote.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "Checked-Out", rows[0].Status)
	assert.Equal(t, "Checked-In", rows[1].Status)
	assert.Equal(t, "T8", rows[1].DayTag)
}

func TestFlush_CheckoutNameFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.checkIn(t, "Ada", "T7")

	_, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)

	batch, err := f.queue.EnqueueCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)

	// Remote already reflects the checkout from an earlier partial attempt.
	_, err = f.remote.BulkUpdateCheckout(ctx, "2024-06-01", "T7", "12:00 PM")
	require.NoError(t, err)

	summary, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, schema.SyncSynced, f.item(t, batch.QueueID).Status)
	assert.Equal(t, schema.SyncSynced, f.record(t, ada.Record.ID).SyncStatus)
}

func TestFlush_EmptyCheckoutIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.queue.EnqueueCheckout(ctx, "2024-06-01", "T99", "12:00 PM")
	require.NoError(t, err)

	summary, err := f.syncer.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, schema.SyncSynced, f.item(t, batch.QueueID).Status)
}

func TestFlush_NilBackendIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, "Ada", "T7")

	s := New(f.queue, nil, Config{})
	assert.False(t, s.Enabled())

	summary, err := s.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)

	pending, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Attempts)

	assert.ErrorIs(t, s.Deliver(context.Background(), pending[0].ID), ErrNoRemote)
}

func TestFlush_NotifiesSummary(t *testing.T) {
	f := newFixture(t)
	n := &recordingNotifier{}
	f.syncer.SetNotifier(n)
	f.checkIn(t, "Ada", "T7")

	_, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, n.summaries, 1)
	assert.Equal(t, 1, n.summaries[0].Processed)

	// Empty flushes stay quiet.
	_, err = f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, n.summaries, 1)
}

func TestDeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.checkIn(t, "Ada", "T7")

	require.NoError(t, f.syncer.Deliver(ctx, p.QueueID))
	assert.Equal(t, schema.SyncSynced, f.item(t, p.QueueID).Status)
	assert.Equal(t, schema.SyncSynced, f.record(t, p.Record.ID).SyncStatus)

	// Idempotent on synced items.
	require.NoError(t, f.syncer.Deliver(ctx, p.QueueID))
	assert.Equal(t, 1, f.remote.AppendCount())
	assert.Equal(t, 1, f.item(t, p.QueueID).Attempts)
}

func TestDeliver_RecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.checkIn(t, "Ada", "T7")
	f.remote.FailAppendsWith(remote.Unavailable(errors.New("offline")))

	err := f.syncer.Deliver(ctx, p.QueueID)
	assert.True(t, remote.IsUnavailable(err))

	item := f.item(t, p.QueueID)
	assert.Equal(t, schema.SyncPending, item.Status)
	assert.Contains(t, item.LastError, "offline")
}

func TestDeliver_ReplaysOlderItemsFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.checkIn(t, "Ada", "T7")
	grace := f.checkIn(t, "Grace", "T7")

	require.NoError(t, f.syncer.Deliver(ctx, grace.QueueID))

	rows := f.remote.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "Ada", rows[0].ChildName)
	assert.Equal(t, "Grace", rows[1].ChildName)
	assert.Equal(t, schema.SyncSynced, f.item(t, ada.QueueID).Status)
	assert.Equal(t, schema.SyncSynced, f.item(t, grace.QueueID).Status)
}

func TestDeliver_BacklogLeftForFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := New(f.queue, f.remote, Config{BatchSize: 1})
	ada := f.checkIn(t, "Ada", "T7")
	grace := f.checkIn(t, "Grace", "T7")

	err := s.Deliver(ctx, grace.QueueID)
	require.ErrorIs(t, err, ErrQueueBacklog)
	assert.False(t, IsPermanent(err))

	assert.Equal(t, schema.SyncSynced, f.item(t, ada.QueueID).Status)
	item := f.item(t, grace.QueueID)
	assert.Equal(t, schema.SyncPending, item.Status)
	assert.Zero(t, item.Attempts)
}

func TestFlush_ScenarioAdaMorningT7(t *testing.T) {
	f := newFixture(t)
	p := f.checkIn(t, "Ada", "T7")

	rec := f.record(t, p.Record.ID)
	assert.Equal(t, schema.StatusCheckedIn, rec.Status)
	assert.Equal(t, "Checked-In", string(rec.Status))
	assert.Equal(t, schema.SyncPending, rec.SyncStatus)

	summary, err := f.syncer.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, "synced", string(f.record(t, p.Record.ID).SyncStatus))
}
