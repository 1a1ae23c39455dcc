// Package syncer replays pending queue items against the remote backend.
//
// Delivery is at-least-once: each item's attempt is recorded before dispatch,
// and an item whose replay errors stays pending for the next flush. Items are
// drained strictly in creation order, and one item's failure never aborts the batch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/metrics"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/schema"
)

// DefaultBatchSize is the number of items drained per flush.
const DefaultBatchSize = 20

// Summary reports the outcome of one flush.
type Summary struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"` // left pending because the flush was cancelled
	Duration  time.Duration `json:"duration"`
}

// Notifier receives a summary after every flush that looked at the queue.
type Notifier interface {
	FlushCompleted(summary Summary)
}

// Config configures a Syncer.
type Config struct {
	// BatchSize bounds Flush when it is called with limit <= 0.
	BatchSize int
	Logger    *slog.Logger
	Notifier  Notifier
}

// Syncer drains the sync queue. Flushes are serialized.
type Syncer struct {
	queue    *queue.Manager
	remote   remote.Backend
	logger   *slog.Logger
	notifier Notifier
	batch    int

	mu sync.Mutex
}

// New creates a Syncer. A nil backend makes every flush a no-op.
func New(q *queue.Manager, backend remote.Backend, cfg Config) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Syncer{
		queue:    q,
		remote:   backend,
		logger:   logger.With("component", "syncer"),
		notifier: cfg.Notifier,
		batch:    batch,
	}
}

// Enabled reports whether a remote backend is configured.
func (s *Syncer) Enabled() bool {
	return s.remote != nil
}

// SetNotifier replaces the flush notifier.
func (s *Syncer) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Flush replays up to limit pending items in FIFO order.
//
// Remote failures are absorbed into queue state and counted in the summary.
// Local store failures abort the flush and are returned.
func (s *Syncer) Flush(ctx context.Context, limit int) (Summary, error) {
	if s.remote == nil {
		return Summary{}, nil
	}
	if limit <= 0 {
		limit = s.batch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var summary Summary

	items, err := s.queue.Pending(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("failed to load pending queue: %w", err)
	}
	if len(items) == 0 {
		return summary, nil
	}

	metrics.FlushRuns.Inc()
	snap := &snapshot{}

	for i, item := range items {
		if ctx.Err() != nil {
			summary.Skipped = len(items) - i
			break
		}

		err := s.replay(ctx, item, snap)
		switch {
		case err == nil:
			summary.Processed++
		case errors.Is(err, ErrStore):
			return summary, err
		default:
			summary.Failed++
		}
	}

	summary.Duration = time.Since(start)
	metrics.FlushDuration.Observe(summary.Duration.Seconds())
	s.publishDepth(ctx)

	s.logger.Info("flush complete",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration)

	if s.notifier != nil {
		s.notifier.FlushCompleted(summary)
	}
	return summary, nil
}

// Deliver replays a queue item right after it was enqueued.
//
// Older pending items are replayed first, in order, so the item never
// overtakes a write queued before it. Their failures are recorded on them;
// the item's own failure is recorded and returned. If more older items are
// pending than one batch holds, the item is left for Flush with ErrQueueBacklog.
func (s *Syncer) Deliver(ctx context.Context, queueID int64) error {
	if s.remote == nil {
		return ErrNoRemote
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.queue.Item(ctx, queueID)
	if err != nil {
		return storeError(err)
	}
	switch item.Status {
	case schema.SyncSynced:
		return nil
	case schema.SyncFailed:
		return s.replay(ctx, item, &snapshot{})
	}

	ahead, err := s.queue.Pending(ctx, s.batch)
	if err != nil {
		return storeError(fmt.Errorf("failed to load pending queue: %w", err))
	}
	snap := &snapshot{}
	for _, it := range ahead {
		if it.ID == item.ID {
			return s.replay(ctx, it, snap)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.replay(ctx, it, snap); errors.Is(err, ErrStore) {
			return err
		}
	}
	return fmt.Errorf("%w: queue item %d", ErrQueueBacklog, item.ID)
}

// replay delivers one item and settles its queue state. An error wrapping
// ErrStore must abort the caller; any other error is already recorded on the item.
func (s *Syncer) replay(ctx context.Context, item *schema.QueueItem, snap *snapshot) error {
	if err := s.queue.RecordAttempt(ctx, item.ID); err != nil {
		return storeError(fmt.Errorf("failed to record attempt on queue item %d: %w", item.ID, err))
	}

	err := s.dispatch(ctx, item, snap)
	if err == nil {
		metrics.QueueItemsReplayed.WithLabelValues(string(item.Operation), metrics.ResultSynced).Inc()
		return nil
	}

	var le *localError
	if errors.As(err, &le) {
		return storeError(le.err)
	}
	if ferr := s.recordFailure(ctx, item, err); ferr != nil {
		return storeError(ferr)
	}
	return err
}

func (s *Syncer) recordFailure(ctx context.Context, item *schema.QueueItem, cause error) error {
	if IsPermanent(cause) {
		metrics.QueueItemsReplayed.WithLabelValues(string(item.Operation), metrics.ResultFailed).Inc()
		s.logger.Warn("queue item failed permanently",
			"queue_id", item.ID,
			"operation", item.Operation,
			"attempts", item.Attempts+1,
			"error", cause)

		if err := s.queue.MarkItemFailed(ctx, item.ID, cause); err != nil {
			return fmt.Errorf("failed to park queue item %d: %w", item.ID, err)
		}
		if item.RecordID != nil {
			if err := s.queue.MarkAttendanceFailed(ctx, *item.RecordID); err != nil && !errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("failed to flag attendance %d: %w", *item.RecordID, err)
			}
		}
		return nil
	}

	metrics.QueueItemsReplayed.WithLabelValues(string(item.Operation), metrics.ResultRetry).Inc()
	s.logger.Warn("queue item replay failed",
		"queue_id", item.ID,
		"operation", item.Operation,
		"attempts", item.Attempts+1,
		"error", cause)

	if err := s.queue.RecordError(ctx, item.ID, cause); err != nil {
		return fmt.Errorf("failed to record error on queue item %d: %w", item.ID, err)
	}
	return nil
}

func (s *Syncer) publishDepth(ctx context.Context) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.logger.Debug("queue stats unavailable", "error", err)
		return
	}
	metrics.SetQueueDepth(stats.Pending, stats.Synced, stats.Failed)
}

// localError wraps a local store failure that must abort the flush.
type localError struct {
	err error
}

func (e *localError) Error() string { return e.err.Error() }

func (e *localError) Unwrap() error { return e.err }

func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func local(err error) error {
	if err == nil {
		return nil
	}
	return &localError{err: err}
}
