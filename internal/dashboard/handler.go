package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

// FlushCompleteData is the payload of a flush_complete message.
type FlushCompleteData struct {
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// StatsSource reports queue depth.
type StatsSource interface {
	QueueStats(ctx context.Context) (*db.QueueStats, error)
}

// Handler turns syncer and attendance events into dashboard messages.
// It implements syncer.Notifier and attendance.Observer.
type Handler struct {
	server *Server
	stats  StatsSource
	logger *slog.Logger
}

var (
	_ syncer.Notifier     = (*Handler)(nil)
	_ attendance.Observer = (*Handler)(nil)
)

// NewHandler creates a handler broadcasting through server. stats may be nil.
func NewHandler(server *Server, stats StatsSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{server: server, stats: stats, logger: logger.With("component", "dashboard")}
	server.SetWelcome(h.statsMessage)
	return h
}

// FlushCompleted implements syncer.Notifier.
func (h *Handler) FlushCompleted(summary syncer.Summary) {
	h.send(MessageTypeFlushComplete, FlushCompleteData{
		Processed:  summary.Processed,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		DurationMS: summary.Duration.Milliseconds(),
	})
	h.broadcastStats()
}

// AttendanceChanged implements attendance.Observer.
func (h *Handler) AttendanceChanged(change attendance.Change) {
	h.send(MessageTypeRecordUpdate, change)
	h.broadcastStats()
}

func (h *Handler) broadcastStats() {
	if msg, ok := h.statsMessage(); ok {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) statsMessage() (Message, bool) {
	if h.stats == nil {
		return Message{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := h.stats.QueueStats(ctx)
	if err != nil {
		h.logger.Debug("queue stats unavailable", "error", err)
		return Message{}, false
	}
	return h.message(MessageTypeQueueStats, stats)
}

func (h *Handler) send(t MessageType, data any) {
	if msg, ok := h.message(t, data); ok {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) message(t MessageType, data any) (Message, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("failed to marshal message", "type", t, "error", err)
		return Message{}, false
	}
	return Message{Type: t, Timestamp: time.Now(), Data: raw}, true
}
