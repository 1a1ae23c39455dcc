package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/logging"
	"github.com/rebootcamp/attendsync/internal/reconcile"
	"github.com/rebootcamp/attendsync/internal/schema"
)

// defaultQueueLimit bounds GET /sync/queue when no limit is given.
const defaultQueueLimit = 100

type handlers struct {
	svc    *attendance.Service
	logger *slog.Logger
}

func (h *handlers) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), h.logger)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errMsgInvalidBody)
		return false
	}
	return true
}

func validDate(date string) bool {
	if date == "" {
		return true
	}
	_, err := time.Parse(schema.DateLayout, date)
	return err == nil
}

func (h *handlers) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req attendance.CheckInRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.CheckIn(r.Context(), req)
	if err != nil {
		if result != nil {
			status, message := mapServiceError(err)
			h.log(r).Warn("Check-in stored locally but rejected by remote", "error", err)
			respondJSON(w, status, CheckInErrorResponse{ErrorResponse: ErrorResponse{Error: message}, Result: result})
			return
		}
		respondServiceError(w, h.log(r), err)
		return
	}

	status := http.StatusCreated
	if result.Pending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// CheckInErrorResponse carries the parked local record alongside the remote rejection.
type CheckInErrorResponse struct {
	ErrorResponse
	Result *attendance.CheckInResult `json:"result"`
}

// CheckoutErrorResponse carries the local outcome alongside a remote schema failure.
type CheckoutErrorResponse struct {
	ErrorResponse
	Result *attendance.CheckoutResult `json:"result"`
}

func (h *handlers) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req attendance.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Checkout(r.Context(), req.Date, req.DayTag, req.CheckoutTime)
	if err != nil {
		if result != nil {
			status, message := mapServiceError(err)
			h.log(r).Warn("Checkout stored locally but rejected by remote", "error", err)
			respondJSON(w, status, CheckoutErrorResponse{ErrorResponse: ErrorResponse{Error: message}, Result: result})
			return
		}
		respondServiceError(w, h.log(r), err)
		return
	}

	status := http.StatusOK
	if result.Pending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

func (h *handlers) handleRecords(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if !validDate(date) {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	view, err := h.svc.Records(r.Context(), date)
	if err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// CheckedInResponse lists the children still checked in.
type CheckedInResponse struct {
	Date    string             `json:"date"`
	DayTag  string             `json:"day_tag,omitempty"`
	Records []reconcile.Record `json:"records"`
}

func (h *handlers) handleCheckedIn(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	tag := r.URL.Query().Get("tag")
	if !validDate(date) {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if date == "" {
		date = h.svc.Today()
	}

	records, err := h.svc.CheckedInChildren(r.Context(), date, tag)
	if err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	respondJSON(w, http.StatusOK, CheckedInResponse{Date: date, DayTag: tag, Records: records})
}

func (h *handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	source := reconcile.Provenance(r.URL.Query().Get("source"))
	if source == "" {
		source = reconcile.ProvenanceLocal
	}

	if err := h.svc.Delete(r.Context(), id, source); err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FlushResponse reports one flush.
type FlushResponse struct {
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

func (h *handlers) handleFlush(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Flush(r.Context())
	if err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	respondJSON(w, http.StatusOK, FlushResponse{
		Processed:  summary.Processed,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		DurationMS: summary.Duration.Milliseconds(),
	})
}

// RetryResponse reports how many failed items went back to pending.
type RetryResponse struct {
	Reset int `json:"reset"`
}

func (h *handlers) handleRetry(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RetryFailed(r.Context())
	if err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	respondJSON(w, http.StatusOK, RetryResponse{Reset: n})
}

// QueueResponse is the queue inspection view.
type QueueResponse struct {
	Stats *db.QueueStats      `json:"stats"`
	Items []*schema.QueueItem `json:"items"`
}

func (h *handlers) handleQueue(w http.ResponseWriter, r *http.Request) {
	status := schema.SyncStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		respondError(w, http.StatusBadRequest, "status must be pending, synced or failed")
		return
	}
	limit := defaultQueueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	stats, err := h.svc.QueueStats(r.Context())
	if err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	items, err := h.svc.PendingItems(r.Context(), status, limit)
	if err != nil {
		respondServiceError(w, h.log(r), err)
		return
	}
	if items == nil {
		items = []*schema.QueueItem{}
	}
	respondJSON(w, http.StatusOK, QueueResponse{Stats: stats, Items: items})
}
