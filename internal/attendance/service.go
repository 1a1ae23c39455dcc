// Package attendance is the data-access layer the presentation surfaces use.
//
// Writes land in the local store first and are then offered to the remote
// immediately. A failed immediate attempt is not an error for the caller:
// the queued item is replayed by the next flush.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rebootcamp/attendsync/internal/catalog"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/metrics"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/reconcile"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/schema"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

// DefaultTimezone is used for "today" and "now" when no location is configured.
const DefaultTimezone = "Africa/Lagos"

var (
	// ErrDeleteUnsupported is returned when the remote backend cannot delete rows.
	ErrDeleteUnsupported = remote.ErrDeleteUnsupported

	// ErrInvalidProvenance is returned by Delete for an unknown source.
	ErrInvalidProvenance = errors.New("source must be local or remote")
)

// Change describes a write, for live views.
type Change struct {
	Action     string   `json:"action"` // check_in, checkout or delete
	Date       string   `json:"date,omitempty"`
	DayTag     string   `json:"day_tag,omitempty"`
	ChildNames []string `json:"child_names,omitempty"`
	Synced     bool     `json:"synced"`
}

// Observer is told about every successful write.
type Observer interface {
	AttendanceChanged(change Change)
}

// Config configures a Service.
type Config struct {
	Catalog *catalog.Catalog
	// Location is the timezone for default dates and times.
	Location *time.Location
	// FlushAfterWrite drains the queue after a write reaches the remote.
	FlushAfterWrite bool
	Logger          *slog.Logger
	Observer        Observer
	// Now is overridable in tests.
	Now func() time.Time
}

// Service implements check-in, checkout and the read views on top of the
// queue, the syncer and the remote backend.
type Service struct {
	queue     *queue.Manager
	syncer    *syncer.Syncer
	remote    remote.Backend
	catalog   *catalog.Catalog
	loc       *time.Location
	flush     bool
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time
	validator *validator.Validate
}

// New creates a Service. A nil backend selects local-only mode, where the
// local store is authoritative and nothing is queued.
func New(q *queue.Manager, s *syncer.Syncer, backend remote.Backend, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
		if l, err := time.LoadLocation(DefaultTimezone); err == nil {
			loc = l
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		queue:     q,
		syncer:    s,
		remote:    backend,
		catalog:   cat,
		loc:       loc,
		flush:     cfg.FlushAfterWrite,
		logger:    logger.With("component", "attendance"),
		observer:  cfg.Observer,
		now:       now,
		validator: newValidator(),
	}
}

// LocalOnly reports whether the service runs without a remote backend.
func (s *Service) LocalOnly() bool {
	return s.remote == nil
}

// SetObserver replaces the write observer. Call before serving requests.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Catalog returns the event catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Now returns the current time in the service timezone.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Today returns the current date in the service timezone.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(schema.DateLayout)
}

// Clock returns the current time of day in the service timezone.
func (s *Service) Clock() string {
	return s.now().In(s.loc).Format(schema.ClockLayout)
}

// CheckInRequest is the input of CheckIn. Date and CheckInTime default to now.
type CheckInRequest struct {
	Date           string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ChildName      string `json:"child_name" validate:"required,max=120"`
	DayTag         string `json:"day_tag" validate:"required,max=32"`
	Service        string `json:"service" validate:"max=120"`
	CheckInTime    string `json:"check_in_time" validate:"clock"`
	EventID        string `json:"event_id" validate:"max=120"`
	SessionID      string `json:"session_id" validate:"max=120"`
	SessionLabel   string `json:"session_label" validate:"max=120"`
	State          string `json:"state" validate:"max=120"`
	ChurchLocation string `json:"church_location" validate:"max=120"`
	CampGroup      string `json:"camp_group" validate:"max=120"`
	Notes          string `json:"notes" validate:"max=500"`
}

// CheckInResult reports where a check-in ended up.
type CheckInResult struct {
	Record *schema.AttendanceRecord `json:"record"`
	// QueueID is zero in local-only mode.
	QueueID int64 `json:"queue_id,omitempty"`
	// Synced is true once the remote holds the row, or always in local-only mode.
	Synced bool `json:"synced"`
	// Pending is true when the row waits in the queue for a later flush.
	Pending bool   `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// CheckIn records a child's arrival.
//
// A child already checked in on the date, locally or on the remote, is
// rejected with *queue.DuplicateCheckInError. A check-in the remote rejects
// for good is parked as failed and returned as *syncer.PermanentError
// alongside the populated result.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	req = trimCheckIn(req)
	if err := s.validate(req); err != nil {
		return nil, err
	}
	in, err := s.resolveCheckIn(req)
	if err != nil {
		return nil, err
	}

	view, err := s.Records(ctx, in.Date)
	if err != nil {
		return nil, err
	}
	for _, rec := range view.Records {
		if rec.IsCheckedIn() && queue.SameChild(rec.ChildName, in.ChildName) {
			return nil, &queue.DuplicateCheckInError{ChildName: in.ChildName, Date: in.Date, ExistingID: rec.ID}
		}
	}

	if s.LocalOnly() {
		rec, err := s.queue.RecordShadowCheckIn(ctx, in)
		if err != nil {
			return nil, err
		}
		metrics.CheckIns.WithLabelValues(metrics.ModeLocal).Inc()
		s.notify(Change{Action: "check_in", Date: rec.Date, DayTag: rec.DayTag, ChildNames: []string{rec.ChildName}, Synced: true})
		return &CheckInResult{Record: rec, Synced: true}, nil
	}

	pending, err := s.queue.EnqueueCheckIn(ctx, in)
	if err != nil {
		return nil, err
	}
	result := &CheckInResult{Record: pending.Record, QueueID: pending.QueueID}

	deliverErr := s.syncer.Deliver(ctx, pending.QueueID)
	switch {
	case deliverErr == nil:
		result.Synced = true
		metrics.CheckIns.WithLabelValues(metrics.ModeImmediate).Inc()
		s.flushAfterWrite(ctx)
	case errors.Is(deliverErr, syncer.ErrStore):
		return nil, deliverErr
	default:
		result.Error = deliverErr.Error()
		if !syncer.IsPermanent(deliverErr) {
			result.Pending = true
			if merr := s.queue.MarkAttendanceFailed(ctx, pending.Record.ID); merr != nil {
				return nil, fmt.Errorf("failed to flag attendance %d: %w", pending.Record.ID, merr)
			}
		}
		s.logger.Warn("immediate check-in sync failed",
			"attendance_id", pending.Record.ID,
			"queue_id", pending.QueueID,
			"error", deliverErr)
		metrics.CheckIns.WithLabelValues(metrics.ModeQueued).Inc()
	}

	if rec, err := s.queue.Record(ctx, pending.Record.ID); err == nil {
		result.Record = rec
	}
	s.notify(Change{Action: "check_in", Date: in.Date, DayTag: in.DayTag, ChildNames: []string{in.ChildName}, Synced: result.Synced})
	if syncer.IsPermanent(deliverErr) {
		return result, deliverErr
	}
	return result, nil
}

func trimCheckIn(req CheckInRequest) CheckInRequest {
	for _, f := range []*string{
		&req.Date, &req.ChildName, &req.DayTag, &req.Service, &req.CheckInTime,
		&req.EventID, &req.SessionID, &req.SessionLabel, &req.State,
		&req.ChurchLocation, &req.CampGroup, &req.Notes,
	} {
		*f = strings.TrimSpace(*f)
	}
	return req
}

// resolveCheckIn fills defaults and the event and session details from the catalog.
func (s *Service) resolveCheckIn(req CheckInRequest) (queue.CheckIn, error) {
	event := s.catalog.Event(req.EventID)
	details := schema.SessionDetails{
		EventID:        event.ID,
		EventName:      event.Name,
		SessionLabel:   req.SessionLabel,
		State:          req.State,
		ChurchLocation: req.ChurchLocation,
		CampGroup:      req.CampGroup,
		Notes:          req.Notes,
	}
	if session, ok := s.catalog.Session(event.ID, req.SessionID); ok {
		details.SessionID = session.ID
		details.SessionLabel = session.Label
		details.SessionPeriod = session.Period
	} else if req.SessionID != "" {
		return queue.CheckIn{}, &ValidationError{Fields: map[string]string{"session_id": "Unknown session"}}
	}

	service := firstNonEmpty(req.Service, details.SessionPeriod, details.SessionLabel)
	if service == "" {
		return queue.CheckIn{}, &ValidationError{Fields: map[string]string{"service": "This field is required"}}
	}

	in := queue.CheckIn{
		Date:        req.Date,
		ChildName:   req.ChildName,
		Service:     service,
		DayTag:      req.DayTag,
		CheckInTime: req.CheckInTime,
		Details:     details,
	}
	if in.Date == "" {
		in.Date = s.Today()
	}
	if in.CheckInTime == "" {
		in.CheckInTime = s.Clock()
	}
	return in, nil
}

// CheckoutRequest is the input of Checkout. Date and CheckoutTime default to now.
type CheckoutRequest struct {
	Date         string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DayTag       string `json:"day_tag" validate:"required,max=32"`
	CheckoutTime string `json:"checkout_time" validate:"clock"`
}

// CheckoutResult reports which children were checked out.
type CheckoutResult struct {
	Date         string   `json:"date"`
	DayTag       string   `json:"day_tag"`
	CheckoutTime string   `json:"checkout_time"`
	ChildNames   []string `json:"child_names"`
	QueueID      int64    `json:"queue_id,omitempty"`
	Synced       bool     `json:"synced"`
	Pending      bool     `json:"pending"`
	Error        string   `json:"error,omitempty"`
}

// Checkout checks out every child checked in under a day tag.
//
// A remote sheet missing required columns is returned as
// *remote.SchemaMismatchError alongside the populated result: the local
// checkout stands and stays queued. A checkout parked as failed is returned
// as *syncer.PermanentError the same way.
func (s *Service) Checkout(ctx context.Context, date, dayTag, checkoutTime string) (*CheckoutResult, error) {
	req := CheckoutRequest{
		Date:         strings.TrimSpace(date),
		DayTag:       strings.TrimSpace(dayTag),
		CheckoutTime: strings.TrimSpace(checkoutTime),
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.Date == "" {
		req.Date = s.Today()
	}
	if req.CheckoutTime == "" {
		req.CheckoutTime = s.Clock()
	}

	result := &CheckoutResult{
		Date:         req.Date,
		DayTag:       req.DayTag,
		CheckoutTime: req.CheckoutTime,
		ChildNames:   []string{},
	}

	if s.LocalOnly() {
		names, err := s.queue.RecordShadowCheckout(ctx, req.Date, req.DayTag, req.CheckoutTime)
		if err != nil {
			return nil, err
		}
		result.ChildNames = append(result.ChildNames, names...)
		result.Synced = true
		metrics.Checkouts.WithLabelValues(metrics.ModeLocal).Inc()
		s.notifyCheckout(result)
		return result, nil
	}

	batch, err := s.queue.EnqueueCheckout(ctx, req.Date, req.DayTag, req.CheckoutTime)
	if err != nil {
		return nil, err
	}
	result.QueueID = batch.QueueID
	result.ChildNames = batch.ChildNames

	err = s.syncer.Deliver(ctx, batch.QueueID)
	switch {
	case err == nil:
		result.Synced = true
		metrics.Checkouts.WithLabelValues(metrics.ModeImmediate).Inc()
		s.flushAfterWrite(ctx)
	case errors.Is(err, syncer.ErrStore):
		return nil, err
	default:
		result.Pending = !syncer.IsPermanent(err)
		result.Error = err.Error()
		metrics.Checkouts.WithLabelValues(metrics.ModeQueued).Inc()
		s.logger.Warn("immediate checkout sync failed",
			"queue_id", batch.QueueID,
			"date", req.Date,
			"day_tag", req.DayTag,
			"error", err)
	}

	s.notifyCheckout(result)
	if remote.IsSchemaMismatch(err) || syncer.IsPermanent(err) {
		return result, err
	}
	return result, nil
}

func (s *Service) flushAfterWrite(ctx context.Context) {
	if !s.flush {
		return
	}
	if _, err := s.syncer.Flush(ctx, 0); err != nil {
		s.logger.Warn("flush after write failed", "error", err)
	}
}

func (s *Service) notify(change Change) {
	if s.observer != nil {
		s.observer.AttendanceChanged(change)
	}
}

func (s *Service) notifyCheckout(r *CheckoutResult) {
	s.notify(Change{Action: "checkout", Date: r.Date, DayTag: r.DayTag, ChildNames: r.ChildNames, Synced: r.Synced})
}

// RecordsView is the unified read view for a date.
type RecordsView struct {
	Date    string             `json:"date,omitempty"`
	Records []reconcile.Record `json:"records"`
	// RemoteErr is set when the remote could not be read and the view is local only.
	RemoteErr string `json:"remote_error,omitempty"`
}

// Records returns confirmed remote rows plus unsynced local records.
// An empty date returns every date. Remote read failures degrade to the
// local records and are reported in RemoteErr.
func (s *Service) Records(ctx context.Context, date string) (*RecordsView, error) {
	local, err := s.queue.Records(ctx, date)
	if err != nil {
		return nil, err
	}

	view := &RecordsView{Date: date}
	if s.LocalOnly() {
		view.Records = make([]reconcile.Record, 0, len(local))
		for _, rec := range local {
			view.Records = append(view.Records, reconcile.Record{AttendanceRecord: *rec, Provenance: reconcile.ProvenanceLocal})
		}
		return view, nil
	}

	rows, err := s.remote.ListRecords(ctx)
	metrics.ObserveRemote("list_records", err)
	if err != nil {
		s.logger.Warn("remote read failed, showing local records only", "error", err)
		view.RemoteErr = err.Error()
		rows = nil
	}
	view.Records = reconcile.Merge(reconcile.FilterRows(rows, date), local)
	return view, nil
}

// CheckedInChildren returns the records still checked in on date, optionally
// narrowed to one day tag, in arrival order.
func (s *Service) CheckedInChildren(ctx context.Context, date, dayTag string) ([]reconcile.Record, error) {
	if date == "" {
		date = s.Today()
	}
	view, err := s.Records(ctx, date)
	if err != nil {
		return nil, err
	}
	out := reconcile.CheckedIn(view.Records, date, strings.TrimSpace(dayTag))
	reconcile.SortChronological(out)
	return out, nil
}

// Delete removes a record from the store named by source. Local ids address
// unsynced local records; remote ids address backend rows.
func (s *Service) Delete(ctx context.Context, id int64, source reconcile.Provenance) error {
	switch source {
	case reconcile.ProvenanceLocal:
		if err := s.queue.DeleteLocal(ctx, id); err != nil {
			return err
		}
	case reconcile.ProvenanceRemote:
		deleter, ok := s.remote.(remote.Deleter)
		if !ok {
			return ErrDeleteUnsupported
		}
		err := deleter.DeleteRow(ctx, int(id))
		metrics.ObserveRemote("delete_row", err)
		if err != nil {
			return fmt.Errorf("failed to delete remote row %d: %w", id, err)
		}
	default:
		return ErrInvalidProvenance
	}

	s.logger.Info("attendance deleted", "id", id, "source", source)
	s.notify(Change{Action: "delete", Synced: source == reconcile.ProvenanceRemote})
	return nil
}

// Flush drains one batch of the queue.
func (s *Service) Flush(ctx context.Context) (syncer.Summary, error) {
	return s.syncer.Flush(ctx, 0)
}

// RetryFailed returns failed queue items to pending.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	return s.queue.ResetFailed(ctx)
}

// QueueStats returns queue and record sync counts.
func (s *Service) QueueStats(ctx context.Context) (*db.QueueStats, error) {
	return s.queue.Stats(ctx)
}

// PendingItems lists queue items by status, oldest first.
func (s *Service) PendingItems(ctx context.Context, status schema.SyncStatus, limit int) ([]*schema.QueueItem, error) {
	return s.queue.Items(ctx, db.QueueFilter{Status: status, Limit: limit})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
