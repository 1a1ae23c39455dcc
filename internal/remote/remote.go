// Package remote defines the remote attendance store and its adapters.
//
// The remote is the eventual source of truth for synced attendance. Adapters:
//   - SheetBackend: a spreadsheet worksheet (GoogleWorksheet in production)
//   - PostgresBackend: a shared PostgreSQL table
//   - CachedBackend: TTL cache of ListRecords in front of either
//
// Transport failures surface as ErrUnavailable so callers can keep the write
// queued. A remote whose columns don't line up surfaces as *SchemaMismatchError.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rebootcamp/attendsync/internal/schema"
)

// Backend is the remote attendance store.
type Backend interface {
	// AppendRecord appends one attendance row.
	AppendRecord(ctx context.Context, row Row) error

	// BulkUpdateCheckout checks out every Checked-In row for (date, dayTag)
	// and returns the child names it updated.
	BulkUpdateCheckout(ctx context.Context, date, dayTag, checkoutTime string) ([]string, error)

	// ListRecords returns every remote row in backend order.
	ListRecords(ctx context.Context) ([]Row, error)
}

// Deleter is implemented by backends that can remove a row by RowID.
type Deleter interface {
	DeleteRow(ctx context.Context, rowID int) error
}

// Pinger is implemented by backends with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrUnavailable marks failures contacting the remote backend.
var ErrUnavailable = errors.New("remote unavailable")

// ErrDeleteUnsupported is returned when the backend cannot delete rows.
var ErrDeleteUnsupported = errors.New("remote backend does not support deletes")

// Unavailable wraps a transport failure so errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsUnavailable reports whether err is a transport failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// SchemaMismatchError reports required remote columns that are missing.
type SchemaMismatchError struct {
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("remote attendance store is missing required column(s): %s", strings.Join(e.Missing, ", "))
}

// IsSchemaMismatch reports whether err is a *SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

// Row is one attendance row as stored remotely.
type Row struct {
	// RowID locates the row in the backend: the 1-based sheet row or the table id.
	RowID int `json:"row_id"`

	Date           string `json:"date"`
	ChildName      string `json:"child_name"`
	EventName      string `json:"event_name"`
	EventID        string `json:"event_id"`
	SessionLabel   string `json:"session_label"`
	SessionPeriod  string `json:"session_period"`
	SessionID      string `json:"session_id"`
	State          string `json:"state"`
	ChurchLocation string `json:"church_location"`
	CampGroup      string `json:"camp_group"`
	Service        string `json:"service"`
	DayTag         string `json:"day_tag"`
	CheckInTime    string `json:"check_in_time"`
	CheckOutTime   string `json:"check_out_time"`
	Status         string `json:"status"`
	Notes          string `json:"notes"`
}

// RowFromRecord builds the remote row for an attendance record.
func RowFromRecord(rec *schema.AttendanceRecord) Row {
	label := rec.SessionLabel
	if label == "" {
		label = rec.Service
	}
	status := rec.Status
	if status == "" {
		status = schema.StatusCheckedIn
	}
	return Row{
		Date:           rec.Date,
		ChildName:      rec.ChildName,
		EventName:      rec.EventName,
		EventID:        rec.EventID,
		SessionLabel:   label,
		SessionPeriod:  rec.SessionPeriod,
		SessionID:      rec.SessionID,
		State:          rec.State,
		ChurchLocation: rec.ChurchLocation,
		CampGroup:      rec.CampGroup,
		Service:        rec.Service,
		DayTag:         rec.DayTag,
		CheckInTime:    rec.CheckInTime,
		CheckOutTime:   rec.CheckOutTime,
		Status:         string(status),
		Notes:          rec.Notes,
	}
}

// Record converts the row into a synced attendance record view.
// The local id and sync_uuid are unknown for remote rows.
func (r Row) Record() schema.AttendanceRecord {
	label := r.SessionLabel
	if label == "" {
		label = r.Service
	}
	return schema.AttendanceRecord{
		Date:         r.Date,
		ChildName:    r.ChildName,
		Service:      r.Service,
		DayTag:       r.DayTag,
		CheckInTime:  r.CheckInTime,
		CheckOutTime: r.CheckOutTime,
		Status:       schema.AttendanceStatus(r.Status),
		SessionDetails: schema.SessionDetails{
			EventID:        r.EventID,
			EventName:      r.EventName,
			SessionID:      r.SessionID,
			SessionLabel:   label,
			SessionPeriod:  r.SessionPeriod,
			State:          r.State,
			ChurchLocation: r.ChurchLocation,
			CampGroup:      r.CampGroup,
			Notes:          r.Notes,
		},
		SyncStatus: schema.SyncSynced,
	}
}

// IsCheckedIn reports whether the row is an open check-in.
func (r Row) IsCheckedIn() bool {
	return strings.TrimSpace(r.Status) == string(schema.StatusCheckedIn)
}

// NaturalKey identifies the attendance event described by the row.
func (r Row) NaturalKey() string {
	return schema.NaturalKey(r.Date, r.ChildName, r.DayTag, r.CheckInTime)
}
