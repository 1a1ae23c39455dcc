package schema

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used for AttendanceRecord.Date.
const DateLayout = "2006-01-02"

// ClockLayout is the wall-clock format used for check-in and check-out times.
const ClockLayout = "03:04 PM"

// AttendanceStatus is the check-in state of a record.
type AttendanceStatus string

const (
	StatusCheckedIn  AttendanceStatus = "Checked-In"
	StatusCheckedOut AttendanceStatus = "Checked-Out"
)

// IsValid reports whether s is a known attendance status.
func (s AttendanceStatus) IsValid() bool {
	return s == StatusCheckedIn || s == StatusCheckedOut
}

// SyncStatus tracks whether a local row has reached the remote backend.
// The same value set is used for attendance records and queue items.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// IsValid reports whether s is a known sync status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncFailed:
		return true
	}
	return false
}

// SessionDetails is the event, session and location metadata attached to a check-in.
type SessionDetails struct {
	EventID        string `json:"event_id,omitempty"`
	EventName      string `json:"event_name,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	SessionLabel   string `json:"session_label,omitempty"`
	SessionPeriod  string `json:"session_period,omitempty"`
	State          string `json:"state,omitempty"`
	ChurchLocation string `json:"church_location,omitempty"`
	CampGroup      string `json:"camp_group,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// AttendanceRecord is one child's attendance for a date and day tag.
type AttendanceRecord struct {
	// ===== Identity =====
	ID       int64  `json:"id"`        // local auto-increment id
	SyncUUID string `json:"sync_uuid"` // idempotency token minted at creation

	// ===== Attendance =====
	Date         string           `json:"date"`
	ChildName    string           `json:"child_name"`
	Service      string           `json:"service"`
	DayTag       string           `json:"day_tag"`
	CheckInTime  string           `json:"check_in_time"`
	CheckOutTime string           `json:"check_out_time"`
	Status       AttendanceStatus `json:"status"`

	SessionDetails

	// ===== Sync bookkeeping =====
	SyncStatus SyncStatus `json:"sync_status"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Validate checks the record's field values and status invariants.
func (r *AttendanceRecord) Validate() error {
	if r.Date == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", r.Date)
	}
	if strings.TrimSpace(r.ChildName) == "" {
		return fmt.Errorf("child_name is required")
	}
	if strings.TrimSpace(r.DayTag) == "" {
		return fmt.Errorf("day_tag is required")
	}
	if r.CheckInTime == "" {
		return fmt.Errorf("check_in_time is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", r.Status)
	}
	if r.Status == StatusCheckedIn && r.CheckOutTime != "" {
		return fmt.Errorf("checked-in record cannot have a check_out_time")
	}
	if !r.SyncStatus.IsValid() {
		return fmt.Errorf("invalid sync_status: %q", r.SyncStatus)
	}
	if r.SyncStatus != SyncSynced && r.SyncedAt != nil {
		return fmt.Errorf("synced_at is only set on synced records")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (r *AttendanceRecord) SetDefaults() {
	if r.Status == "" {
		r.Status = StatusCheckedIn
	}
	if r.SyncStatus == "" {
		r.SyncStatus = SyncPending
	}
	if r.SessionLabel == "" {
		r.SessionLabel = r.Service
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// IsCheckedIn reports whether the child is still checked in.
func (r *AttendanceRecord) IsCheckedIn() bool {
	return r.Status == StatusCheckedIn
}

// NaturalKey identifies the attendance event independently of local ids.
// Remote rows carry no sync_uuid, so this is what correlates the two sides.
func NaturalKey(date, childName, dayTag, checkInTime string) string {
	return strings.Join([]string{
		strings.TrimSpace(date),
		strings.TrimSpace(childName),
		strings.TrimSpace(dayTag),
		strings.TrimSpace(checkInTime),
	}, "\x1f")
}

// NaturalKey returns the record's natural key.
func (r *AttendanceRecord) NaturalKey() string {
	return NaturalKey(r.Date, r.ChildName, r.DayTag, r.CheckInTime)
}
