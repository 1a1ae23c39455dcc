package schema

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxErrorLength caps the error text stored on a queue item.
const MaxErrorLength = 500

// RecordTypeAttendance is the record_type of every queue item written today.
const RecordTypeAttendance = "attendance_log"

// Operation is a remote-bound operation kind.
type Operation string

const (
	OpCheckIn  Operation = "check_in"
	OpCheckout Operation = "checkout"
)

// IsValid reports whether op is an operation the executor knows how to replay.
func (op Operation) IsValid() bool {
	return op == OpCheckIn || op == OpCheckout
}

// QueueItem is a durable record of one remote-bound operation.
type QueueItem struct {
	ID            int64           `json:"id"`
	SyncUUID      string          `json:"sync_uuid"`
	RecordType    string          `json:"record_type"`
	RecordID      *int64          `json:"record_id,omitempty"` // nil for checkouts spanning many records
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Status        SyncStatus      `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks the queue item's field values.
// Operation is not checked against the known kinds: unknown operations must
// still load so the executor can fail them permanently.
func (q *QueueItem) Validate() error {
	if q.SyncUUID == "" {
		return fmt.Errorf("sync_uuid is required")
	}
	if q.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if len(q.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if !q.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", q.Status)
	}
	if q.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative (got %d)", q.Attempts)
	}
	return nil
}

// CheckInPayload is the replay payload of a check_in queue item.
type CheckInPayload struct {
	AttendanceID int64  `json:"attendance_id"`
	SyncUUID     string `json:"sync_uuid"`
	Date         string `json:"date"`
	ChildName    string `json:"child_name"`
	Service      string `json:"service"`
	DayTag       string `json:"day_tag"`
	CheckInTime  string `json:"check_in_time"`
	CheckOutTime string `json:"check_out_time,omitempty"`
	Status       string `json:"status,omitempty"`

	SessionDetails
}

// NewCheckInPayload snapshots a freshly inserted record.
func NewCheckInPayload(rec *AttendanceRecord) CheckInPayload {
	return CheckInPayload{
		AttendanceID:   rec.ID,
		SyncUUID:       rec.SyncUUID,
		Date:           rec.Date,
		ChildName:      rec.ChildName,
		Service:        rec.Service,
		DayTag:         rec.DayTag,
		CheckInTime:    rec.CheckInTime,
		CheckOutTime:   rec.CheckOutTime,
		Status:         string(rec.Status),
		SessionDetails: rec.SessionDetails,
	}
}

// Validate rejects payloads that cannot be replayed.
func (p *CheckInPayload) Validate() error {
	if p.AttendanceID <= 0 {
		return fmt.Errorf("attendance_id is required")
	}
	if p.Date == "" || p.ChildName == "" || p.DayTag == "" || p.CheckInTime == "" {
		return fmt.Errorf("date, child_name, day_tag and check_in_time are required")
	}
	return nil
}

// Record rebuilds the attendance fields described by the payload.
func (p *CheckInPayload) Record() AttendanceRecord {
	status := AttendanceStatus(p.Status)
	if !status.IsValid() {
		status = StatusCheckedIn
	}
	details := p.SessionDetails
	if details.SessionLabel == "" {
		details.SessionLabel = p.Service
	}
	return AttendanceRecord{
		ID:             p.AttendanceID,
		SyncUUID:       p.SyncUUID,
		Date:           p.Date,
		ChildName:      p.ChildName,
		Service:        p.Service,
		DayTag:         p.DayTag,
		CheckInTime:    p.CheckInTime,
		CheckOutTime:   p.CheckOutTime,
		Status:         status,
		SessionDetails: details,
	}
}

// CheckoutPayload is the replay payload of a checkout queue item.
type CheckoutPayload struct {
	AttendanceIDs []int64  `json:"attendance_ids"`
	Date          string   `json:"date"`
	DayTag        string   `json:"day_tag"`
	CheckoutTime  string   `json:"checkout_time"`
	ChildNames    []string `json:"child_names"`
}

// Validate rejects payloads that cannot be replayed.
func (p *CheckoutPayload) Validate() error {
	if p.Date == "" || p.DayTag == "" || p.CheckoutTime == "" {
		return fmt.Errorf("date, day_tag and checkout_time are required")
	}
	if len(p.AttendanceIDs) != len(p.ChildNames) {
		return fmt.Errorf("attendance_ids and child_names differ in length (%d != %d)",
			len(p.AttendanceIDs), len(p.ChildNames))
	}
	return nil
}

// DecodeCheckIn parses and validates a check_in payload.
func DecodeCheckIn(raw []byte) (*CheckInPayload, error) {
	var p CheckInPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse check_in payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid check_in payload: %w", err)
	}
	return &p, nil
}

// DecodeCheckout parses and validates a checkout payload.
func DecodeCheckout(raw []byte) (*CheckoutPayload, error) {
	var p CheckoutPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse checkout payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkout payload: %w", err)
	}
	return &p, nil
}

// TruncateError shortens msg to MaxErrorLength runes.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxErrorLength])
}
