package remote

import "strings"

// Remote column headers, in the order a fresh worksheet is laid out.
const (
	HeaderDate           = "Date"
	HeaderChildName      = "Child Name"
	HeaderEventName      = "Event Name"
	HeaderEventID        = "Event ID"
	HeaderSessionLabel   = "Session Label"
	HeaderSessionPeriod  = "Session Period"
	HeaderSessionID      = "Session ID"
	HeaderState          = "State"
	HeaderChurchLocation = "Church Location"
	HeaderCampGroup      = "Camp Group"
	HeaderService        = "Service"
	HeaderDayTag         = "Day Tag"
	HeaderCheckInTime    = "Check-in Time"
	HeaderCheckOutTime   = "Check-out Time"
	HeaderStatus         = "Status"
	HeaderNotes          = "Notes"
)

// Headers is the expected column set of the remote attendance sheet.
var Headers = []string{
	HeaderDate,
	HeaderChildName,
	HeaderEventName,
	HeaderEventID,
	HeaderSessionLabel,
	HeaderSessionPeriod,
	HeaderSessionID,
	HeaderState,
	HeaderChurchLocation,
	HeaderCampGroup,
	HeaderService,
	HeaderDayTag,
	HeaderCheckInTime,
	HeaderCheckOutTime,
	HeaderStatus,
	HeaderNotes,
}

// checkoutHeaders must all be present to replay a checkout.
var checkoutHeaders = []string{HeaderDate, HeaderDayTag, HeaderStatus, HeaderCheckOutTime, HeaderChildName}

// field returns a pointer to the Row field stored under header, or nil for unknown headers.
func (r *Row) field(header string) *string {
	switch strings.TrimSpace(header) {
	case HeaderDate:
		return &r.Date
	case HeaderChildName:
		return &r.ChildName
	case HeaderEventName:
		return &r.EventName
	case HeaderEventID:
		return &r.EventID
	case HeaderSessionLabel:
		return &r.SessionLabel
	case HeaderSessionPeriod:
		return &r.SessionPeriod
	case HeaderSessionID:
		return &r.SessionID
	case HeaderState:
		return &r.State
	case HeaderChurchLocation:
		return &r.ChurchLocation
	case HeaderCampGroup:
		return &r.CampGroup
	case HeaderService:
		return &r.Service
	case HeaderDayTag:
		return &r.DayTag
	case HeaderCheckInTime:
		return &r.CheckInTime
	case HeaderCheckOutTime:
		return &r.CheckOutTime
	case HeaderStatus:
		return &r.Status
	case HeaderNotes:
		return &r.Notes
	}
	return nil
}

// Values lays the row out under the given headers. Unknown headers get empty cells.
func (r Row) Values(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		if f := r.field(h); f != nil {
			out[i] = *f
		}
	}
	return out
}

// RowFromValues maps a worksheet row onto a Row using its header row.
// Short rows are padded; unknown columns are ignored.
func RowFromValues(headers, values []string, rowID int) Row {
	row := Row{RowID: rowID}
	for i, h := range headers {
		if i >= len(values) {
			break
		}
		if f := row.field(h); f != nil {
			*f = strings.TrimSpace(values[i])
		}
	}
	if row.SessionLabel == "" {
		row.SessionLabel = row.Service
	}
	return row
}

// columnIndex maps trimmed header names to their 0-based column.
// The first occurrence wins for repeated headers.
func columnIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if _, ok := idx[h]; !ok {
			idx[h] = i
		}
	}
	return idx
}

// mergeHeaders appends any expected header missing from current.
func mergeHeaders(current []string) ([]string, bool) {
	idx := columnIndex(current)
	merged := append([]string(nil), current...)
	changed := false
	for _, h := range Headers {
		if _, ok := idx[h]; !ok {
			merged = append(merged, h)
			changed = true
		}
	}
	return merged, changed
}

// requireColumns returns a *SchemaMismatchError naming any missing header.
func requireColumns(idx map[string]int, required []string) error {
	var missing []string
	for _, h := range required {
		if _, ok := idx[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return &SchemaMismatchError{Missing: missing}
	}
	return nil
}

// cell returns row[i] trimmed, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
