// Package reconcile merges confirmed remote rows with unsynced local records
// into a single read view.
package reconcile

import (
	"sort"
	"time"

	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/schema"
)

// Provenance says where a merged record was read from.
type Provenance string

const (
	ProvenanceRemote Provenance = "remote"
	ProvenanceLocal  Provenance = "local"
)

// IsValid reports whether p is a known provenance.
func (p Provenance) IsValid() bool {
	return p == ProvenanceRemote || p == ProvenanceLocal
}

// Record is one entry of the unified view.
// For remote records RowID addresses the remote row and ID is zero;
// for local records ID is the local attendance id and RowID is zero.
type Record struct {
	schema.AttendanceRecord
	RowID      int        `json:"row_id,omitempty"`
	Provenance Provenance `json:"source"`
}

// Merge builds the unified view: remote rows first, in backend order, then
// local records that have not been confirmed synced.
//
// A remote row whose natural key matches a pending local record is dropped in
// favour of the local copy, so a check-in that reached the remote but whose
// local mark was lost shows up once.
func Merge(remoteRows []remote.Row, local []*schema.AttendanceRecord) []Record {
	unsynced := make([]*schema.AttendanceRecord, 0, len(local))
	keys := make(map[string]struct{}, len(local))
	for _, rec := range local {
		if rec == nil || rec.SyncStatus == schema.SyncSynced {
			continue
		}
		unsynced = append(unsynced, rec)
		keys[rec.NaturalKey()] = struct{}{}
	}

	out := make([]Record, 0, len(remoteRows)+len(unsynced))
	for _, row := range remoteRows {
		if _, shadowed := keys[row.NaturalKey()]; shadowed {
			continue
		}
		out = append(out, Record{
			AttendanceRecord: row.Record(),
			RowID:            row.RowID,
			Provenance:       ProvenanceRemote,
		})
	}
	for _, rec := range unsynced {
		out = append(out, Record{
			AttendanceRecord: *rec,
			Provenance:       ProvenanceLocal,
		})
	}
	return out
}

// FilterDate keeps the records for date. An empty date keeps everything.
func FilterDate(records []Record, date string) []Record {
	if date == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}

// FilterRows keeps the remote rows for date. An empty date keeps everything.
func FilterRows(rows []remote.Row, date string) []remote.Row {
	if date == "" {
		return rows
	}
	out := make([]remote.Row, 0, len(rows))
	for _, r := range rows {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}

// CheckedIn returns the records for date and day tag still checked in.
// An empty tag matches every tag.
func CheckedIn(records []Record, date, dayTag string) []Record {
	var out []Record
	for _, r := range records {
		if r.Date != date || !r.IsCheckedIn() {
			continue
		}
		if dayTag != "" && r.DayTag != dayTag {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortChronological orders records by date then check-in time. Times that do
// not parse sort after those that do; ties keep their merge order.
func SortChronological(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		ta, okA := clock(a.CheckInTime)
		tb, okB := clock(b.CheckInTime)
		switch {
		case okA && okB:
			return ta.Before(tb)
		case okA != okB:
			return okA
		default:
			return false
		}
	})
}

func clock(s string) (time.Time, bool) {
	t, err := time.Parse(schema.ClockLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
