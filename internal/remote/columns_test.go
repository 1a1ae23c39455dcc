package remote

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestRowValues_FollowHeaderOrder(t *testing.T) {
	row := Row{Date: "2024-06-01", ChildName: "Ada", DayTag: "T7", Status: "Checked-In"}
	headers := []string{"Status", "Unknown", " Child Name ", "Date"}

	assert.Equal(t, []string{"Checked-In", "", "Ada", "2024-06-01"}, row.Values(headers))
}

func TestRowFromValues_ShortRowAndLabelFallback(t *testing.T) {
	headers := []string{"Date", "Child Name", "Service", "Session Label", "Day Tag"}
	row := RowFromValues(headers, []string{"2024-06-01", " Ada ", "Morning"}, 5)

	assert.Equal(t, 5, row.RowID)
	assert.Equal(t, "Ada", row.ChildName)
	assert.Equal(t, "Morning", row.SessionLabel)
	assert.Empty(t, row.DayTag)
}

func TestMergeHeaders(t *testing.T) {
	merged, changed := mergeHeaders(Headers)
	assert.False(t, changed)
	assert.Equal(t, Headers, merged)

	custom := []string{"Date", "Child Name", "Volunteer"}
	merged, changed = mergeHeaders(custom)
	assert.True(t, changed)
	assert.Equal(t, custom, merged[:3], "existing columns keep their position")
	assert.Len(t, merged, len(Headers)+1)
}

func TestRequireColumns(t *testing.T) {
	err := requireColumns(columnIndex([]string{"Date", "Status"}), checkoutHeaders)

	var sm *SchemaMismatchError
	assert.True(t, errors.As(err, &sm))
	assert.ElementsMatch(t, []string{"Day Tag", "Check-out Time", "Child Name"}, sm.Missing)
	assert.True(t, IsSchemaMismatch(err))
}

func TestUnavailable(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := Unavailable(base)

	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, err, Unavailable(err), "wrapping is idempotent")
	assert.Nil(t, Unavailable(nil))
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{1: "A", 16: "P", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for col, want := range tests {
		assert.Equal(t, want, columnLetter(col), "column %d", col)
	}
}

func TestClassifyGoogleError(t *testing.T) {
	assert.Nil(t, classifyGoogleError(nil))
	assert.True(t, IsUnavailable(classifyGoogleError(errors.New("i/o timeout"))))
	assert.True(t, IsUnavailable(classifyGoogleError(&googleapi.Error{Code: http.StatusTooManyRequests})))
	assert.True(t, IsUnavailable(classifyGoogleError(&googleapi.Error{Code: http.StatusBadGateway})))
	assert.False(t, IsUnavailable(classifyGoogleError(&googleapi.Error{Code: http.StatusForbidden})))
}

func TestRowRecordRoundTrip(t *testing.T) {
	row := Row{Date: "2024-06-01", ChildName: "Ada", Service: "Morning", DayTag: "T7",
		CheckInTime: "08:00 AM", Status: "Checked-In", CampGroup: "Blue"}

	rec := row.Record()
	assert.Equal(t, "Morning", rec.SessionLabel)
	assert.Equal(t, "Blue", rec.CampGroup)

	back := RowFromRecord(&rec)
	assert.Equal(t, row.NaturalKey(), back.NaturalKey())
	assert.Equal(t, "Morning", back.SessionLabel)
}
