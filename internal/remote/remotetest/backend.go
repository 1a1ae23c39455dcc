// Package remotetest provides in-memory remote backends for tests.
package remotetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/schema"
)

// Backend is a scriptable in-memory remote.Backend.
// The zero value is not usable; call New.
type Backend struct {
	mu   sync.Mutex
	rows []remote.Row
	next int

	// AppendErr, when set, is consulted before every append. A non-nil return fails the call.
	AppendErr func(row remote.Row) error
	// CheckoutErr fails BulkUpdateCheckout when set.
	CheckoutErr error
	// ListErr fails ListRecords when set.
	ListErr error
	// StaleLists makes that many ListRecords calls return no rows, like a
	// reader that has not yet seen another device's writes.
	StaleLists int

	Appends   []remote.Row
	Checkouts []CheckoutCall
	Lists     int
}

// CheckoutCall records one BulkUpdateCheckout invocation.
type CheckoutCall struct {
	Date, DayTag, CheckoutTime string
}

// New creates an empty backend. Row ids start at 2 like a sheet with a header.
func New(rows ...remote.Row) *Backend {
	b := &Backend{next: 2}
	for _, r := range rows {
		r.RowID = b.next
		b.next++
		b.rows = append(b.rows, r)
	}
	return b
}

// FailAppendsWith fails every append with err.
func (b *Backend) FailAppendsWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AppendErr = func(remote.Row) error { return err }
}

// FailAppendFor fails appends of the named child only.
func (b *Backend) FailAppendFor(childName string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AppendErr = func(row remote.Row) error {
		if row.ChildName == childName {
			return err
		}
		return nil
	}
}

// Heal clears every scripted failure.
func (b *Backend) Heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AppendErr = nil
	b.CheckoutErr = nil
	b.ListErr = nil
}

// AppendRecord implements remote.Backend.
func (b *Backend) AppendRecord(_ context.Context, row remote.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.AppendErr != nil {
		if err := b.AppendErr(row); err != nil {
			return err
		}
	}
	row.RowID = b.next
	b.next++
	b.rows = append(b.rows, row)
	b.Appends = append(b.Appends, row)
	return nil
}

// BulkUpdateCheckout implements remote.Backend.
func (b *Backend) BulkUpdateCheckout(_ context.Context, date, dayTag, checkoutTime string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Checkouts = append(b.Checkouts, CheckoutCall{Date: date, DayTag: dayTag, CheckoutTime: checkoutTime})
	if b.CheckoutErr != nil {
		return nil, b.CheckoutErr
	}

	var names []string
	for i := range b.rows {
		r := &b.rows[i]
		if r.Date == date && strings.TrimSpace(r.DayTag) == strings.TrimSpace(dayTag) && r.IsCheckedIn() {
			r.CheckOutTime = checkoutTime
			r.Status = string(schema.StatusCheckedOut)
			names = append(names, r.ChildName)
		}
	}
	return names, nil
}

// ListRecords implements remote.Backend.
func (b *Backend) ListRecords(context.Context) ([]remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Lists++
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	if b.StaleLists > 0 {
		b.StaleLists--
		return nil, nil
	}
	return append([]remote.Row(nil), b.rows...), nil
}

// DeleteRow implements remote.Deleter.
func (b *Backend) DeleteRow(_ context.Context, rowID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range b.rows {
		if r.RowID == rowID {
			b.rows = append(b.rows[:i], b.rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("row %d not found", rowID)
}

// Rows returns a snapshot of the stored rows.
func (b *Backend) Rows() []remote.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]remote.Row(nil), b.rows...)
}

// AppendCount returns the number of successful appends.
func (b *Backend) AppendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Appends)
}
