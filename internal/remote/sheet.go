package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rebootcamp/attendsync/internal/schema"
)

// CellUpdate sets one cell. Row and Col are 1-based, row 1 being the header.
type CellUpdate struct {
	Row   int
	Col   int
	Value string
}

// Worksheet is the spreadsheet surface SheetBackend needs.
type Worksheet interface {
	// Header returns row 1, or nil for an empty sheet.
	Header(ctx context.Context) ([]string, error)
	// SetHeader overwrites row 1.
	SetHeader(ctx context.Context, headers []string) error
	// AllValues returns every row including the header.
	AllValues(ctx context.Context) ([][]string, error)
	// AppendRow adds a row after the last non-empty row.
	AppendRow(ctx context.Context, values []string) error
	// UpdateCells writes the given cells in one round trip.
	UpdateCells(ctx context.Context, updates []CellUpdate) error
	// DeleteRow removes a 1-based row.
	DeleteRow(ctx context.Context, row int) error
}

// SheetBackend stores attendance as rows of a worksheet keyed by header names.
type SheetBackend struct {
	ws     Worksheet
	logger *slog.Logger

	mu      sync.Mutex
	headers []string // ensured header row, nil until first use
}

// NewSheetBackend creates a backend over ws.
func NewSheetBackend(ws Worksheet, logger *slog.Logger) *SheetBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetBackend{
		ws:     ws,
		logger: logger.With("component", "sheet_backend"),
	}
}

// EnsureHeaders makes sure every expected column exists, appending missing
// ones after the current header row, and returns the resulting header row.
func (b *SheetBackend) EnsureHeaders(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.headers != nil {
		return b.headers, nil
	}

	current, err := b.ws.Header(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	headers := current
	if len(current) == 0 {
		headers = append([]string(nil), Headers...)
		if err := b.ws.SetHeader(ctx, headers); err != nil {
			return nil, fmt.Errorf("failed to write header row: %w", err)
		}
		b.logger.Info("initialized attendance header row")
	} else if merged, changed := mergeHeaders(current); changed {
		if err := b.ws.SetHeader(ctx, merged); err != nil {
			return nil, fmt.Errorf("failed to extend header row: %w", err)
		}
		b.logger.Info("extended attendance header row", "added", len(merged)-len(current))
		headers = merged
	}

	b.headers = headers
	return headers, nil
}

// invalidateHeaders forces the next call to re-read the header row.
func (b *SheetBackend) invalidateHeaders() {
	b.mu.Lock()
	b.headers = nil
	b.mu.Unlock()
}

// AppendRecord appends row under the sheet's current headers.
func (b *SheetBackend) AppendRecord(ctx context.Context, row Row) error {
	headers, err := b.EnsureHeaders(ctx)
	if err != nil {
		return err
	}
	if err := requireColumns(columnIndex(headers), []string{HeaderDate, HeaderChildName, HeaderDayTag}); err != nil {
		b.invalidateHeaders()
		return err
	}

	if err := b.ws.AppendRow(ctx, row.Values(headers)); err != nil {
		return fmt.Errorf("failed to append attendance row for %s: %w", row.ChildName, err)
	}
	return nil
}

// BulkUpdateCheckout sets the checkout time and status on every Checked-In row for (date, dayTag).
func (b *SheetBackend) BulkUpdateCheckout(ctx context.Context, date, dayTag, checkoutTime string) ([]string, error) {
	if _, err := b.EnsureHeaders(ctx); err != nil {
		return nil, err
	}

	values, err := b.ws.AllValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read attendance sheet: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	idx := columnIndex(values[0])
	if err := requireColumns(idx, checkoutHeaders); err != nil {
		b.invalidateHeaders()
		return nil, err
	}

	dateCol := idx[HeaderDate]
	tagCol := idx[HeaderDayTag]
	statusCol := idx[HeaderStatus]
	checkoutCol := idx[HeaderCheckOutTime]
	childCol := idx[HeaderChildName]
	tag := strings.TrimSpace(dayTag)

	var updates []CellUpdate
	var children []string
	for i, row := range values[1:] {
		if cell(row, dateCol) != date || cell(row, tagCol) != tag ||
			cell(row, statusCol) != string(schema.StatusCheckedIn) {
			continue
		}
		sheetRow := i + 2 // header is row 1
		updates = append(updates,
			CellUpdate{Row: sheetRow, Col: checkoutCol + 1, Value: checkoutTime},
			CellUpdate{Row: sheetRow, Col: statusCol + 1, Value: string(schema.StatusCheckedOut)},
		)
		children = append(children, cell(row, childCol))
	}

	if len(updates) == 0 {
		return nil, nil
	}
	if err := b.ws.UpdateCells(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to update checkout rows for tag %s: %w", tag, err)
	}
	return children, nil
}

// ListRecords returns every data row. RowID is the 1-based sheet row.
func (b *SheetBackend) ListRecords(ctx context.Context) ([]Row, error) {
	values, err := b.ws.AllValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read attendance sheet: %w", err)
	}
	if len(values) < 2 {
		return nil, nil
	}

	headers := values[0]
	rows := make([]Row, 0, len(values)-1)
	for i, v := range values[1:] {
		if isBlank(v) {
			continue
		}
		rows = append(rows, RowFromValues(headers, v, i+2))
	}
	return rows, nil
}

// DeleteRow removes a sheet row. Row ids of later rows shift up by one.
func (b *SheetBackend) DeleteRow(ctx context.Context, rowID int) error {
	if rowID < 2 {
		return fmt.Errorf("invalid row id %d: row 1 is the header", rowID)
	}
	if err := b.ws.DeleteRow(ctx, rowID); err != nil {
		return fmt.Errorf("failed to delete sheet row %d: %w", rowID, err)
	}
	return nil
}

// Ping reads the header row.
func (b *SheetBackend) Ping(ctx context.Context) error {
	_, err := b.ws.Header(ctx)
	return err
}

func isBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
