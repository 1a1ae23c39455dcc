package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rebootcamp/attendsync/internal/remote"
)

// Worksheet is an in-memory remote.Worksheet.
type Worksheet struct {
	mu    sync.Mutex
	cells [][]string

	// Err fails every call when set.
	Err error

	Calls map[string]int
}

// NewWorksheet creates a worksheet holding the given rows (row 0 is the header).
func NewWorksheet(rows ...[]string) *Worksheet {
	ws := &Worksheet{Calls: map[string]int{}}
	for _, r := range rows {
		ws.cells = append(ws.cells, append([]string(nil), r...))
	}
	return ws
}

func (w *Worksheet) enter(name string) error {
	w.Calls[name]++
	return w.Err
}

// Header implements remote.Worksheet.
func (w *Worksheet) Header(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("Header"); err != nil {
		return nil, err
	}
	if len(w.cells) == 0 {
		return nil, nil
	}
	return append([]string(nil), w.cells[0]...), nil
}

// SetHeader implements remote.Worksheet.
func (w *Worksheet) SetHeader(_ context.Context, headers []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("SetHeader"); err != nil {
		return err
	}
	if len(w.cells) == 0 {
		w.cells = append(w.cells, nil)
	}
	w.cells[0] = append([]string(nil), headers...)
	return nil
}

// AllValues implements remote.Worksheet.
func (w *Worksheet) AllValues(context.Context) ([][]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("AllValues"); err != nil {
		return nil, err
	}
	out := make([][]string, len(w.cells))
	for i, r := range w.cells {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

// AppendRow implements remote.Worksheet.
func (w *Worksheet) AppendRow(_ context.Context, values []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("AppendRow"); err != nil {
		return err
	}
	w.cells = append(w.cells, append([]string(nil), values...))
	return nil
}

// UpdateCells implements remote.Worksheet.
func (w *Worksheet) UpdateCells(_ context.Context, updates []remote.CellUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("UpdateCells"); err != nil {
		return err
	}
	for _, u := range updates {
		if u.Row < 1 || u.Row > len(w.cells) || u.Col < 1 {
			return fmt.Errorf("cell R%dC%d out of range", u.Row, u.Col)
		}
		row := w.cells[u.Row-1]
		for len(row) < u.Col {
			row = append(row, "")
		}
		row[u.Col-1] = u.Value
		w.cells[u.Row-1] = row
	}
	return nil
}

// DeleteRow implements remote.Worksheet.
func (w *Worksheet) DeleteRow(_ context.Context, row int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("DeleteRow"); err != nil {
		return err
	}
	if row < 1 || row > len(w.cells) {
		return fmt.Errorf("row %d out of range", row)
	}
	w.cells = append(w.cells[:row-1], w.cells[row:]...)
	return nil
}

// Cells returns a copy of the grid.
func (w *Worksheet) Cells() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]string, len(w.cells))
	for i, r := range w.cells {
		out[i] = append([]string(nil), r...)
	}
	return out
}
