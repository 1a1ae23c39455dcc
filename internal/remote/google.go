package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DefaultRequestsPerMinute stays under the Sheets API per-user read/write quota.
const DefaultRequestsPerMinute = 55

// GoogleConfig configures a GoogleWorksheet.
type GoogleConfig struct {
	CredentialsFile   string
	SpreadsheetID     string
	Worksheet         string
	RequestsPerMinute int
	// Timeout bounds every API call (0 = caller's context only).
	Timeout time.Duration
}

// GoogleWorksheet implements Worksheet with the Google Sheets v4 API.
type GoogleWorksheet struct {
	svc           *sheets.Service
	spreadsheetID string
	title         string
	limiter       *rate.Limiter
	timeout       time.Duration

	mu      sync.Mutex
	sheetID *int64 // numeric id of the tab, resolved lazily for row deletes
}

// NewGoogleWorksheet connects to the worksheet named cfg.Worksheet.
func NewGoogleWorksheet(ctx context.Context, cfg GoogleConfig) (*GoogleWorksheet, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if cfg.Worksheet == "" {
		return nil, fmt.Errorf("worksheet name is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope))

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}

	return &GoogleWorksheet{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		title:         cfg.Worksheet,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 5),
		timeout:       cfg.Timeout,
	}, nil
}

// call waits for a rate-limit token and applies the per-call timeout.
func (g *GoogleWorksheet) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return Unavailable(err)
	}
	return classifyGoogleError(fn(ctx))
}

// Header returns row 1.
func (g *GoogleWorksheet) Header(ctx context.Context) ([]string, error) {
	var header []string
	err := g.call(ctx, func(ctx context.Context) error {
		resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.a1("1:1")).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Values) > 0 {
			header = toStrings(resp.Values[0])
		}
		return nil
	})
	return header, err
}

// SetHeader overwrites row 1.
func (g *GoogleWorksheet) SetHeader(ctx context.Context, headers []string) error {
	return g.call(ctx, func(ctx context.Context) error {
		vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(headers)}}
		_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, g.a1("1:1"), vr).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
}

// AllValues returns every row including the header.
func (g *GoogleWorksheet) AllValues(ctx context.Context) ([][]string, error) {
	var rows [][]string
	err := g.call(ctx, func(ctx context.Context) error {
		resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.a1("")).Context(ctx).Do()
		if err != nil {
			return err
		}
		rows = make([][]string, len(resp.Values))
		for i, r := range resp.Values {
			rows[i] = toStrings(r)
		}
		return nil
	})
	return rows, err
}

// AppendRow appends values as a new row, interpreting them as if typed by a user.
func (g *GoogleWorksheet) AppendRow(ctx context.Context, values []string) error {
	return g.call(ctx, func(ctx context.Context) error {
		vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(values)}}
		_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, g.a1("A1"), vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return err
	})
}

// UpdateCells writes all updates in a single batch request.
func (g *GoogleWorksheet) UpdateCells(ctx context.Context, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  g.a1(fmt.Sprintf("%s%d", columnLetter(u.Col), u.Row)),
			Values: [][]interface{}{{u.Value}},
		})
	}
	return g.call(ctx, func(ctx context.Context) error {
		req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
		_, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

// DeleteRow removes a 1-based row.
func (g *GoogleWorksheet) DeleteRow(ctx context.Context, row int) error {
	sheetID, err := g.resolveSheetID(ctx)
	if err != nil {
		return err
	}
	return g.call(ctx, func(ctx context.Context) error {
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				DeleteDimension: &sheets.DeleteDimensionRequest{
					Range: &sheets.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "ROWS",
						StartIndex: int64(row - 1),
						EndIndex:   int64(row),
					},
				},
			}},
		}
		_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

func (g *GoogleWorksheet) resolveSheetID(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sheetID != nil {
		return *g.sheetID, nil
	}

	var found *int64
	err := g.call(ctx, func(ctx context.Context) error {
		resp, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, s := range resp.Sheets {
			if s.Properties != nil && s.Properties.Title == g.title {
				id := s.Properties.SheetId
				found = &id
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if found == nil {
		return 0, fmt.Errorf("worksheet %q not found in spreadsheet", g.title)
	}
	g.sheetID = found
	return *found, nil
}

// a1 builds an A1 range on this worksheet; an empty ref selects the whole tab.
func (g *GoogleWorksheet) a1(ref string) string {
	quoted := "'" + strings.ReplaceAll(g.title, "'", "''") + "'"
	if ref == "" {
		return quoted
	}
	return quoted + "!" + ref
}

// classifyGoogleError marks transport failures, throttling and server errors as unavailable.
// Other API errors (bad range, permission denied) are returned as-is.
func classifyGoogleError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return Unavailable(err)
		}
		return err
	}
	return Unavailable(err)
}

// columnLetter converts a 1-based column number to its A1 letters.
func columnLetter(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

func toInterfaces(row []string) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
