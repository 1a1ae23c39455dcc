package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/reconcile"
	"github.com/rebootcamp/attendsync/internal/schema"
)

var recordHeaders = []string{"Source", "ID", "Date", "Child", "Tag", "Service", "In", "Out", "Status", "Sync"}

// RecordsTable renders records as a bordered table.
func RecordsTable(records []reconcile.Record) string {
	if len(records) == 0 {
		return RenderMuted("No attendance records.")
	}
	s := get()

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		id := rec.ID
		if rec.Provenance == reconcile.ProvenanceRemote {
			id = int64(rec.RowID)
		}
		rows = append(rows, []string{
			string(rec.Provenance),
			fmt.Sprintf("%d", id),
			rec.Date,
			rec.ChildName,
			rec.DayTag,
			rec.Service,
			rec.CheckInTime,
			dash(rec.CheckOutTime),
			string(rec.Status),
			syncLabel(rec),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers(recordHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
	return t.String()
}

func syncLabel(rec reconcile.Record) string {
	if rec.Provenance == reconcile.ProvenanceRemote {
		return "remote"
	}
	return string(rec.SyncStatus)
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

// QueueStatus renders queue counts.
func QueueStatus(stats *db.QueueStats, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Sync queue\n\n", RenderAccent("●"))
	fmt.Fprintf(&b, "  Pending:  %s\n", count(stats.Pending, RenderWarn))
	fmt.Fprintf(&b, "  Synced:   %s\n", count(stats.Synced, RenderPass))
	fmt.Fprintf(&b, "  Failed:   %s\n", count(stats.Failed, RenderFail))
	fmt.Fprintf(&b, "  Unsynced records: %d (%d failed)\n", stats.UnsyncedRecords, stats.FailedRecords)
	if stats.OldestPendingAt != nil {
		fmt.Fprintf(&b, "  Oldest pending:   %s ago\n", now.Sub(*stats.OldestPendingAt).Round(time.Second))
	}
	if stats.LastAttemptAt != nil {
		fmt.Fprintf(&b, "  Last attempt:     %s\n", stats.LastAttemptAt.Local().Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func count(n int, render func(string) string) string {
	if n == 0 {
		return RenderMuted("0")
	}
	return render(fmt.Sprintf("%d", n))
}

// QueueItems renders queue items, oldest first.
func QueueItems(items []*schema.QueueItem) string {
	if len(items) == 0 {
		return RenderMuted("Queue is empty.")
	}
	s := get()
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			string(item.Operation),
			string(item.Status),
			fmt.Sprintf("%d", item.Attempts),
			item.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(item.LastError, 48),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers("ID", "Operation", "Status", "Attempts", "Created", "Last error").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		}).
		String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// CheckInLine summarizes a check-in result.
func CheckInLine(res *attendance.CheckInResult) string {
	rec := res.Record
	who := fmt.Sprintf("%s (%s) checked in at %s on %s", rec.ChildName, rec.DayTag, rec.CheckInTime, rec.Date)
	switch {
	case res.Synced:
		return RenderPass("✓") + " " + who
	case res.Pending:
		return RenderWarn("⚠") + " " + who + RenderMuted(" - queued: "+res.Error)
	default:
		return RenderFail("✗") + " " + who + RenderMuted(" - sync failed: "+res.Error)
	}
}

// CheckoutLine summarizes a checkout result.
func CheckoutLine(res *attendance.CheckoutResult) string {
	if len(res.ChildNames) == 0 {
		return RenderMuted(fmt.Sprintf("No children checked in under %s on %s.", res.DayTag, res.Date))
	}
	who := fmt.Sprintf("Checked out %s (%s) at %s", strings.Join(res.ChildNames, ", "), res.DayTag, res.CheckoutTime)
	switch {
	case res.Synced:
		return RenderPass("✓") + " " + who
	case res.Pending:
		return RenderWarn("⚠") + " " + who + RenderMuted(" - queued: "+res.Error)
	default:
		return RenderFail("✗") + " " + who + RenderMuted(" - sync failed: "+res.Error)
	}
}
