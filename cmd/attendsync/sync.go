package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebootcamp/attendsync/internal/schema"
	"github.com/rebootcamp/attendsync/internal/ui"
)

var flushCmd = &cobra.Command{
	Use:     "flush",
	GroupID: "sync",
	Short:   "Replay queued changes to the remote store",
	Long: `Replay pending queue items to the remote store, oldest first.

A failing item stays pending and does not stop the rest of the batch.
Use --all to keep flushing until the queue is drained or nothing progresses.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		if a.backend == nil {
			fmt.Printf("%s Local-only mode: nothing to sync\n", ui.RenderWarn("⚠"))
			return
		}

		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		var total struct{ Processed, Failed int }
		for {
			summary, err := a.syncer.Flush(cmd.Context(), limit)
			if err != nil {
				a.fail("%v", err)
			}
			total.Processed += summary.Processed
			total.Failed += summary.Failed

			if !all || summary.Processed == 0 {
				break
			}
		}

		stats, err := a.service.QueueStats(cmd.Context())
		if err != nil {
			a.fail("%v", err)
		}
		if jsonOutput {
			printJSON(map[string]any{"processed": total.Processed, "failed": total.Failed, "stats": stats})
			return
		}
		fmt.Printf("%s Delivered %d item(s), %d failed, %d still pending\n",
			ui.RenderPass("✓"), total.Processed, total.Failed, stats.Pending)
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry",
	GroupID: "sync",
	Short:   "Return failed queue items to pending",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		n, err := a.service.RetryFailed(cmd.Context())
		if err != nil {
			a.fail("%v", err)
		}
		if jsonOutput {
			printJSON(map[string]int{"reset": n})
			return
		}
		fmt.Printf("%s %d failed item(s) returned to the queue\n", ui.RenderAccent("↻"), n)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync queue status",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		stats, err := a.service.QueueStats(cmd.Context())
		if err != nil {
			a.fail("%v", err)
		}

		showItems, _ := cmd.Flags().GetBool("items")
		status, _ := cmd.Flags().GetString("status")
		var items []*schema.QueueItem
		if showItems {
			st := schema.SyncStatus(status)
			if st != "" && !st.IsValid() {
				a.fail("--status must be pending, synced or failed")
			}
			items, err = a.service.PendingItems(cmd.Context(), st, 50)
			if err != nil {
				a.fail("%v", err)
			}
		}

		if jsonOutput {
			printJSON(map[string]any{"backend": a.cfg.Backend, "db": a.cfg.DB.Path, "stats": stats, "items": items})
			return
		}

		fmt.Printf("\n%s Attendance sync status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s\n", a.cfg.DB.Path)
		fmt.Printf("Backend:  %s\n\n", a.cfg.Backend)
		fmt.Print(ui.QueueStatus(stats, time.Now()))
		if showItems {
			fmt.Println()
			fmt.Println(ui.QueueItems(items))
		}
		fmt.Println()
	},
}

func init() {
	flushCmd.Flags().Int("limit", 0, "items per batch (default sync.batch_size)")
	flushCmd.Flags().Bool("all", false, "flush repeatedly until the queue stops shrinking")
	statusCmd.Flags().Bool("items", false, "list queue items")
	statusCmd.Flags().String("status", "pending", "queue status to list with --items (empty for all)")

	rootCmd.AddCommand(flushCmd, retryCmd, statusCmd)
}
