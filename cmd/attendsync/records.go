package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebootcamp/attendsync/internal/reconcile"
	"github.com/rebootcamp/attendsync/internal/ui"
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	GroupID: "attendance",
	Short:   "List attendance for a date",
	Long: `List confirmed remote rows together with local records that have not
reached the remote yet. If the remote cannot be read, only local records are
shown.

Examples:
  attendsync records
  attendsync records --date 2024-06-01
  attendsync records --checked-in --tag T7`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		dateFlag, _ := cmd.Flags().GetString("date")
		checkedIn, _ := cmd.Flags().GetBool("checked-in")
		tag, _ := cmd.Flags().GetString("tag")

		date, err := parseDate(dateFlag, time.Now().In(a.cfg.Location()))
		if err != nil {
			a.fail("%v", err)
		}
		if date == "" {
			date = a.service.Today()
		}

		if checkedIn || tag != "" {
			records, err := a.service.CheckedInChildren(cmd.Context(), date, tag)
			if err != nil {
				a.fail("%v", err)
			}
			if jsonOutput {
				printJSON(records)
				return
			}
			fmt.Println(ui.RecordsTable(records))
			return
		}

		view, err := a.service.Records(cmd.Context(), date)
		if err != nil {
			a.fail("%v", err)
		}
		if jsonOutput {
			printJSON(view)
			return
		}
		if view.RemoteErr != "" {
			fmt.Printf("%s Remote unavailable, showing local records only: %s\n", ui.RenderWarn("⚠"), view.RemoteErr)
		}
		reconcile.SortChronological(view.Records)
		fmt.Println(ui.RecordsTable(view.Records))
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "attendance",
	Short:   "Delete a record",
	Long: `Delete a record by the id shown in "attendsync records".

Local ids address records that have not reached the remote; remote ids are
row numbers in the remote store.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			fatal("id must be a positive integer")
		}
		source, _ := cmd.Flags().GetString("source")

		a := mustOpen(cmd)
		defer a.Close()

		if err := a.service.Delete(cmd.Context(), id, reconcile.Provenance(source)); err != nil {
			a.fail("%v", err)
		}
		fmt.Printf("%s Deleted %s record %d\n", ui.RenderPass("✓"), source, id)
	},
}

func init() {
	recordsCmd.Flags().String("date", "", "attendance date: YYYY-MM-DD or e.g. \"yesterday\" (default today)")
	recordsCmd.Flags().Bool("checked-in", false, "only children still checked in")
	recordsCmd.Flags().StringP("tag", "t", "", "only this day tag (implies --checked-in)")
	deleteCmd.Flags().String("source", string(reconcile.ProvenanceLocal), "record source: local or remote")

	rootCmd.AddCommand(recordsCmd, deleteCmd)
}
