package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebootcamp/attendsync/internal/ui"
)

var checkoutCmd = &cobra.Command{
	Use:     "checkout <day tag>",
	GroupID: "attendance",
	Short:   "Check out every child under a day tag",
	Long: `Check out every child still checked in under a day tag on a date.

Examples:
  attendsync checkout T7
  attendsync checkout T7 --date yesterday --time "12:30 PM"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		dateFlag, _ := cmd.Flags().GetString("date")
		checkoutTime, _ := cmd.Flags().GetString("time")
		date, err := parseDate(dateFlag, time.Now().In(a.cfg.Location()))
		if err != nil {
			a.fail("%v", err)
		}

		res, err := a.service.Checkout(cmd.Context(), date, args[0], checkoutTime)
		if err != nil && res == nil {
			a.fail("%v", err)
		}

		if jsonOutput {
			printJSON(res)
		} else {
			fmt.Println(ui.CheckoutLine(res))
		}
		if err != nil {
			a.fail("%v", err)
		}
	},
}

func init() {
	checkoutCmd.Flags().String("date", "", "attendance date: YYYY-MM-DD or e.g. \"yesterday\" (default today)")
	checkoutCmd.Flags().String("time", "", "checkout time, e.g. \"12:30 PM\" (default now)")
	rootCmd.AddCommand(checkoutCmd)
}
