package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/ui"
)

// sampleCheckIns is development data for an empty store.
var sampleCheckIns = []attendance.CheckInRequest{
	{ChildName: "Emmanuel Adeyemi", DayTag: "1", Service: "Morning", CheckInTime: "08:05 AM", State: "Lagos", ChurchLocation: "HQ Ikeja", CampGroup: "Alpha"},
	{ChildName: "Grace Okonkwo", DayTag: "2", Service: "Morning", CheckInTime: "08:15 AM", State: "Abuja", ChurchLocation: "Abuja Central", CampGroup: "Beta"},
	{ChildName: "Samuel Oluwaseun", DayTag: "3", Service: "Morning", CheckInTime: "08:20 AM", State: "Oyo", ChurchLocation: "Ibadan South", CampGroup: "Gamma"},
	{ChildName: "Blessing Chioma", DayTag: "4", Service: "Afternoon", CheckInTime: "01:05 PM", State: "Rivers", ChurchLocation: "Port Harcourt", CampGroup: "Delta"},
	{ChildName: "Daniel Afolabi", DayTag: "5", Service: "Afternoon", CheckInTime: "01:15 PM", State: "Ogun", ChurchLocation: "Abeokuta", CampGroup: "Alpha"},
}

var seedCmd = &cobra.Command{
	Use:     "seed",
	GroupID: "attendance",
	Short:   "Check in sample children for development",
	Long: `Check in a handful of sample children for today (or --date) through the
normal check-in path. Children already checked in are skipped.

Run with --backend local to keep the samples off the shared remote.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		dateFlag, _ := cmd.Flags().GetString("date")
		date, err := parseDate(dateFlag, a.service.Now())
		if err != nil {
			a.fail("%v", err)
		}

		added := 0
		for _, req := range sampleCheckIns {
			req.Date = date
			res, err := a.service.CheckIn(cmd.Context(), req)
			if queue.IsDuplicate(err) {
				fmt.Printf("%s %s already checked in\n", ui.RenderMuted("-"), req.ChildName)
				continue
			}
			if err != nil {
				a.fail("%v", err)
			}
			added++
			fmt.Println(ui.CheckInLine(res))
		}
		fmt.Printf("\n%s Seeded %d of %d sample check-ins\n", ui.RenderPass("✓"), added, len(sampleCheckIns))
	},
}

func init() {
	seedCmd.Flags().String("date", "", "attendance date: YYYY-MM-DD or e.g. \"yesterday\" (default today)")
	rootCmd.AddCommand(seedCmd)
}
