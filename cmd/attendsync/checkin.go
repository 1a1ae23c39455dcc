package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/catalog"
	"github.com/rebootcamp/attendsync/internal/ui"
)

var checkinCmd = &cobra.Command{
	Use:     "checkin [child name]",
	GroupID: "attendance",
	Short:   "Check a child in",
	Long: `Check a child in under a day tag.

The record is written locally first and then sent to the remote store. When
the remote is unreachable the check-in stays queued and is delivered by the
next flush.

Examples:
  attendsync checkin "Ada Obi" --tag T7 --service Morning
  attendsync checkin "Ada Obi" --tag T7 --event rebootcamp-2024 --session d1-am
  attendsync checkin --interactive`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		req, err := checkInRequestFromFlags(cmd, args, a)
		if err != nil {
			a.fail("%v", err)
		}

		interactive, _ := cmd.Flags().GetBool("interactive")
		if interactive || req.ChildName == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				a.fail("child name and --tag are required when stdin is not a terminal")
			}
			if err := runCheckInForm(&req, a.service.Catalog(), a.service.Today()); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					a.Close()
					os.Exit(130)
				}
				a.fail("%v", err)
			}
		}

		res, err := a.service.CheckIn(cmd.Context(), req)
		if err != nil {
			a.fail("%v", err)
		}

		if jsonOutput {
			printJSON(res)
			return
		}
		fmt.Println(ui.CheckInLine(res))
	},
}

func checkInRequestFromFlags(cmd *cobra.Command, args []string, a *app) (attendance.CheckInRequest, error) {
	flags := cmd.Flags()
	get := func(name string) string {
		v, _ := flags.GetString(name)
		return v
	}

	date, err := parseDate(get("date"), time.Now().In(a.cfg.Location()))
	if err != nil {
		return attendance.CheckInRequest{}, err
	}

	req := attendance.CheckInRequest{
		Date:           date,
		DayTag:         get("tag"),
		Service:        get("service"),
		CheckInTime:    get("time"),
		EventID:        get("event"),
		SessionID:      get("session"),
		State:          get("state"),
		ChurchLocation: get("location"),
		CampGroup:      get("camp-group"),
		Notes:          get("notes"),
	}
	if len(args) > 0 {
		req.ChildName = args[0]
	}
	return req, nil
}

// runCheckInForm prompts for the fields the flags left empty.
func runCheckInForm(req *attendance.CheckInRequest, cat *catalog.Catalog, today string) error {
	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	event := cat.Event(req.EventID)
	date := req.Date
	if date == "" {
		date = today
	}

	fields := []huh.Field{
		huh.NewInput().Title("Child name").Value(&req.ChildName).Validate(required("child name")),
		huh.NewInput().Title("Day tag").Description("Tag number handed to the parent").
			Value(&req.DayTag).Validate(required("day tag")),
	}

	sessions := cat.SessionsOn(event.ID, date)
	if len(sessions) > 0 && req.SessionID == "" {
		opts := make([]huh.Option[string], 0, len(sessions))
		for _, s := range sessions {
			opts = append(opts, huh.NewOption(s.Label, s.ID))
		}
		fields = append(fields, huh.NewSelect[string]().Title(event.Name+" session").Options(opts...).Value(&req.SessionID))
	} else if req.Service == "" && req.SessionID == "" {
		fields = append(fields, huh.NewInput().Title("Service").Placeholder("Morning").
			Value(&req.Service).Validate(required("service")))
	}

	if len(event.CampGroups) > 0 && req.CampGroup == "" {
		fields = append(fields, huh.NewSelect[string]().Title("Camp group").
			Options(huh.NewOptions(event.CampGroups...)...).Value(&req.CampGroup))
	}
	fields = append(fields, huh.NewText().Title("Notes").Value(&req.Notes))

	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func init() {
	f := checkinCmd.Flags()
	f.String("date", "", "attendance date: YYYY-MM-DD or e.g. \"yesterday\" (default today)")
	f.StringP("tag", "t", "", "day tag")
	f.StringP("service", "s", "", "service name (default from the session)")
	f.String("time", "", "check-in time, e.g. \"08:15 AM\" (default now)")
	f.String("event", "", "event id from the catalog")
	f.String("session", "", "session id from the catalog")
	f.String("state", "", "state")
	f.String("location", "", "church location")
	f.String("camp-group", "", "camp group")
	f.String("notes", "", "free-form notes")
	f.BoolP("interactive", "i", false, "prompt for the details")

	rootCmd.AddCommand(checkinCmd)
}
