// Command attendsync records children's attendance offline-first and syncs it
// to a shared remote store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/rebootcamp/attendsync/internal/ui"
)

var (
	configFile  string
	envFile     string
	backendFlag string
	verbose     bool
	jsonOutput  bool
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "attendsync",
	Short: "Offline-first attendance check-in with remote sync",
	Long: `attendsync records check-ins and checkouts in a local SQLite store and
replays them to the shared remote attendance store (a Google Sheet or a
PostgreSQL table) whenever it is reachable.

Writes never wait on the network: a failed remote call leaves the change
queued, and the next flush delivers it.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetOutput(os.Stdout)
		if noColor {
			ui.DisableColor()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "attendance", Title: "Attendance:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "server", Title: "Server:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./attendsync.* or ~/.attendsync/attendsync.*)")
	flags.StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	flags.StringVar(&backendFlag, "backend", "", "override the remote backend: sheets, postgres or local")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	flags.BoolVar(&noColor, "no-color", false, "disable coloured output")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]any{ui.RenderFail("Error:")}, args...)...)
	os.Exit(1)
}

// mustOpen opens the app or exits.
func mustOpen(cmd *cobra.Command) *app {
	a, err := openApp(cmd.Context())
	if err != nil {
		fatal("%v", err)
	}
	return a
}

// fail closes a and exits.
func (a *app) fail(format string, args ...any) {
	a.Close()
	fatal(format, args...)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("failed to encode output: %v", err)
	}
}
