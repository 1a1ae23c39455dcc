package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebootcamp/attendsync/internal/api"
	"github.com/rebootcamp/attendsync/internal/daemon"
	"github.com/rebootcamp/attendsync/internal/dashboard"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the HTTP API with the background sync daemon",
	Long: `Run the attendance HTTP API, the background sync daemon and the live
WebSocket dashboard in one process.

The daemon flushes the queue at startup, every sync.interval, and shortly
after other processes (such as "attendsync checkin") write to the database.

Endpoints:
  POST   /api/v1/checkins
  POST   /api/v1/checkouts
  GET    /api/v1/records?date=
  GET    /api/v1/checked-in?date=&tag=
  DELETE /api/v1/records/{id}?source=
  POST   /api/v1/sync/flush
  POST   /api/v1/sync/retry
  GET    /api/v1/sync/queue
  GET    /healthz, /readyz, /metrics
  ws://<host>:<dashboard port>/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpen(cmd)
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")
		var dash *dashboard.Server
		if !noDashboard && a.cfg.Dashboard.Port > 0 {
			dash = dashboard.NewServer(&dashboard.Config{Port: a.cfg.Dashboard.Port, Logger: a.logger})
			handler := dashboard.NewHandler(dash, a.service, a.logger)
			a.syncer.SetNotifier(handler)
			a.service.SetObserver(handler)
			if err := dash.Start(); err != nil {
				a.fail("failed to start dashboard: %v", err)
			}
		}

		var remotePinger remote.Pinger
		if p, ok := a.backend.(remote.Pinger); ok {
			remotePinger = p
		}
		server := api.NewServer(a.cfg.HTTP.Addr, api.Deps{
			Service: a.service,
			Store:   a.store,
			Remote:  remotePinger,
			Logger:  a.logger,
		})

		errc := make(chan error, 2)
		go func() { errc <- server.Start() }()

		var d *daemon.Daemon
		if a.backend != nil {
			var err error
			d, err = daemon.NewWithConfig(a.syncer, a.cfg.DB.Path, &daemon.Config{
				Interval:  a.cfg.Sync.Interval,
				Debounce:  a.cfg.Sync.Debounce,
				BatchSize: a.cfg.Sync.BatchSize,
				Logger:    a.logger,
			})
			if err != nil {
				a.fail("failed to create sync daemon: %v", err)
			}
			go func() {
				if err := d.Start(ctx); err != nil {
					errc <- fmt.Errorf("sync daemon: %w", err)
				}
			}()
		}

		fmt.Printf("%s attendsync serving on %s (backend: %s)\n", ui.RenderAccent("🚀"), a.cfg.HTTP.Addr, a.cfg.Backend)
		if dash != nil {
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", a.cfg.Dashboard.Port)
		}
		fmt.Printf("   Database:  %s\n", a.cfg.DB.Path)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		var runErr error
		select {
		case <-ctx.Done():
		case runErr = <-errc:
		}

		fmt.Println("\nShutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Stop(shutdownCtx); err != nil {
			a.logger.Warn("api shutdown failed", "error", err)
		}
		if d != nil {
			_ = d.Stop()
		}
		if dash != nil {
			if err := dash.Stop(); err != nil {
				a.logger.Warn("dashboard shutdown failed", "error", err)
			}
		}
		if runErr != nil {
			a.fail("%v", runErr)
		}
	},
}

func init() {
	serveCmd.Flags().Bool("no-dashboard", false, "do not start the WebSocket dashboard")
	rootCmd.AddCommand(serveCmd)
}
