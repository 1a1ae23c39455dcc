package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/catalog"
	"github.com/rebootcamp/attendsync/internal/config"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/logging"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *db.DB
	queue   *queue.Manager
	backend remote.Backend
	syncer  *syncer.Syncer
	service *attendance.Service

	closers []io.Closer
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// openApp loads configuration and opens the store and the remote backend.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logCfg := logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	if verbose {
		logCfg.Level = "debug"
	}
	logger, logCloser := logging.New(logCfg, nil)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := db.Open(cfg.DB.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, store)
	if err := store.InitSchemaContext(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	backend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := backend.(interface{ Close() }); ok {
		a.closers = append(a.closers, closeFunc(c.Close))
	}
	if backend != nil && cfg.Cache.TTL > 0 {
		backend = remote.NewCachedBackend(backend, cfg.Cache.TTL)
	}
	a.backend = backend

	a.queue = queue.New(store, logger)
	a.syncer = syncer.New(a.queue, backend, syncer.Config{
		BatchSize: cfg.Sync.BatchSize,
		Logger:    logger,
	})
	a.service = attendance.New(a.queue, a.syncer, backend, attendance.Config{
		Catalog:         cat,
		Location:        cfg.Location(),
		FlushAfterWrite: cfg.Sync.FlushAfterWrite,
		Logger:          logger,
	})
	return a, nil
}

// buildBackend returns nil in local-only mode.
func buildBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Backend, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return nil, nil
	case config.BackendSheets:
		ws, err := remote.NewGoogleWorksheet(ctx, remote.GoogleConfig{
			CredentialsFile:   cfg.Sheets.CredentialsFile,
			SpreadsheetID:     cfg.Sheets.SpreadsheetID,
			Worksheet:         cfg.Sheets.Worksheet,
			RequestsPerMinute: cfg.Sheets.RequestsPerMinute,
			Timeout:           cfg.Sync.RemoteTimeout,
		})
		if err != nil {
			return nil, err
		}
		return remote.NewSheetBackend(ws, logger), nil
	case config.BackendPostgres:
		pool, err := remote.NewPostgresPool(ctx, remote.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: int(cfg.Postgres.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		backend := remote.NewPostgresBackend(pool)
		if err := backend.EnsureSchema(ctx); err != nil {
			backend.Close()
			return nil, err
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
