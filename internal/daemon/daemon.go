// Package daemon runs the background flush loop.
//
// The daemon:
// 1. Flushes the sync queue once on start
// 2. Flushes again every Interval
// 3. Watches the local database file and flushes, debounced, when another
//    process writes to it
// 4. Accepts in-process flush requests via TriggerFlush
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rebootcamp/attendsync/internal/syncer"
)

// selfWriteGrace is how long after a flush ends database writes are still
// attributed to that flush.
const selfWriteGrace = 250 * time.Millisecond

// Flusher drains the sync queue.
type Flusher interface {
	Flush(ctx context.Context, limit int) (syncer.Summary, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often to flush regardless of activity. Zero disables the ticker.
	Interval time.Duration

	// Debounce is how long the database must be quiet before a write triggers a flush.
	// This batches rapid check-ins together.
	Debounce time.Duration

	// BatchSize is passed to Flush as the item limit. Zero uses the flusher's default.
	BatchSize int

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 30 * time.Second,
		Debounce: 2 * time.Second,
		Logger:   slog.Default(),
	}
}

// Stats reports daemon activity.
type Stats struct {
	Runs        int            `json:"runs"`
	LastRun     time.Time      `json:"last_run,omitempty"`
	LastSummary syncer.Summary `json:"last_summary"`
	LastError   string         `json:"last_error,omitempty"`
}

// Daemon schedules flushes.
type Daemon struct {
	flusher Flusher
	dbPath  string
	config  *Config
	logger  *slog.Logger

	watcher *fsnotify.Watcher
	trigger chan struct{}

	changeMu     sync.Mutex
	changedAt    time.Time // zero when nothing is waiting
	lastFlushEnd time.Time

	statsMu sync.Mutex
	stats   Stats

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon with the default configuration.
//
// The daemon requires:
//   - flusher: usually a *syncer.Syncer
//   - dbPath: the local SQLite database whose writes should trigger a flush
//
// Use Start() to begin.
func New(flusher Flusher, dbPath string) (*Daemon, error) {
	return NewWithConfig(flusher, dbPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(flusher Flusher, dbPath string, config *Config) (*Daemon, error) {
	if flusher == nil {
		return nil, fmt.Errorf("flusher cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		flusher: flusher,
		dbPath:  filepath.Clean(dbPath),
		config:  config,
		logger:  logger.With("component", "daemon"),
		watcher: watcher,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start performs an initial flush and then runs until ctx is cancelled or
// Stop is called. It blocks.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon",
		"interval", d.config.Interval,
		"debounce", d.config.Debounce)

	if err := d.flush(); err != nil {
		return fmt.Errorf("initial flush failed: %w", err)
	}

	dir := filepath.Dir(d.dbPath)
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChanges()
	go d.runFlushes()
	if d.config.Interval > 0 {
		d.wg.Add(1)
		go d.tick()
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for an in-flight flush to finish.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()
		if err := d.watcher.Close(); err != nil {
			d.logger.Warn("failed to close watcher", "error", err)
		}
		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return nil
}

// TriggerFlush requests a flush without waiting for it. Requests made while
// one is already waiting are coalesced.
func (d *Daemon) TriggerFlush() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of daemon activity.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// isDatabaseFile reports whether path is the database or its WAL.
func (d *Daemon) isDatabaseFile(path string) bool {
	path = filepath.Clean(path)
	return path == d.dbPath || path == d.dbPath+"-wal"
}

// watchFileEvents records writes to the database file.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !d.isDatabaseFile(event.Name) {
				continue
			}
			d.queueChange(time.Now())

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// queueChange notes a write, ignoring the ones our own flushes cause.
func (d *Daemon) queueChange(at time.Time) {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	if !d.lastFlushEnd.IsZero() && at.Before(d.lastFlushEnd.Add(selfWriteGrace)) {
		return
	}
	d.changedAt = at
}

// processChanges turns a quiet-for-Debounce change into a flush request.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case now := <-ticker.C:
			d.changeMu.Lock()
			ready := !d.changedAt.IsZero() && now.Sub(d.changedAt) >= d.config.Debounce
			if ready {
				d.changedAt = time.Time{}
			}
			d.changeMu.Unlock()

			if ready {
				d.logger.Debug("database changed, flushing")
				d.TriggerFlush()
			}
		}
	}
}

// tick requests a flush every Interval.
func (d *Daemon) tick() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.TriggerFlush()
		}
	}
}

// runFlushes serves flush requests one at a time.
func (d *Daemon) runFlushes() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.trigger:
			if err := d.flush(); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("flush failed", "error", err)
			}
		}
	}
}

func (d *Daemon) flush() error {
	summary, err := d.flusher.Flush(d.ctx, d.config.BatchSize)

	d.changeMu.Lock()
	d.lastFlushEnd = time.Now()
	d.changeMu.Unlock()

	d.statsMu.Lock()
	d.stats.Runs++
	d.stats.LastRun = time.Now()
	d.stats.LastSummary = summary
	d.stats.LastError = ""
	if err != nil {
		d.stats.LastError = err.Error()
	}
	d.statsMu.Unlock()

	return err
}
