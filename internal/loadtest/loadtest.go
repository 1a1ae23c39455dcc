// Package loadtest drives the offline queue with concurrent check-in desks.
//
// Desks write check-ins through the queue while a flusher replays them to an
// in-memory remote that fails a configurable share of appends. After the
// desks finish, the queue is drained and the remote is checked for lost or
// duplicated rows.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/remote/remotetest"
	"github.com/rebootcamp/attendsync/internal/schema"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

// Config sizes a run.
type Config struct {
	Desks           int
	CheckInsPerDesk int
	// FailRate is the share of remote appends that fail as unavailable, in [0, 1).
	FailRate float64
	// FlushInterval paces the background flusher.
	FlushInterval time.Duration
	// MaxDrainRounds bounds the final drain.
	MaxDrainRounds int
	Date           string
	Seed           int64
	Logger         *slog.Logger
}

// DefaultConfig returns a small run.
func DefaultConfig() Config {
	return Config{
		Desks:           10,
		CheckInsPerDesk: 20,
		FailRate:        0.2,
		FlushInterval:   10 * time.Millisecond,
		MaxDrainRounds:  200,
		Date:            "2024-06-01",
		Seed:            42,
	}
}

// LatencyStats summarizes operation latencies.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Operations int
}

// Result reports one run.
type Result struct {
	CheckIns    int
	RemoteRows  int
	Duplicates  int
	Missing     int
	Flushes     int
	DrainRounds int
	Enqueue     *LatencyStats
	Elapsed     time.Duration
}

// OK reports whether every check-in reached the remote exactly once.
func (r *Result) OK() bool {
	return r.Missing == 0 && r.Duplicates == 0 && r.RemoteRows == r.CheckIns
}

// flakyBackend fails a share of appends before they reach the remote.
type flakyBackend struct {
	remote.Backend
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

func (f *flakyBackend) AppendRecord(ctx context.Context, row remote.Row) error {
	f.mu.Lock()
	fail := f.rng.Float64() < f.rate
	f.mu.Unlock()
	if fail {
		return remote.Unavailable(errors.New("simulated network drop"))
	}
	return f.Backend.AppendRecord(ctx, row)
}

// Run executes a load test against store, which must have its schema initialized.
func Run(ctx context.Context, store *db.DB, cfg Config) (*Result, error) {
	if cfg.Desks <= 0 || cfg.CheckInsPerDesk <= 0 {
		return nil, fmt.Errorf("desks and check-ins per desk must be positive")
	}
	if cfg.FailRate < 0 || cfg.FailRate >= 1 {
		return nil, fmt.Errorf("fail rate must be in [0, 1), got %v", cfg.FailRate)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	target := remotetest.New()
	backend := &flakyBackend{Backend: target, rng: rand.New(rand.NewSource(cfg.Seed)), rate: cfg.FailRate}
	q := queue.New(store, logger)
	s := syncer.New(q, backend, syncer.Config{BatchSize: 50, Logger: logger})

	start := time.Now()
	result := &Result{CheckIns: cfg.Desks * cfg.CheckInsPerDesk}

	flushCtx, stopFlusher := context.WithCancel(ctx)
	flusherDone := make(chan error, 1)
	go func() {
		flusherDone <- flushLoop(flushCtx, s, cfg.FlushInterval, &result.Flushes)
	}()

	durations, err := runDesks(ctx, q, cfg)
	stopFlusher()
	if ferr := <-flusherDone; ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return nil, err
	}
	result.Enqueue = computeLatencyStats(durations)

	backend.mu.Lock()
	backend.rate = 0
	backend.mu.Unlock()
	for result.DrainRounds < cfg.MaxDrainRounds {
		pending, err := q.Pending(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			break
		}
		if _, err := s.Flush(ctx, 0); err != nil {
			return nil, err
		}
		result.DrainRounds++
	}

	rows := target.Rows()
	result.RemoteRows = len(rows)
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		seen[row.NaturalKey()]++
	}
	for _, n := range seen {
		if n > 1 {
			result.Duplicates += n - 1
		}
	}
	result.Missing = result.CheckIns - len(seen)
	result.Elapsed = time.Since(start)
	return result, nil
}

func flushLoop(ctx context.Context, s *syncer.Syncer, interval time.Duration, count *int) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Flush(ctx, 0); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			*count++
		}
	}
}

// runDesks enqueues every check-in and returns the enqueue latencies.
func runDesks(ctx context.Context, q *queue.Manager, cfg Config) ([]time.Duration, error) {
	var wg sync.WaitGroup
	results := make(chan []time.Duration, cfg.Desks)
	errs := make(chan error, cfg.Desks)

	for d := 0; d < cfg.Desks; d++ {
		wg.Add(1)
		go func(desk int) {
			defer wg.Done()
			durations := make([]time.Duration, 0, cfg.CheckInsPerDesk)
			for i := 0; i < cfg.CheckInsPerDesk; i++ {
				in := queue.CheckIn{
					Date:        cfg.Date,
					ChildName:   fmt.Sprintf("Child %02d-%03d", desk, i),
					Service:     "Morning",
					DayTag:      fmt.Sprintf("D%02d-%03d", desk, i),
					CheckInTime: clock(i),
				}
				start := time.Now()
				if _, err := q.EnqueueCheckIn(ctx, in); err != nil {
					errs <- fmt.Errorf("desk %d check-in %d failed: %w", desk, i, err)
					return
				}
				durations = append(durations, time.Since(start))
			}
			results <- durations
		}(d)
	}

	wg.Wait()
	close(results)
	close(errs)

	if err := <-errs; err != nil {
		return nil, err
	}
	var all []time.Duration
	for d := range results {
		all = append(all, d...)
	}
	return all, nil
}

// clock spreads check-ins over the morning.
func clock(i int) string {
	t := time.Date(2000, 1, 1, 7, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return t.Format(schema.ClockLayout)
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
	}
}

// Print writes a human-readable report.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Check-ins:    %d\n", r.CheckIns)
	fmt.Fprintf(w, "Remote rows:  %d\n", r.RemoteRows)
	fmt.Fprintf(w, "Missing:      %d\n", r.Missing)
	fmt.Fprintf(w, "Duplicates:   %d\n", r.Duplicates)
	fmt.Fprintf(w, "Flushes:      %d (+%d drain rounds)\n", r.Flushes, r.DrainRounds)
	fmt.Fprintf(w, "Elapsed:      %v\n", r.Elapsed.Round(time.Millisecond))
	if s := r.Enqueue; s != nil {
		fmt.Fprintf(w, "Enqueue latency:\n")
		fmt.Fprintf(w, "  Min:           %v\n", s.Min)
		fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
		fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
		fmt.Fprintf(w, "  P95:           %v\n", s.P95)
		fmt.Fprintf(w, "  P99:           %v\n", s.P99)
		fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	}
}
