package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rebootcamp/attendsync/internal/db"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "load.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return store
}

func TestRun_DeliversEveryCheckInOnce(t *testing.T) {
	store := openStore(t)

	cfg := DefaultConfig()
	cfg.Desks = 4
	cfg.CheckInsPerDesk = 10
	cfg.FailRate = 0.3

	result, err := Run(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.CheckIns != 40 {
		t.Errorf("Expected 40 check-ins, got %d", result.CheckIns)
	}
	if !result.OK() {
		t.Errorf("Expected every check-in delivered once: rows=%d missing=%d duplicates=%d",
			result.RemoteRows, result.Missing, result.Duplicates)
	}
	if result.Enqueue.Operations != 40 {
		t.Errorf("Expected 40 enqueue latencies, got %d", result.Enqueue.Operations)
	}

	stats, err := store.QueueStats()
	if err != nil {
		t.Fatalf("QueueStats failed: %v", err)
	}
	if stats.Pending != 0 || stats.UnsyncedRecords != 0 {
		t.Errorf("Expected a drained queue, got %+v", stats)
	}
}

func TestRun_NoFailures(t *testing.T) {
	store := openStore(t)

	cfg := DefaultConfig()
	cfg.Desks = 2
	cfg.CheckInsPerDesk = 5
	cfg.FailRate = 0

	result, err := Run(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.OK() {
		t.Errorf("Expected a clean run, got %+v", result)
	}
}

func TestRun_RejectsBadConfig(t *testing.T) {
	store := openStore(t)

	for _, cfg := range []Config{
		{Desks: 0, CheckInsPerDesk: 1},
		{Desks: 1, CheckInsPerDesk: 0},
		{Desks: 1, CheckInsPerDesk: 1, FailRate: 1},
		{Desks: 1, CheckInsPerDesk: 1, FailRate: -0.1},
	} {
		if _, err := Run(context.Background(), store, cfg); err == nil {
			t.Errorf("Expected error for %+v", cfg)
		}
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Unexpected min/max: %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("Expected P50 51ms, got %v", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("Expected P99 100ms, got %v", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Expected mean 50.5ms, got %v", stats.Mean)
	}

	if empty := computeLatencyStats(nil); empty.Operations != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}

func TestResultPrint(t *testing.T) {
	r := &Result{CheckIns: 3, RemoteRows: 3, Enqueue: &LatencyStats{P50: time.Millisecond}}
	var buf bytes.Buffer
	r.Print(&buf)
	if !strings.Contains(buf.String(), "Check-ins:    3") || !strings.Contains(buf.String(), "P50 (Median):  1ms") {
		t.Errorf("Unexpected report:\n%s", buf.String())
	}
}
