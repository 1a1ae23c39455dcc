package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

type fakeStats struct {
	stats *db.QueueStats
	err   error
}

func (f *fakeStats) QueueStats(context.Context) (*db.QueueStats, error) {
	return f.stats, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
	return server
}

func localAddr(t *testing.T, s *Server) string {
	t.Helper()
	_, port, err := net.SplitHostPort(s.GetAddr())
	if err != nil {
		t.Fatalf("bad addr %q: %v", s.GetAddr(), err)
	}
	return "127.0.0.1:" + port
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+localAddr(t, s)+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, s.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + localAddr(t, server) + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestWelcomeCarriesQueueStats(t *testing.T) {
	server := startServer(t)
	NewHandler(server, &fakeStats{stats: &db.QueueStats{Pending: 3, Failed: 1}}, quietLogger())

	conn := dial(t, server)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeQueueStats {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeQueueStats)
	}

	var stats db.QueueStats
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Pending != 3 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNoWelcomeWithoutStats(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, nil, quietLogger())

	conn := dial(t, server)
	waitForClients(t, server, 1)

	h.FlushCompleted(syncer.Summary{Processed: 1})
	if msg := readMessage(t, conn); msg.Type != MessageTypeFlushComplete {
		t.Fatalf("first message = %s, want %s", msg.Type, MessageTypeFlushComplete)
	}
}

func TestFlushCompletedBroadcast(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, &fakeStats{stats: &db.QueueStats{Pending: 0, Synced: 4}}, quietLogger())

	conn := dial(t, server)
	readMessage(t, conn) // welcome
	waitForClients(t, server, 1)

	h.FlushCompleted(syncer.Summary{Processed: 4, Failed: 1, Duration: 1500 * time.Millisecond})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeFlushComplete {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeFlushComplete)
	}
	var data FlushCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Processed != 4 || data.Failed != 1 || data.DurationMS != 1500 {
		t.Errorf("data = %+v", data)
	}

	if next := readMessage(t, conn); next.Type != MessageTypeQueueStats {
		t.Errorf("follow-up type = %s, want %s", next.Type, MessageTypeQueueStats)
	}
}

func TestAttendanceChangedBroadcast(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, &fakeStats{err: errors.New("db closed")}, quietLogger())

	conn := dial(t, server)
	waitForClients(t, server, 1)

	h.AttendanceChanged(attendance.Change{
		Action:     "checkout",
		Date:       "2024-06-01",
		DayTag:     "T7",
		ChildNames: []string{"Ada", "Grace"},
		Synced:     true,
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeRecordUpdate {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeRecordUpdate)
	}
	var change attendance.Change
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.Action != "checkout" || len(change.ChildNames) != 2 {
		t.Errorf("change = %+v", change)
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t)
	conn := dial(t, server)
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, server, 0)
}
