// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The dashboard broadcasts flush results, attendance writes and queue depth
// to connected WebSocket clients so a coordinator can watch devices catch up.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names the payload carried in Message.Data.
type MessageType string

const (
	MessageTypeFlushComplete MessageType = "flush_complete" // Data: FlushCompleteData
	MessageTypeRecordUpdate  MessageType = "record_update"  // Data: attendance.Change
	MessageTypeQueueStats    MessageType = "queue_stats"    // Data: db.QueueStats
)

// Message is one frame sent to every dashboard client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server fans sync activity out to connected coordinators.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan Message

	// welcome builds the snapshot a client receives on connect.
	welcome   func() (Message, bool)
	welcomeMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger *slog.Logger
}

// Config configures a Server.
type Config struct {
	// Port defaults to 8081. Zero picks a free port.
	Port   int
	Logger *slog.Logger
}

// DefaultConfig serves on port 8081.
func DefaultConfig() *Config {
	return &Config{
		Port:   8081,
		Logger: slog.Default(),
	}
}

// NewServer returns a stopped Server; call Start or mount Routes.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "dashboard"),
	}
}

// SetWelcome installs the builder of the message sent to each new client.
func (s *Server) SetWelcome(fn func() (Message, bool)) {
	s.welcomeMu.Lock()
	defer s.welcomeMu.Unlock()
	s.welcome = fn
}

// Routes returns the dashboard HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start listens on the configured port and runs the broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the listener down. Safe to call twice.
func (s *Server) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Info("stopping dashboard")
		s.cancel()

		s.clientsMu.Lock()
		for conn := range s.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(s.clients, conn)
		}
		s.clientsMu.Unlock()

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.wg.Wait()
	})
	return stopErr
}

// Broadcast queues a message for every connected client. Messages are
// dropped when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := encode(msg)
			if err != nil {
				s.logger.Warn("failed to marshal message", "type", msg.Type, "error", err)
				continue
			}
			for _, conn := range s.connected() {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.welcomeMu.RLock()
	welcome := s.welcome
	s.welcomeMu.RUnlock()
	if welcome != nil {
		if msg, ok := welcome(); ok {
			if data, err := encode(msg); err == nil {
				ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}
	}

	// Register after the welcome so broadcasts never interleave with it.
	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug("client connected", "clients", clientCount)

	s.readLoop(conn)
}

// readLoop discards client frames; its error is the disconnect signal.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) connected() []*websocket.Conn {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("client disconnected", "clients", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Attendance Sync</title>
</head>
<body>
    <h1>Attendance Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// GetAddr is the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount is the number of connected coordinators.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
