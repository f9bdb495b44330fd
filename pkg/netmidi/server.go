// ABOUTME: Websocket server accepting network MIDI senders
// ABOUTME: Each connection becomes a router session with its own sender clock reconciliation
package netmidi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/pkg/midi"
	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// Config holds server configuration
type Config struct {
	Name string
}

// Server bridges websocket senders into a router
type Server struct {
	config   Config
	router   *router.Router
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpServer *http.Server

	clientsMu  sync.RWMutex
	clients    map[string]*client
	isShutdown bool

	wg sync.WaitGroup
}

type client struct {
	id      string
	name    string
	conn    *websocket.Conn
	session *router.Session
	clock   *mclock.ClockSync
	frames  uint64
}

// NewServer creates a server feeding r
func NewServer(r *router.Router, config Config) *Server {
	s := &Server{
		config: config,
		router: r,
		upgrader: websocket.Upgrader{
			// Senders are non-browser clients on a trusted local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		clients: make(map[string]*client),
	}
	s.mux.HandleFunc(Path, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the websocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		zap.S().Infof("MIDI websocket server listening on %s%s", addr, Path)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		serverErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("HTTP server shutdown error: %v", err)
	}

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Shutdown rejects new connections, closes the open ones and waits for
// their sessions to be torn down
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	s.isShutdown = true
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// Clients returns the names of the connected senders
func (s *Server) Clients() []string {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	names := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		names = append(names, c.name)
	}
	return names
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnf("WebSocket upgrade error: %v", err)
		return
	}

	zap.S().Debugf("New MIDI connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	c, err := s.handshake(conn)
	if err != nil {
		zap.S().Warnf("MIDI handshake failed: %v", err)
		return
	}
	defer s.wg.Done()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()

		if err := c.session.Close(); err != nil {
			zap.S().Warnf("Closing session for %s: %v", c.name, err)
		}
		zap.S().Infof("MIDI sender disconnected: %s (%d frames)", c.name, c.frames)
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Warnf("WebSocket error from %s: %v", c.name, err)
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.handleFrame(c, data)
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				zap.S().Warnf("Error unmarshaling message from %s: %v", c.name, err)
				continue
			}
			if msg.Type == "client/goodbye" {
				return
			}
			zap.S().Debugf("Unknown message type from %s: %s", c.name, msg.Type)
		}
	}
}

// handshake reads client/hello, registers a session and answers server/hello
func (s *Server) handshake(conn *websocket.Conn) (*client, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading hello: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}
	if msg.Type != "client/hello" {
		return nil, fmt.Errorf("expected client/hello, got %s", msg.Type)
	}

	var hello ClientHello
	if err := decodePayload(msg.Payload, &hello); err != nil {
		return nil, fmt.Errorf("unmarshaling client hello: %w", err)
	}
	if hello.ClientID == "" || hello.Name == "" {
		writeJSON(conn, "server/error", ServerError{Error: "invalid_hello", Message: "client_id and name are required"})
		return nil, fmt.Errorf("client hello missing client_id or name")
	}

	s.clientsMu.Lock()
	if s.isShutdown {
		s.clientsMu.Unlock()
		writeJSON(conn, "server/error", ServerError{Error: "shutting_down", Message: "Server is shutting down"})
		return nil, fmt.Errorf("rejecting %s during shutdown", hello.Name)
	}
	if _, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		writeJSON(conn, "server/error", ServerError{Error: "duplicate_client_id", Message: "Client ID already connected"})
		return nil, fmt.Errorf("client ID %s already connected", hello.ClientID)
	}

	session, err := s.router.NewSession("net: " + hello.Name)
	if err != nil {
		s.clientsMu.Unlock()
		writeJSON(conn, "server/error", ServerError{Error: "unavailable", Message: err.Error()})
		return nil, err
	}

	c := &client{
		id:      hello.ClientID,
		name:    hello.Name,
		conn:    conn,
		session: session,
		clock:   mclock.NewClockSync(),
	}
	s.clients[c.id] = c
	s.wg.Add(1)
	s.clientsMu.Unlock()

	st := s.router.Stats()
	reply := ServerHello{
		SessionID:  session.ID(),
		Name:       s.config.Name,
		Version:    ProtocolVersion,
		SampleRate: st.SampleRate,
	}
	if st.SampleRate > 0 {
		reply.MIDILatencyMs = int(st.MIDILatencyFrames * 1000 / int64(st.SampleRate))
	}
	if err := writeJSON(conn, "server/hello", reply); err != nil {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		session.Close()
		s.wg.Done()
		return nil, fmt.Errorf("sending server hello: %w", err)
	}

	zap.S().Infof("MIDI sender connected: %s (ID: %s, session %s)", c.name, c.id, session.ID())
	return c, nil
}

// handleFrame pushes every message in a frame and publishes them together
func (s *Server) handleFrame(c *client, data []byte) {
	senderNanos, payload, err := DecodeFrame(data)
	if err != nil {
		zap.S().Debugf("Dropping frame from %s: %v", c.name, err)
		return
	}
	c.frames++

	wall := c.clock.Sync(mclock.MonotonicNanos(), senderNanos)
	c.session.ReportSync(c.clock.GetStats())
	for _, msg := range midi.Split(payload) {
		c.session.PushMessage(wall, msg)
	}
	c.session.Flush()
}

func writeJSON(conn *websocket.Conn, msgType string, payload interface{}) error {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
