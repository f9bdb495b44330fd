// ABOUTME: Websocket client that sends timestamped MIDI to a router server
// ABOUTME: Performs the hello handshake and writes one binary frame per Send
package netmidi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// SenderConfig holds sender configuration
type SenderConfig struct {
	ServerAddr string
	ClientID   string // generated when empty
	Name       string
}

// Sender is a connected network MIDI source
type Sender struct {
	config SenderConfig
	conn   *websocket.Conn
	hello  ServerHello

	mu     sync.Mutex
	closed bool
}

// Dial connects to a server and completes the handshake
func Dial(ctx context.Context, config SenderConfig) (*Sender, error) {
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Name == "" {
		config.Name = "midi-send"
	}

	u := url.URL{Scheme: "ws", Host: config.ServerAddr, Path: Path}
	zap.S().Debugf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	s := &Sender{config: config, conn: conn}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	// Drain control frames so pings and the server close are handled
	go s.readLoop()
	return s, nil
}

func (s *Sender) handshake() error {
	msg := Message{
		Type: "client/hello",
		Payload: ClientHello{
			ClientID: s.config.ClientID,
			Name:     s.config.Name,
			Version:  ProtocolVersion,
		},
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	s.conn.SetReadDeadline(time.Time{})

	var reply Message
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("failed to parse server reply: %w", err)
	}

	switch reply.Type {
	case "server/hello":
		if err := decodePayload(reply.Payload, &s.hello); err != nil {
			return fmt.Errorf("failed to parse server/hello: %w", err)
		}
	case "server/error":
		var serverErr ServerError
		if err := decodePayload(reply.Payload, &serverErr); err != nil {
			return fmt.Errorf("failed to parse server/error: %w", err)
		}
		return fmt.Errorf("server rejected hello: %s (%s)", serverErr.Message, serverErr.Error)
	default:
		return fmt.Errorf("expected server/hello, got %s", reply.Type)
	}

	zap.S().Infof("Connected to %s: session %s, %dHz, MIDI latency %dms",
		s.hello.Name, s.hello.SessionID, s.hello.SampleRate, s.hello.MIDILatencyMs)
	return nil
}

func (s *Sender) readLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hello returns the server's handshake reply
func (s *Sender) Hello() ServerHello {
	return s.hello
}

// Send writes msgs as one frame stamped with the current master clock
func (s *Sender) Send(msgs ...[]byte) error {
	return s.SendAt(mclock.MonotonicNanos(), msgs...)
}

// SendAt writes msgs as one frame stamped with senderNanos
func (s *Sender) SendAt(senderNanos int64, msgs ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sender closed")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, EncodeFrame(senderNanos, msgs...))
}

// Close says goodbye and closes the connection
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.WriteJSON(Message{Type: "client/goodbye", Payload: map[string]string{}}); err != nil {
		zap.S().Debugf("Error sending goodbye: %v", err)
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
