// ABOUTME: Wire format for network MIDI sessions
// ABOUTME: JSON envelope for the handshake and binary frames for timestamped MIDI
package netmidi

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ProtocolVersion is the handshake version
	ProtocolVersion = 1

	// Path is the websocket endpoint
	Path = "/midi"

	// MIDIFrameType tags binary frames carrying MIDI bytes
	MIDIFrameType = 0x01

	// FrameHeaderSize is the type byte plus the sender timestamp
	FrameHeaderSize = 1 + 8
)

// ErrBadFrame is returned for binary frames that cannot be decoded
var ErrBadFrame = errors.New("malformed MIDI frame")

// Message is the top-level wrapper for all text messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ClientHello opens a session
type ClientHello struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerHello answers client/hello
type ServerHello struct {
	SessionID     string `json:"session_id"`
	Name          string `json:"name"`
	Version       int    `json:"version"`
	SampleRate    int    `json:"sample_rate"`
	MIDILatencyMs int    `json:"midi_latency_ms"`
}

// ServerError rejects a handshake
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// EncodeFrame builds a binary frame: [type:1][sender nanos:8 BE][MIDI bytes]
func EncodeFrame(senderNanos int64, msgs ...[]byte) []byte {
	n := FrameHeaderSize
	for _, m := range msgs {
		n += len(m)
	}

	frame := make([]byte, FrameHeaderSize, n)
	frame[0] = MIDIFrameType
	binary.BigEndian.PutUint64(frame[1:FrameHeaderSize], uint64(senderNanos))
	for _, m := range msgs {
		frame = append(frame, m...)
	}
	return frame
}

// DecodeFrame splits a binary frame into its timestamp and MIDI bytes
func DecodeFrame(frame []byte) (int64, []byte, error) {
	if len(frame) < FrameHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(frame))
	}
	if frame[0] != MIDIFrameType {
		return 0, nil, fmt.Errorf("%w: type %#x", ErrBadFrame, frame[0])
	}
	return int64(binary.BigEndian.Uint64(frame[1:FrameHeaderSize])), frame[FrameHeaderSize:], nil
}

// decodePayload converts a generic payload into its concrete type
func decodePayload(payload interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
