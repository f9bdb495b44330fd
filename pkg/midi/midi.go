// ABOUTME: MIDI byte-stream handling shared by the input drivers
// ABOUTME: Splits raw streams into messages and packs short messages into words
package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Split breaks a raw MIDI byte stream into complete messages. Running status
// is expanded, realtime bytes interleaved inside other messages come out as
// their own messages, and incomplete trailing messages are dropped.
func Split(stream []byte) [][]byte {
	var out [][]byte
	var running byte
	var cur []byte
	need := 0
	sysex := false

	for _, b := range stream {
		switch {
		case b >= 0xF8:
			// Realtime never interrupts a message's state
			out = append(out, []byte{b})

		case b == 0xF0:
			cur = []byte{b}
			sysex = true
			running = 0

		case b == 0xF7:
			if sysex {
				out = append(out, append(cur, b))
			}
			cur, sysex, need = nil, false, 0

		case sysex && b < 0x80:
			cur = append(cur, b)

		case b >= 0x80:
			sysex = false
			need = messageLength(b) - 1
			cur = []byte{b}
			if b < 0xF0 {
				running = b
			} else {
				running = 0
			}
			if need == 0 {
				out = append(out, cur)
				cur = nil
			}

		default:
			if cur == nil {
				if running == 0 {
					// Stray data byte
					continue
				}
				cur = []byte{running}
				need = messageLength(running) - 1
			}
			cur = append(cur, b)
			need--
			if need == 0 {
				out = append(out, cur)
				cur = nil
			}
		}
	}
	return out
}

// messageLength returns the total length of a non-sysex message by status
func messageLength(status byte) int {
	switch {
	case status < 0xC0:
		return 3
	case status < 0xE0:
		return 2
	case status < 0xF0:
		return 3
	}
	switch status {
	case 0xF1, 0xF3:
		return 2
	case 0xF2:
		return 3
	}
	return 1
}

// IsSysex reports whether msg is a complete F0..F7 message
func IsSysex(msg []byte) bool {
	return len(msg) >= 2 && msg[0] == 0xF0 && msg[len(msg)-1] == 0xF7
}

// PackShort packs a 1-3 byte message as status | data1<<8 | data2<<16
func PackShort(msg []byte) (uint32, bool) {
	if len(msg) == 0 || len(msg) > 3 || msg[0] < 0x80 || msg[0] == 0xF0 {
		return 0, false
	}
	var packed uint32
	for i, b := range msg {
		packed |= uint32(b) << (8 * i)
	}
	return packed, true
}

// UnpackShort expands a packed short message back to its bytes
func UnpackShort(packed uint32) []byte {
	status := byte(packed)
	msg := []byte{status, byte(packed >> 8), byte(packed >> 16)}
	return msg[:messageLength(status)]
}

// Describe renders a message for logs
func Describe(msg []byte) string {
	return gomidi.Message(msg).String()
}

// Channel returns the channel of a channel voice message, or -1
func Channel(msg []byte) int {
	var ch uint8
	m := gomidi.Message(msg)
	switch {
	case m.GetNoteOn(&ch, new(uint8), new(uint8)),
		m.GetNoteOff(&ch, new(uint8), new(uint8)),
		m.GetControlChange(&ch, new(uint8), new(uint8)),
		m.GetProgramChange(&ch, new(uint8)),
		m.GetPitchBend(&ch, new(int16), new(uint16)),
		m.GetAfterTouch(&ch, new(uint8)),
		m.GetPolyAfterTouch(&ch, new(uint8), new(uint8)):
		return int(ch)
	}
	return -1
}
