// ABOUTME: SoundFont synthesizer engine backed by go-meltysynth
// ABOUTME: Translates packed short messages and reset sysex into synthesizer calls
package synth

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"go.uber.org/zap"
)

// resetSysex lists the system reset messages the engine understands
var resetSysex = [][]byte{
	{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7},                               // GM on
	{0xF0, 0x7E, 0x7F, 0x09, 0x03, 0xF7},                               // GM2 on
	{0xF0, 0x41, 0x10, 0x42, 0x12, 0x40, 0x00, 0x7F, 0x00, 0x41, 0xF7}, // GS reset
	{0xF0, 0x43, 0x10, 0x4C, 0x00, 0x00, 0x7E, 0x00, 0xF7},             // XG on
}

// IsResetSysex reports whether data is a GM, GS or XG system reset
func IsResetSysex(data []byte) bool {
	for _, r := range resetSysex {
		if bytes.Equal(data, r) {
			return true
		}
	}
	return false
}

// Melty is a meltysynth SoundFont synthesizer
type Melty struct {
	syn *meltysynth.Synthesizer
}

// NewMelty creates an engine from SoundFont data
func NewMelty(r io.Reader, sampleRate int) (*Melty, error) {
	sf, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse soundfont: %w", err)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	syn, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	return &Melty{syn: syn}, nil
}

// LoadMelty creates an engine from a SoundFont file
func LoadMelty(path string, sampleRate int) (*Melty, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read soundfont: %w", err)
	}

	m, err := NewMelty(bytes.NewReader(data), sampleRate)
	if err != nil {
		return nil, err
	}

	zap.S().Infof("Loaded soundfont %s (%d bytes) at %dHz", path, len(data), sampleRate)
	return m, nil
}

// ShortMessage applies a channel message. System messages are ignored.
func (m *Melty) ShortMessage(msg uint32) {
	status := msg & 0xFF
	if status < 0x80 || status >= 0xF0 {
		return
	}
	channel := int32(status & 0x0F)
	command := int32(status & 0xF0)
	data1 := int32(msg >> 8 & 0x7F)
	data2 := int32(msg >> 16 & 0x7F)
	m.syn.ProcessMidiMessage(channel, command, data1, data2)
}

// Sysex handles system resets; other sysex is ignored
func (m *Melty) Sysex(data []byte) {
	if IsResetSysex(data) {
		m.syn.Reset()
	}
}

func (m *Melty) Render(left, right []float32) {
	m.syn.Render(left, right)
}

func (m *Melty) Reset() {
	m.syn.Reset()
}
