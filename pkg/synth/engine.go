// ABOUTME: Synthesizer engine boundary
// ABOUTME: Defines the black-box engine interface and a silent engine
package synth

// Engine is a synthesizer that accepts MIDI and renders stereo audio.
// Calls come from the render thread only.
type Engine interface {
	// ShortMessage applies a packed message (status | data1<<8 | data2<<16)
	ShortMessage(msg uint32)
	// Sysex applies a complete F0..F7 message
	Sysex(data []byte)
	// Render fills left and right, which have equal length
	Render(left, right []float32)
	// Reset silences all voices and restores controller defaults
	Reset()
}

// Silent renders silence and ignores MIDI. Used when no SoundFont is
// configured.
type Silent struct{}

// NewSilent creates a silent engine
func NewSilent() *Silent {
	return &Silent{}
}

func (s *Silent) ShortMessage(uint32) {}

func (s *Silent) Sysex([]byte) {}

func (s *Silent) Render(left, right []float32) {
	clear(left)
	clear(right)
}

func (s *Silent) Reset() {}
