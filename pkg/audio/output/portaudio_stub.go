//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"fmt"
)

// PortAudio output implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Open reports that PortAudio is not compiled in
func (p *PortAudio) Open(cfg Config, r Renderer) error {
	return fmt.Errorf("%w: build with -tags portaudio", ErrUnsupported)
}

func (p *PortAudio) Close() error {
	return nil
}

func (p *PortAudio) LatencyFrames() int {
	return 0
}

func (p *PortAudio) Name() string {
	return string(KindPortAudio)
}
