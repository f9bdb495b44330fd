//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Callback stream whose DAC timestamps report the device queue
package output

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// PortAudio output implementation. The only backend that reports how many
// frames the device holds, enabling advanced timing.
type PortAudio struct {
	mu       sync.Mutex
	stream   *portaudio.Stream
	renderer Renderer
	rate     float64
	channels int
	latency  int
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Open initializes PortAudio
func (p *PortAudio) Open(cfg Config, r Renderer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return fmt.Errorf("portaudio output already open")
	}
	if err := cfg.Format.Validate(); err != nil {
		return err
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	p.renderer = r
	p.rate = float64(cfg.Format.SampleRate)
	p.channels = cfg.Format.Channels

	framesPerBuffer := cfg.LatencyFrames / 2
	stream, err := portaudio.OpenDefaultStream(0, cfg.Format.Channels, p.rate, framesPerBuffer, p.callback)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	p.latency = cfg.LatencyFrames
	if info := stream.Info(); info != nil && info.OutputLatency > 0 {
		p.latency = cfg.Format.DurationToFrames(info.OutputLatency)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start stream: %w", err)
	}
	p.stream = stream

	zap.S().Infof("Audio output initialized: %dHz, %d channels (portaudio, %d-frame latency)",
		cfg.Format.SampleRate, cfg.Format.Channels, p.latency)
	return nil
}

func (p *PortAudio) callback(out []float32, timeInfo portaudio.StreamCallbackTimeInfo) {
	now := mclock.MonotonicNanos()
	queued := QueueUnknown
	if ahead := timeInfo.OutputBufferDacTime - timeInfo.CurrentTime; ahead > 0 {
		queued = int(ahead.Seconds() * p.rate)
	}
	p.renderer.Render(out, len(out)/p.channels, now, queued)
}

// Close stops the stream and releases PortAudio
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	if err := p.stream.Close(); err != nil {
		return err
	}
	p.stream = nil
	return portaudio.Terminate()
}

// LatencyFrames returns the device output latency
func (p *PortAudio) LatencyFrames() int {
	return p.latency
}

func (p *PortAudio) Name() string {
	return string(KindPortAudio)
}
