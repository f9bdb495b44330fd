// ABOUTME: Oto-based audio output implementation
// ABOUTME: Persistent oto player pulling float32 PCM from the renderer on demand
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// oto allows one context per process
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat Config
)

// Oto output implementation using oto library. Timing is count-based: the
// player's queue cannot be queried from inside its own Read.
type Oto struct {
	mu      sync.Mutex
	player  *oto.Player
	stream  *otoStream
	latency int
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{}
}

// otoStream adapts a Renderer to the io.Reader oto pulls from
type otoStream struct {
	mu       sync.Mutex
	r        Renderer
	channels int
	buf      []float32
	closed   bool
}

func (s *otoStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}
	frames := len(p) / (4 * s.channels)
	if frames == 0 {
		return 0, nil
	}

	n := frames * s.channels
	if cap(s.buf) < n {
		s.buf = make([]float32, n)
	}
	buf := s.buf[:n]
	s.r.Render(buf, frames, mclock.MonotonicNanos(), QueueUnknown)

	for i, sample := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(sample))
	}
	return n * 4, nil
}

func (s *otoStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Open initializes the output device
func (o *Oto) Open(cfg Config, r Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		return fmt.Errorf("oto output already open")
	}
	if err := cfg.Format.Validate(); err != nil {
		return err
	}

	ctx, err := sharedOtoContext(cfg)
	if err != nil {
		return err
	}

	o.stream = &otoStream{r: r, channels: cfg.Format.Channels}
	o.player = ctx.NewPlayer(o.stream)
	if cfg.LatencyFrames > 0 {
		o.player.SetBufferSize(cfg.LatencyFrames * cfg.Format.Channels * 4)
	}
	o.latency = cfg.LatencyFrames
	o.player.Play()

	zap.S().Infof("Audio output initialized: %dHz, %d channels (oto)", cfg.Format.SampleRate, cfg.Format.Channels)
	return nil
}

func sharedOtoContext(cfg Config) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		// oto can't be reinitialized with another format
		if otoFormat.Format.SampleRate != cfg.Format.SampleRate || otoFormat.Format.Channels != cfg.Format.Channels {
			return nil, fmt.Errorf("oto already initialized at %dHz %dch", otoFormat.Format.SampleRate, otoFormat.Format.Channels)
		}
		if err := otoCtx.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume oto context: %w", err)
		}
		return otoCtx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.Format.SampleRate,
		ChannelCount: cfg.Format.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.Format.FramesToDuration(cfg.LatencyFrames),
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	otoCtx = ctx
	otoFormat = cfg
	return ctx, nil
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return nil
	}
	// Waits out a Read in flight, later Reads return EOF
	o.stream.close()
	if err := o.player.Close(); err != nil {
		zap.S().Warnf("oto player close error: %v", err)
	}
	o.player = nil

	otoMu.Lock()
	if err := otoCtx.Suspend(); err != nil {
		zap.S().Warnf("oto context suspend error: %v", err)
	}
	otoMu.Unlock()
	return nil
}

// LatencyFrames returns the requested player buffer size
func (o *Oto) LatencyFrames() int {
	return o.latency
}

func (o *Oto) Name() string {
	return string(KindOto)
}
