// ABOUTME: Device-less output that renders at wall-clock pace
// ABOUTME: Drives the renderer from a ticker for headless runs and tests
package output

import (
	"fmt"
	"sync"
	"time"

	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
	"go.uber.org/zap"
)

// Timer renders one period per tick and discards the audio
type Timer struct {
	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	latency  int
	period   int
	onBuffer func([]float32)
}

// NewTimer creates a timer output
func NewTimer() *Timer {
	return &Timer{}
}

// OnBuffer installs a tap that sees every rendered buffer on the render
// goroutine. Must be called before Open.
func (t *Timer) OnBuffer(fn func([]float32)) {
	t.onBuffer = fn
}

// Open starts the render goroutine. The tick period is half the requested
// latency, at least 1ms.
func (t *Timer) Open(cfg Config, r Renderer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return fmt.Errorf("timer output already open")
	}
	if err := cfg.Format.Validate(); err != nil {
		return err
	}

	t.latency = cfg.LatencyFrames
	t.period = max(cfg.LatencyFrames/2, cfg.Format.MsToFrames(1))
	interval := cfg.Format.FramesToDuration(t.period)

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(r, cfg.Format.Channels, interval)

	zap.S().Infof("Audio output initialized: %dHz, %d channels (timer, %d-frame period)",
		cfg.Format.SampleRate, cfg.Format.Channels, t.period)
	return nil
}

func (t *Timer) run(r Renderer, channels int, interval time.Duration) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]float32, t.period*channels)
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			r.Render(buf, t.period, mclock.MonotonicNanos(), t.latency)
			if t.onBuffer != nil {
				t.onBuffer(buf)
			}
		}
	}
}

// Close stops the render goroutine and waits for it to exit
func (t *Timer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == nil {
		return nil
	}
	close(t.stop)
	<-t.done
	t.stop = nil
	return nil
}

// LatencyFrames returns the requested latency
func (t *Timer) LatencyFrames() int {
	return t.latency
}

func (t *Timer) Name() string {
	return string(KindTimer)
}
