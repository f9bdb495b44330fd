// ABOUTME: Double-buffered snapshots published with a generation counter
// ABOUTME: Single writer, any number of lock-free readers that retry on a torn read
package renderclock

import (
	"math"
	"sync/atomic"
)

// TimeInfo anchors the frame timeline to the wall clock
type TimeInfo struct {
	LastPlayedNanos  int64
	LastPlayedFrames uint64
	SampleRate       float64
}

type timeInfoSlot struct {
	nanos  atomic.Int64
	frames atomic.Uint64
	rate   atomic.Uint64 // float64 bits
}

// timeInfoBuffer is a seqlock over two TimeInfo slots. The generation is odd
// while the writer fills the inactive slot; slot (gen>>1)&1 is the current
// one. A reader that sees the generation advance by more than one while
// copying may have raced a second write into its slot and retries.
type timeInfoBuffer struct {
	gen   atomic.Uint32
	slots [2]timeInfoSlot
}

func (b *timeInfoBuffer) store(ti TimeInfo) {
	gen := b.gen.Load()
	b.gen.Store(gen + 1)
	s := &b.slots[(gen>>1+1)&1]
	s.nanos.Store(ti.LastPlayedNanos)
	s.frames.Store(ti.LastPlayedFrames)
	s.rate.Store(math.Float64bits(ti.SampleRate))
	b.gen.Store(gen + 2)
}

func (b *timeInfoBuffer) load() TimeInfo {
	for {
		gen := b.gen.Load()
		s := &b.slots[(gen>>1)&1]
		ti := TimeInfo{
			LastPlayedNanos:  s.nanos.Load(),
			LastPlayedFrames: s.frames.Load(),
			SampleRate:       math.Float64frombits(s.rate.Load()),
		}
		if b.gen.Load()-gen <= 1 {
			return ti
		}
	}
}

// frameCounter publishes the rendered frame count the same way
type frameCounter struct {
	gen   atomic.Uint32
	slots [2]atomic.Uint64
}

func (c *frameCounter) store(frames uint64) {
	gen := c.gen.Load()
	c.gen.Store(gen + 1)
	c.slots[(gen>>1+1)&1].Store(frames)
	c.gen.Store(gen + 2)
}

func (c *frameCounter) load() uint64 {
	for {
		gen := c.gen.Load()
		frames := c.slots[(gen>>1)&1].Load()
		if c.gen.Load()-gen <= 1 {
			return frames
		}
	}
}
