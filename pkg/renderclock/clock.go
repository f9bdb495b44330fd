// ABOUTME: Maps wall-clock instants onto the renderer's frame timeline
// ABOUTME: Written by the render thread, read lock-free by MIDI producer threads
package renderclock

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	// AutoLatencyMarginMs is added to the audio latency when the MIDI latency
	// is derived automatically
	AutoLatencyMarginMs = 10

	// anchorSmoothing pulls the extrapolated anchor toward the measured
	// played position
	anchorSmoothing = 0.1

	// rateGain converts the remaining residual in frames into a rate
	// correction in frames per second
	rateGain = 0.02

	// maxRateDeviation bounds the estimated rate around nominal
	maxRateDeviation = 0.005
)

// Config describes the stream a Clock tracks
type Config struct {
	SampleRate         int
	AudioLatencyFrames int

	// MIDILatencyFrames is the margin added to every estimated timestamp.
	// Zero derives it from the audio latency and lets it widen on late
	// events.
	MIDILatencyFrames int

	// MaxMIDILatencyFrames bounds auto widening. Zero means half a second.
	MaxMIDILatencyFrames int
}

// Clock is the mapping between wall-clock nanoseconds and frame indices
type Clock struct {
	nominalRate float64
	autoLatency bool
	maxLatency  int64
	midiLatency atomic.Int64

	timeInfo timeInfoBuffer
	rendered frameCounter

	// render thread only
	renderedFrames uint64
	lastUpdate     int64
	position       float64
	resetPending   atomic.Bool
}

// New creates a clock for a stream opened at openNanos on the master clock
func New(cfg Config, openNanos int64) *Clock {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	c := &Clock{
		nominalRate: float64(cfg.SampleRate),
		autoLatency: cfg.MIDILatencyFrames == 0,
		maxLatency:  int64(cfg.MaxMIDILatencyFrames),
	}
	if c.maxLatency <= 0 {
		c.maxLatency = int64(cfg.SampleRate / 2)
	}

	latency := int64(cfg.MIDILatencyFrames)
	if c.autoLatency {
		latency = int64(cfg.AudioLatencyFrames) + int64(cfg.SampleRate)*AutoLatencyMarginMs/1000
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
	c.midiLatency.Store(latency)

	c.timeInfo.store(TimeInfo{
		LastPlayedNanos: openNanos,
		SampleRate:      c.nominalRate,
	})
	c.lastUpdate = openNanos
	c.resetPending.Store(true)
	return c
}

// EstimateMIDITimestamp returns the frame at which an event received at
// wallNanos should play. Safe from any goroutine. Never returns a frame
// before the rendered count.
func (c *Clock) EstimateMIDITimestamp(wallNanos int64) uint64 {
	ti := c.timeInfo.load()
	rendered := c.rendered.load()
	latency := c.midiLatency.Load()

	elapsed := float64(wallNanos-ti.LastPlayedNanos) * ti.SampleRate / 1e9
	estimate := float64(ti.LastPlayedFrames) + elapsed + float64(latency)

	if estimate < float64(rendered) {
		if c.autoLatency {
			c.widenLatency(int64(math.Ceil(float64(rendered) - estimate)))
		}
		return rendered
	}
	return uint64(estimate)
}

// widenLatency grows the MIDI latency by delay frames, up to the bound
func (c *Clock) widenLatency(delay int64) {
	for {
		cur := c.midiLatency.Load()
		if cur >= c.maxLatency {
			return
		}
		next := min(cur+delay, c.maxLatency)
		if c.midiLatency.CompareAndSwap(cur, next) {
			zap.S().Debugf("RenderClock: late event, MIDI latency %d -> %d frames", cur, next)
			return
		}
	}
}

// ComputeMIDITimestamp offsets the rendered count. Render thread only.
func (c *Clock) ComputeMIDITimestamp(offset uint64) uint64 {
	return c.renderedFrames + offset
}

// UpdateTimeInfo folds a playback measurement into the snapshot: nowNanos is
// the master clock at the start of the render pass and queuedFrames the
// frames rendered but not yet played. Render thread only.
func (c *Clock) UpdateTimeInfo(nowNanos int64, queuedFrames int) {
	latency := c.midiLatency.Load()
	window := int64(float64(latency) / c.nominalRate * 1e9)
	if nowNanos-c.lastUpdate < window {
		return
	}
	c.lastUpdate = nowNanos

	var played uint64
	if q := uint64(max(queuedFrames, 0)); q < c.renderedFrames {
		played = c.renderedFrames - q
	}

	prev := c.timeInfo.load()
	elapsed := float64(nowNanos-prev.LastPlayedNanos) / 1e9
	predicted := c.position + elapsed*prev.SampleRate
	discrepancy := float64(played) - predicted

	if c.resetPending.Swap(false) || math.Abs(discrepancy) > float64(latency) || elapsed <= 0 {
		if prev.LastPlayedFrames != 0 || played != 0 {
			zap.S().Debugf("RenderClock: hard reset, discrepancy %.0f frames", discrepancy)
		}
		c.position = float64(played)
		c.timeInfo.store(TimeInfo{
			LastPlayedNanos:  nowNanos,
			LastPlayedFrames: played,
			SampleRate:       c.nominalRate,
		})
		return
	}

	// Anchor at the prediction plus a fraction of the residual. The rate
	// correction must not divide by elapsed, which jitters with the
	// measurement.
	c.position = max(0, predicted+anchorSmoothing*discrepancy)
	rate := prev.SampleRate + rateGain*discrepancy
	lo := c.nominalRate * (1 - maxRateDeviation)
	hi := c.nominalRate * (1 + maxRateDeviation)
	rate = max(lo, min(hi, rate))

	c.timeInfo.store(TimeInfo{
		LastPlayedNanos:  nowNanos,
		LastPlayedFrames: uint64(math.Round(c.position)),
		SampleRate:       rate,
	})
}

// FramesRendered advances and publishes the rendered count. Render thread
// only.
func (c *Clock) FramesRendered(n int) {
	c.renderedFrames += uint64(n)
	c.rendered.store(c.renderedFrames)
}

// ScheduleReset forces a hard reset on the next UpdateTimeInfo
func (c *Clock) ScheduleReset() {
	c.resetPending.Store(true)
}

// RenderedFrames returns the published rendered count
func (c *Clock) RenderedFrames() uint64 {
	return c.rendered.load()
}

// TimeInfo returns a consistent snapshot of the wall-clock anchor
func (c *Clock) TimeInfo() TimeInfo {
	return c.timeInfo.load()
}

// MIDILatencyFrames returns the current MIDI latency margin
func (c *Clock) MIDILatencyFrames() int64 {
	return c.midiLatency.Load()
}

// IsAutoLatency reports whether the MIDI latency is derived and may widen
func (c *Clock) IsAutoLatency() bool {
	return c.autoLatency
}

// SampleRate returns the nominal sample rate
func (c *Clock) SampleRate() int {
	return int(c.nominalRate)
}
