// ABOUTME: Software volume and mute applied to rendered audio
// ABOUTME: Safe to adjust from the UI while the render thread applies it
package audio

import "sync/atomic"

// Gain holds volume (0-100) and mute state
type Gain struct {
	volume atomic.Int32
	muted  atomic.Bool
}

// NewGain creates a gain at full volume
func NewGain() *Gain {
	g := &Gain{}
	g.volume.Store(100)
	return g
}

// SetVolume sets the volume (0-100)
func (g *Gain) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	g.volume.Store(int32(volume))
}

// SetMuted sets mute state
func (g *Gain) SetMuted(muted bool) {
	g.muted.Store(muted)
}

// Volume returns current volume
func (g *Gain) Volume() int {
	return int(g.volume.Load())
}

// Muted returns mute state
func (g *Gain) Muted() bool {
	return g.muted.Load()
}

// Multiplier calculates the linear volume multiplier
func (g *Gain) Multiplier() float32 {
	if g.muted.Load() {
		return 0
	}
	return float32(g.volume.Load()) / 100
}

// Apply scales samples in place
func (g *Gain) Apply(samples []float32) {
	m := g.Multiplier()
	if m == 1 {
		return
	}
	for i := range samples {
		samples[i] *= m
	}
}
