// ABOUTME: Routes MIDI sessions into one synthesizer and renders it to an audio output
// ABOUTME: Owns the render clock, the session list and the per-pass merge
package router

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/pkg/audio"
	"github.com/Resonate-Protocol/resonate-midi/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-midi/pkg/eventbuf"
	"github.com/Resonate-Protocol/resonate-midi/pkg/renderclock"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
	"github.com/Resonate-Protocol/resonate-midi/pkg/synth"
)

var (
	// ErrClosed is returned when using a closed session
	ErrClosed = errors.New("session closed")

	// ErrAlreadyOpen is returned by Open on an open router
	ErrAlreadyOpen = errors.New("router already open")
)

// Router connects MIDI sessions to a synthesizer engine and an audio
// output. Sessions and drivers hold a reference to the router; the router
// owns the output.
type Router struct {
	opts   options
	engine synth.Engine
	gain   *audio.Gain

	// cold path: open/close and session list changes
	mu     sync.Mutex
	out    output.Output
	format audio.Format

	clock    atomic.Pointer[renderclock.Clock]
	sessions atomic.Pointer[[]*Session]

	// held by the render thread while merging, acquired with TryLock only
	mergeMu sync.Mutex

	// render thread state, written before the clock is published
	queueFrames int
	scheduler   *synth.Scheduler
	merger      *Merger
	buffers     []*eventbuf.Buffer
	deliverFn   func(*eventbuf.Buffer)

	passes    atomic.Uint64
	skipped   atomic.Uint64
	delivered atomic.Uint64
}

// New creates a router around engine
func New(engine synth.Engine, opts ...Option) *Router {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Router{
		opts:    o,
		engine:  engine,
		gain:    audio.NewGain(),
		merger:  NewMerger(o.expectedSessions),
		buffers: make([]*eventbuf.Buffer, 0, o.expectedSessions),
	}
	r.deliverFn = r.deliver
	r.sessions.Store(&[]*Session{})
	return r
}

// Open starts rendering to out
func (r *Router) Open(out output.Output, format audio.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out != nil {
		return ErrAlreadyOpen
	}
	if err := format.Validate(); err != nil {
		return err
	}

	// Nothing renders yet, so the router is the only consumer
	for _, s := range *r.sessions.Load() {
		s.events.DiscardEvents()
	}
	r.format = format
	r.scheduler = synth.NewScheduler(r.engine)

	cfg := output.Config{
		Format:        format,
		LatencyFrames: format.MsToFrames(r.opts.audioLatencyMs),
	}
	if err := out.Open(cfg, r); err != nil {
		return fmt.Errorf("failed to open %s output: %w", out.Name(), err)
	}
	r.out = out
	r.queueFrames = out.LatencyFrames()

	clockCfg := renderclock.Config{
		SampleRate:           format.SampleRate,
		AudioLatencyFrames:   out.LatencyFrames(),
		MIDILatencyFrames:    format.MsToFrames(r.opts.midiLatencyMs),
		MaxMIDILatencyFrames: format.MsToFrames(r.opts.maxMIDILatencyMs),
	}
	clock := renderclock.New(clockCfg, mclock.MonotonicNanos())
	r.clock.Store(clock)

	zap.S().Infof("Router open: %s %dHz, audio latency %d frames, MIDI latency %d frames (auto=%v, advanced timing=%v)",
		out.Name(), format.SampleRate, out.LatencyFrames(), clock.MIDILatencyFrames(), clock.IsAutoLatency(), r.opts.advancedTiming)
	return nil
}

// Close stops the output and plays every buffered event into the engine
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out == nil {
		return nil
	}

	err := r.out.Close()
	r.out = nil
	r.clock.Store(nil)

	// The output has stopped calling Render
	r.mergeMu.Lock()
	r.buffers = r.sessionBuffers(r.buffers[:0])
	n := r.merger.Merge(r.buffers, Unbounded, r.deliverFn)
	r.mergeMu.Unlock()
	r.scheduler.Flush()

	zap.S().Infof("Router closed, flushed %d pending events", n)
	if err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return nil
}

// IsOpen reports whether an output is running
func (r *Router) IsOpen() bool {
	return r.clock.Load() != nil
}

// Render implements output.Renderer. It runs on the backend's callback
// thread and never blocks.
func (r *Router) Render(out []float32, frames int, nowNanos int64, queuedFrames int) {
	clock := r.clock.Load()
	if clock == nil {
		clear(out)
		return
	}

	// Count-based timing: the device holds its configured latency
	if queuedFrames == output.QueueUnknown || !r.opts.advancedTiming {
		queuedFrames = r.queueFrames
	}
	clock.UpdateTimeInfo(nowNanos, queuedFrames)

	bound := clock.ComputeMIDITimestamp(uint64(frames))
	if r.mergeMu.TryLock() {
		r.buffers = r.sessionBuffers(r.buffers[:0])
		n := r.merger.Merge(r.buffers, bound, r.deliverFn)
		r.mergeMu.Unlock()
		r.delivered.Add(uint64(n))
	} else {
		// Events stay buffered for the next pass
		r.skipped.Add(1)
	}

	r.scheduler.Render(out, frames, r.format.Channels)
	r.gain.Apply(out[:frames*r.format.Channels])
	clock.FramesRendered(frames)
	r.passes.Add(1)
}

func (r *Router) sessionBuffers(dst []*eventbuf.Buffer) []*eventbuf.Buffer {
	for _, s := range *r.sessions.Load() {
		dst = append(dst, s.events)
	}
	return dst
}

func (r *Router) deliver(b *eventbuf.Buffer) {
	switch b.EventKind() {
	case eventbuf.KindShort:
		r.scheduler.PlayShortMessage(b.ShortMessage(), b.EventTimestamp())
	case eventbuf.KindSysex:
		r.scheduler.PlaySysex(b.Sysex(), b.EventTimestamp())
	}
}

// NewSession registers a MIDI producer
func (r *Router) NewSession(name string) (*Session, error) {
	s := newSession(r, name, r.opts.eventBufferSize)

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.sessions.Load()
	next := make([]*Session, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	r.sessions.Store(&next)

	zap.S().Infof("Session %s opened: %s (%d bytes buffered)", s.id, name, s.events.Capacity())
	return s, nil
}

// removeSession unpublishes s; render passes that start afterwards no
// longer see it
func (r *Router) removeSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.sessions.Load()
	next := make([]*Session, 0, len(cur))
	for _, other := range cur {
		if other != s {
			next = append(next, other)
		}
	}
	r.sessions.Store(&next)
}

// lockMerge waits up to timeout for the render thread to leave the merge
func (r *Router) lockMerge(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !r.mergeMu.TryLock() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Microsecond)
	}
	return true
}

// Sessions returns the registered sessions in merge order
func (r *Router) Sessions() []*Session {
	return append([]*Session(nil), *r.sessions.Load()...)
}

// SetVolume sets the output volume (0-100)
func (r *Router) SetVolume(volume int) {
	r.gain.SetVolume(volume)
	zap.S().Infof("Volume set to %d", r.gain.Volume())
}

// SetMuted sets mute state
func (r *Router) SetMuted(muted bool) {
	r.gain.SetMuted(muted)
	zap.S().Infof("Muted: %v", muted)
}

// Volume returns current volume
func (r *Router) Volume() int {
	return r.gain.Volume()
}

// IsMuted returns mute state
func (r *Router) IsMuted() bool {
	return r.gain.Muted()
}

// SessionStats tracks one session
type SessionStats struct {
	ID       string
	Name     string
	Received uint64
	Dropped  uint64
	Channels uint16 // bitmask of MIDI channels seen

	// Sync is the producer's clock reconciliation, valid when Synced
	Sync   mclock.Stats
	Synced bool
}

// Stats tracks router metrics
type Stats struct {
	Open              bool
	Backend           string
	SampleRate        int
	RenderedFrames    uint64
	MIDILatencyFrames int64
	EstimatedRate     float64
	AutoLatency       bool
	Passes            uint64
	SkippedMerges     uint64
	Delivered         uint64
	Volume            int
	Muted             bool
	Sessions          []SessionStats
}

// Stats returns a snapshot of router statistics
func (r *Router) Stats() Stats {
	st := Stats{
		Passes:        r.passes.Load(),
		SkippedMerges: r.skipped.Load(),
		Delivered:     r.delivered.Load(),
		Volume:        r.gain.Volume(),
		Muted:         r.gain.Muted(),
	}

	r.mu.Lock()
	if r.out != nil {
		st.Backend = r.out.Name()
		st.SampleRate = r.format.SampleRate
	}
	r.mu.Unlock()

	if clock := r.clock.Load(); clock != nil {
		st.Open = true
		st.RenderedFrames = clock.RenderedFrames()
		st.MIDILatencyFrames = clock.MIDILatencyFrames()
		st.EstimatedRate = clock.TimeInfo().SampleRate
		st.AutoLatency = clock.IsAutoLatency()
	}

	for _, s := range *r.sessions.Load() {
		st.Sessions = append(st.Sessions, s.Stats())
	}
	return st
}
