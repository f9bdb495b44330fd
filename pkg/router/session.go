// ABOUTME: A single MIDI producer feeding the router
// ABOUTME: Stamps events with render-clock frames and queues them lock-free
package router

import (
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/pkg/eventbuf"
	"github.com/Resonate-Protocol/resonate-midi/pkg/midi"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// Session is one MIDI input (a hardware port, a network peer). Push methods
// must be called from one goroutine at a time.
type Session struct {
	id     string
	name   string
	router *Router
	events *eventbuf.Buffer

	closed   atomic.Bool
	received atomic.Uint64
	dropped  atomic.Uint64
	channels atomic.Uint32 // bit n set once channel n carried a voice message
	sync     atomic.Pointer[mclock.Stats]
}

func newSession(r *Router, name string, bufferSize int) *Session {
	return &Session{
		id:     uuid.New().String(),
		name:   name,
		router: r,
		events: eventbuf.New(bufferSize),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Name returns the session display name
func (s *Session) Name() string {
	return s.name
}

// PushShortMessage queues a packed short message received at wallNanos on
// the master clock. Returns false if the event was dropped.
func (s *Session) PushShortMessage(wallNanos int64, msg uint32) bool {
	if s.closed.Load() {
		return false
	}
	clock := s.router.clock.Load()
	if clock == nil {
		s.dropped.Add(1)
		return false
	}

	if !s.events.PushShortMessage(clock.EstimateMIDITimestamp(wallNanos), msg) {
		s.dropped.Add(1)
		return false
	}
	s.received.Add(1)
	if ch := midi.Channel(midi.UnpackShort(msg)); ch >= 0 {
		s.channels.Or(1 << ch)
	}
	return true
}

// PushSysex queues a complete sysex message. Returns false if the event was
// dropped.
func (s *Session) PushSysex(wallNanos int64, data []byte) bool {
	if s.closed.Load() {
		return false
	}
	clock := s.router.clock.Load()
	if clock == nil {
		s.dropped.Add(1)
		return false
	}

	if !s.events.PushSysexMessage(clock.EstimateMIDITimestamp(wallNanos), data) {
		s.dropped.Add(1)
		return false
	}
	s.received.Add(1)
	return true
}

// PushMessage queues one complete raw message, short or sysex
func (s *Session) PushMessage(wallNanos int64, msg []byte) bool {
	if midi.IsSysex(msg) {
		return s.PushSysex(wallNanos, msg)
	}
	packed, ok := midi.PackShort(msg)
	if !ok {
		s.dropped.Add(1)
		return false
	}
	return s.PushShortMessage(wallNanos, packed)
}

// Flush publishes queued events to the render thread
func (s *Session) Flush() {
	s.events.Flush()
}

// Close stops accepting events, waits for the render thread to let go of
// the session and discards whatever it did not deliver
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	r := s.router
	r.removeSession(s)

	if r.lockMerge(r.opts.teardownTimeout) {
		s.events.DiscardEvents()
		r.mergeMu.Unlock()
	} else {
		zap.S().Warnf("Session %s: render thread busy after %v, dropping buffer unread", s.id, r.opts.teardownTimeout)
	}

	zap.S().Infof("Session %s closed: %s (received %d, dropped %d)", s.id, s.name, s.received.Load(), s.dropped.Load())
	return nil
}

// ReportSync publishes the producer's clock reconciliation state for Stats.
// Producers that stamp events with the master clock directly never call it.
func (s *Session) ReportSync(st mclock.Stats) {
	s.sync.Store(&st)
}

// IsClosed reports whether Close was called
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Stats returns the session counters
func (s *Session) Stats() SessionStats {
	st := SessionStats{
		ID:       s.id,
		Name:     s.name,
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
		Channels: uint16(s.channels.Load()),
	}
	if cs := s.sync.Load(); cs != nil {
		st.Sync = *cs
		st.Synced = true
	}
	return st
}
