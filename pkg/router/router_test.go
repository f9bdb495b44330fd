// ABOUTME: Tests for the router and its sessions
// ABOUTME: Tests end-to-end timing, skipped merges, teardown, flushing on close, concurrent producers, and session stats
package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-midi/pkg/audio"
	"github.com/Resonate-Protocol/resonate-midi/pkg/audio/output"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

const ms = int64(time.Millisecond)

// manualOutput never calls Render by itself; tests drive the router
type manualOutput struct {
	latency int
	opened  bool
	closed  bool
}

func (m *manualOutput) Open(cfg output.Config, r output.Renderer) error {
	m.opened = true
	return nil
}

func (m *manualOutput) Close() error {
	m.closed = true
	return nil
}

func (m *manualOutput) LatencyFrames() int { return m.latency }

func (m *manualOutput) Name() string { return "manual" }

type playedEvent struct {
	frame uint64
	msg   uint32
	sysex bool
}

// recordingEngine logs messages with the frame they were applied at and
// renders a constant level
type recordingEngine struct {
	mu     sync.Mutex
	frame  uint64
	events []playedEvent
}

func (e *recordingEngine) ShortMessage(msg uint32) {
	e.mu.Lock()
	e.events = append(e.events, playedEvent{frame: e.frame, msg: msg})
	e.mu.Unlock()
}

func (e *recordingEngine) Sysex(data []byte) {
	e.mu.Lock()
	e.events = append(e.events, playedEvent{frame: e.frame, sysex: true})
	e.mu.Unlock()
}

func (e *recordingEngine) Render(left, right []float32) {
	for i := range left {
		left[i], right[i] = 1, 1
	}
	e.mu.Lock()
	e.frame += uint64(len(left))
	e.mu.Unlock()
}

func (e *recordingEngine) Reset() {}

func (e *recordingEngine) played() []playedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]playedEvent(nil), e.events...)
}

var stereo48k = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

func openManual(t *testing.T, r *Router) int64 {
	t.Helper()
	if err := r.Open(&manualOutput{}, stereo48k); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return r.clock.Load().TimeInfo().LastPlayedNanos
}

func TestEndToEndTiming(t *testing.T) {
	engine := &recordingEngine{}
	r := New(engine, WithMIDILatency(1))
	t0 := openManual(t, r)

	s, _ := r.NewSession("test")
	if !s.PushShortMessage(t0+10*ms, 0x7F3C90) {
		t.Fatal("push failed")
	}
	s.Flush()

	// 480 frames for 10ms at 48kHz plus the 48-frame margin
	margin := uint64(r.clock.Load().MIDILatencyFrames())
	if margin != 48 {
		t.Fatalf("expected 48-frame MIDI latency, got %d", margin)
	}

	buf := make([]float32, 480*2)
	for pass := 1; pass <= 4 && len(engine.played()) == 0; pass++ {
		r.Render(buf, 480, t0+int64(pass)*10*ms, output.QueueUnknown)
	}

	played := engine.played()
	if len(played) != 1 {
		t.Fatalf("expected the event to be played, got %d events", len(played))
	}
	if played[0].frame < 480 || played[0].frame > 480+margin {
		t.Errorf("expected event near frame 480 (+%d), played at %d", margin, played[0].frame)
	}
	if rendered := r.clock.Load().RenderedFrames(); played[0].frame >= rendered {
		t.Errorf("expected event frame %d before rendered count %d", played[0].frame, rendered)
	}
}

func TestPushWithoutOutputIsDropped(t *testing.T) {
	r := New(&recordingEngine{})
	s, _ := r.NewSession("early")

	if s.PushShortMessage(mclock.MonotonicNanos(), 0x90) {
		t.Error("expected push to fail without an open output")
	}
	if st := s.Stats(); st.Dropped != 1 || st.Received != 0 {
		t.Errorf("expected 1 dropped, got %+v", st)
	}
}

func TestRenderSkipsMergeWhenContended(t *testing.T) {
	engine := &recordingEngine{}
	r := New(engine, WithMIDILatency(1))
	t0 := openManual(t, r)

	s, _ := r.NewSession("test")
	s.PushShortMessage(t0, 0x90)
	s.Flush()

	buf := make([]float32, 480*2)
	r.mergeMu.Lock()
	r.Render(buf, 480, t0, output.QueueUnknown)
	r.mergeMu.Unlock()

	if got := r.Stats().SkippedMerges; got != 1 {
		t.Errorf("expected 1 skipped merge, got %d", got)
	}
	if len(engine.played()) != 0 {
		t.Fatal("expected no delivery while the merge lock is held")
	}

	r.Render(buf, 480, t0+10*ms, output.QueueUnknown)
	if len(engine.played()) != 1 {
		t.Error("expected the event on the next pass")
	}
}

func TestSessionCloseDiscardsAndUnregisters(t *testing.T) {
	engine := &recordingEngine{}
	r := New(engine, WithMIDILatency(1))
	t0 := openManual(t, r)

	s, _ := r.NewSession("gone")
	keep, _ := r.NewSession("kept")
	s.PushShortMessage(t0, 0x90)
	s.Flush()

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}
	if s.PushShortMessage(t0, 0x90) {
		t.Error("expected push on closed session to fail")
	}

	sessions := r.Sessions()
	if len(sessions) != 1 || sessions[0] != keep {
		t.Errorf("expected only the kept session, got %d sessions", len(sessions))
	}

	buf := make([]float32, 480*2)
	r.Render(buf, 480, t0+10*ms, output.QueueUnknown)
	r.Render(buf, 480, t0+20*ms, output.QueueUnknown)
	if len(engine.played()) != 0 {
		t.Error("expected undelivered events of a closed session to be discarded")
	}
}

func TestSessionCloseTimesOutWhenRenderBusy(t *testing.T) {
	r := New(&recordingEngine{}, WithTeardownTimeout(5*time.Millisecond))
	s, _ := r.NewSession("stuck")

	r.mergeMu.Lock()
	start := time.Now()
	err := s.Close()
	r.mergeMu.Unlock()

	if err != nil {
		t.Errorf("expected teardown to complete, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected bounded wait, took %v", elapsed)
	}
	if len(r.Sessions()) != 0 {
		t.Error("expected session to be unregistered after timeout")
	}
}

func TestCloseFlushesPendingEvents(t *testing.T) {
	engine := &recordingEngine{}
	out := &manualOutput{}
	r := New(engine, WithMIDILatency(1))
	if err := r.Open(out, stereo48k); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t0 := r.clock.Load().TimeInfo().LastPlayedNanos

	s, _ := r.NewSession("test")
	s.PushShortMessage(t0+time.Second.Nanoseconds(), 0x90)
	s.PushSysex(t0+2*time.Second.Nanoseconds(), []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7})
	s.Flush()

	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !out.closed {
		t.Error("expected output to be closed")
	}

	played := engine.played()
	if len(played) != 2 || played[0].sysex || !played[1].sysex {
		t.Errorf("expected short then sysex flushed into the engine, got %+v", played)
	}
	if r.IsOpen() {
		t.Error("expected router to report closed")
	}
	if s.PushShortMessage(t0, 0x90) {
		t.Error("expected push after close to be dropped")
	}
}

func TestOpenTwice(t *testing.T) {
	r := New(&recordingEngine{})
	openManual(t, r)
	if err := r.Open(&manualOutput{}, stereo48k); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestGainApplied(t *testing.T) {
	r := New(&recordingEngine{})
	t0 := openManual(t, r)

	r.SetVolume(50)
	buf := make([]float32, 16*2)
	r.Render(buf, 16, t0, output.QueueUnknown)
	if buf[0] != 0.5 || buf[31] != 0.5 {
		t.Errorf("expected half-volume samples, got %v", buf[:2])
	}

	r.SetMuted(true)
	r.Render(buf, 16, t0, output.QueueUnknown)
	if buf[0] != 0 {
		t.Errorf("expected silence when muted, got %v", buf[0])
	}
}

func TestAdvancedTimingUsesReportedQueue(t *testing.T) {
	r := New(&recordingEngine{}, WithMIDILatency(1), WithAdvancedTiming(true))
	t0 := openManual(t, r)

	buf := make([]float32, 480*2)
	r.Render(buf, 480, t0+10*ms, 0)
	r.Render(buf, 480, t0+20*ms, 240)

	// Second update anchors at rendered - reported queue
	if got := r.clock.Load().TimeInfo().LastPlayedFrames; got != 480-240 {
		t.Errorf("expected anchor at 240 played frames, got %d", got)
	}
}

func TestConcurrentSessionsWithTimerOutput(t *testing.T) {
	engine := &recordingEngine{}
	r := New(engine, WithAudioLatency(10))
	if err := r.Open(output.NewTimer(), stereo48k); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	const producers = 3
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		s, _ := r.NewSession("producer")
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.PushShortMessage(mclock.MonotonicNanos(), uint32(p)<<24|uint32(i)<<8|0x90)
				s.Flush()
				if i%50 == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}(p)
	}
	wg.Wait()

	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	played := engine.played()
	if len(played) != producers*perProducer {
		t.Fatalf("expected %d events, got %d", producers*perProducer, len(played))
	}

	// Each producer's events arrive in push order
	next := make([]uint32, producers)
	for _, ev := range played {
		p := ev.msg >> 24
		i := ev.msg >> 8 & 0xFFFF
		if i != next[p] {
			t.Fatalf("producer %d: expected event %d, got %d", p, next[p], i)
		}
		next[p]++
	}
}

func TestPushMessageDispatch(t *testing.T) {
	engine := &recordingEngine{}
	r := New(engine, WithMIDILatency(1))
	t0 := openManual(t, r)
	s, _ := r.NewSession("raw")

	if !s.PushMessage(t0, []byte{0x90, 60, 100}) {
		t.Error("expected short message to be queued")
	}
	if !s.PushMessage(t0, []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}) {
		t.Error("expected sysex to be queued")
	}
	if s.PushMessage(t0, []byte{60}) {
		t.Error("expected bare data byte to be rejected")
	}
	s.Flush()

	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	played := engine.played()
	if len(played) != 2 || played[0].msg != 0x643C90 || !played[1].sysex {
		t.Errorf("unexpected played events %+v", played)
	}
	if st := s.Stats(); st.Received != 2 || st.Dropped != 1 {
		t.Errorf("expected 2 received 1 dropped, got %+v", st)
	}
}

func TestSessionStatsChannelsAndSync(t *testing.T) {
	r := New(&recordingEngine{}, WithMIDILatency(1))
	t0 := openManual(t, r)
	s, _ := r.NewSession("keys")

	// Note on channel 1, control change channel 10, clock tick has no channel
	s.PushMessage(t0, []byte{0x90, 60, 100})
	s.PushMessage(t0, []byte{0xB9, 7, 90})
	s.PushMessage(t0, []byte{0xF8})

	st := r.Stats().Sessions[0]
	if st.Channels != 1<<0|1<<9 {
		t.Errorf("expected channels 0 and 9, got %016b", st.Channels)
	}
	if st.Synced {
		t.Error("expected no sync state before the producer reports one")
	}

	cs := mclock.NewClockSync()
	cs.Sync(t0, 5*ms)
	cs.Sync(t0+10*ms, 15*ms)
	s.ReportSync(cs.GetStats())

	st = r.Stats().Sessions[0]
	if !st.Synced || st.Sync.Quality != mclock.QualityGood || st.Sync.Samples != 1 {
		t.Errorf("expected reported sync state, got %+v", st)
	}
}
