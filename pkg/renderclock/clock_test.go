// ABOUTME: Tests for the wall-clock to frame mapping
// ABOUTME: Tests latency derivation, clamping, rate convergence, resets, and snapshot consistency
package renderclock

import (
	"math"
	"sync"
	"testing"
	"time"
)

const ms = int64(time.Millisecond)

func TestAutoLatency(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected int64
		auto     bool
	}{
		{"auto adds margin", Config{SampleRate: 48000, AudioLatencyFrames: 960}, 960 + 480, true},
		{"auto without audio latency", Config{SampleRate: 44100}, 441, true},
		{"fixed", Config{SampleRate: 48000, AudioLatencyFrames: 960, MIDILatencyFrames: 100}, 100, false},
	}

	for _, tt := range tests {
		c := New(tt.cfg, 0)
		if got := c.MIDILatencyFrames(); got != tt.expected {
			t.Errorf("%s: expected latency %d, got %d", tt.name, tt.expected, got)
		}
		if c.IsAutoLatency() != tt.auto {
			t.Errorf("%s: expected auto=%v", tt.name, tt.auto)
		}
	}
}

func TestEstimateProjectsFromOpenTime(t *testing.T) {
	const t0 = 1000 * ms
	c := New(Config{SampleRate: 48000}, t0)

	got := c.EstimateMIDITimestamp(t0 + 10*ms)
	expected := 480 + uint64(c.MIDILatencyFrames())
	if got != expected {
		t.Errorf("expected frame %d, got %d", expected, got)
	}
}

func TestPastReceiptClampsToRendered(t *testing.T) {
	c := New(Config{SampleRate: 48000, MIDILatencyFrames: 96}, 0)
	c.FramesRendered(48000)

	if got := c.EstimateMIDITimestamp(0); got != 48000 {
		t.Errorf("expected clamp to rendered count 48000, got %d", got)
	}
	// Fixed latency never widens
	if got := c.MIDILatencyFrames(); got != 96 {
		t.Errorf("expected latency to stay 96, got %d", got)
	}
}

func TestLateEventWidensAutoLatency(t *testing.T) {
	c := New(Config{SampleRate: 48000, AudioLatencyFrames: 480}, 0)
	c.FramesRendered(4800)

	if got := c.EstimateMIDITimestamp(0); got != 4800 {
		t.Errorf("expected clamp to 4800, got %d", got)
	}
	if got := c.MIDILatencyFrames(); got != 4800 {
		t.Errorf("expected latency widened to 4800, got %d", got)
	}

	// The wider margin now keeps the same receipt time on schedule
	if got := c.EstimateMIDITimestamp(0); got != 4800 {
		t.Errorf("expected 4800 with widened latency, got %d", got)
	}
}

func TestLatencyWideningIsBounded(t *testing.T) {
	c := New(Config{SampleRate: 48000, MaxMIDILatencyFrames: 2000}, 0)
	c.FramesRendered(100000)

	c.EstimateMIDITimestamp(0)
	if got := c.MIDILatencyFrames(); got != 2000 {
		t.Errorf("expected latency capped at 2000, got %d", got)
	}
}

// steady drives the clock with updates every 50ms at the given true rate
func steady(c *Clock, rate float64, from, to int) {
	const queued = 960
	for i := from; i <= to; i++ {
		now := int64(i) * 50 * ms
		played := uint64(rate * float64(i) / 20)
		c.FramesRendered(int(played + queued - c.renderedFrames))
		c.UpdateTimeInfo(now, queued)
	}
}

func TestRateConvergesToTrueRate(t *testing.T) {
	c := New(Config{SampleRate: 48000, MIDILatencyFrames: 480}, 0)
	steady(c, 48100, 1, 1000)

	if got := c.TimeInfo().SampleRate; math.Abs(got-48100) > 1 {
		t.Errorf("expected estimated rate ~48100, got %f", got)
	}
}

func TestJitteredUpdatesStayOnRate(t *testing.T) {
	const us = int64(time.Microsecond)
	tests := []struct {
		name     string
		jitter   func(i int) int64
		maxPPM   float64
		maxSwing int64
	}{
		{"alternating 1ms", func(i int) int64 {
			if i%2 == 1 {
				return ms
			}
			return -ms
		}, 50, 12},
		{"scattered 1ms", func(i int) int64 {
			return (int64(i)*7919%2001 - 1000) * us
		}, 200, 0},
	}

	for _, tt := range tests {
		// Queue less than the latency so estimates are never clamped
		const queued = 240
		c := New(Config{SampleRate: 48000, MIDILatencyFrames: 480}, 0)

		var sum float64
		var n int
		worst := 0.0
		lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
		for i := 1; i <= 1200; i++ {
			now := int64(i) * 50 * ms
			played := uint64(48000 * float64(i) / 20)
			c.FramesRendered(int(played + queued - c.renderedFrames))
			c.UpdateTimeInfo(now+tt.jitter(i), queued)
			if i <= 400 {
				continue
			}

			rate := c.TimeInfo().SampleRate
			sum += rate
			n++
			worst = max(worst, math.Abs(rate-48000)/48000*1e6)

			// Error of an event received 5ms after the true callback instant
			offset := int64(c.EstimateMIDITimestamp(now+5*ms)) - int64(played+240+480)
			lo, hi = min(lo, offset), max(hi, offset)
		}

		if ppm := (sum/float64(n) - 48000) / 48000 * 1e6; math.Abs(ppm) > 3 {
			t.Errorf("%s: expected mean rate within 3ppm, got %.2fppm", tt.name, ppm)
		}
		if worst > tt.maxPPM {
			t.Errorf("%s: expected rate within %.0fppm, got %.1fppm", tt.name, tt.maxPPM, worst)
		}
		if tt.maxSwing > 0 && hi-lo > tt.maxSwing {
			t.Errorf("%s: expected estimate swing under %d frames, got %d", tt.name, tt.maxSwing, hi-lo)
		}
	}
}

func TestRateClampedAroundNominal(t *testing.T) {
	c := New(Config{SampleRate: 48000, MIDILatencyFrames: 480}, 0)
	steady(c, 49000, 1, 200)

	if got := c.TimeInfo().SampleRate; math.Abs(got-48240) > 1e-6 {
		t.Errorf("expected rate clamped at 48240, got %f", got)
	}
}

func TestLargeDiscrepancyHardResets(t *testing.T) {
	c := New(Config{SampleRate: 48000, MIDILatencyFrames: 480}, 0)
	steady(c, 48100, 1, 100)

	// Device position jumps 2000 frames ahead of the extrapolation
	now := int64(101) * 50 * ms
	c.FramesRendered(2405 + 2000)
	c.UpdateTimeInfo(now, 960)

	ti := c.TimeInfo()
	if ti.SampleRate != 48000 {
		t.Errorf("expected nominal rate after hard reset, got %f", ti.SampleRate)
	}
	if ti.LastPlayedNanos != now {
		t.Errorf("expected anchor at %d, got %d", now, ti.LastPlayedNanos)
	}
	if expected := c.RenderedFrames() - 960; ti.LastPlayedFrames != expected {
		t.Errorf("expected anchor frames %d, got %d", expected, ti.LastPlayedFrames)
	}
}

func TestScheduledResetApplies(t *testing.T) {
	c := New(Config{SampleRate: 48000, MIDILatencyFrames: 480}, 0)
	steady(c, 48100, 1, 100)

	c.ScheduleReset()
	steady(c, 48100, 101, 101)
	if got := c.TimeInfo().SampleRate; got != 48000 {
		t.Errorf("expected nominal rate after scheduled reset, got %f", got)
	}
}

func TestUpdateSkippedWithinLatencyWindow(t *testing.T) {
	c := New(Config{SampleRate: 48000, MIDILatencyFrames: 480}, 0)
	steady(c, 48100, 1, 10)

	before := c.TimeInfo()
	c.FramesRendered(100)
	// 5ms is shorter than the 10ms latency window
	c.UpdateTimeInfo(int64(10)*50*ms+5*ms, 960)

	if after := c.TimeInfo(); after != before {
		t.Errorf("expected snapshot unchanged, got %+v (was %+v)", after, before)
	}
}

func TestComputeMIDITimestamp(t *testing.T) {
	c := New(Config{SampleRate: 48000}, 0)
	c.FramesRendered(256)

	if got := c.ComputeMIDITimestamp(10); got != 266 {
		t.Errorf("expected 266, got %d", got)
	}
	if got := c.RenderedFrames(); got != 256 {
		t.Errorf("expected 256 rendered, got %d", got)
	}
}

func TestSnapshotNeverTorn(t *testing.T) {
	var b timeInfoBuffer
	b.store(TimeInfo{SampleRate: 1})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ti := b.load()
				if ti.LastPlayedFrames != uint64(ti.LastPlayedNanos)*2 || ti.SampleRate != float64(ti.LastPlayedNanos)+1 {
					t.Errorf("torn snapshot: %+v", ti)
					return
				}
			}
		}()
	}

	for i := int64(1); i <= 100000; i++ {
		b.store(TimeInfo{LastPlayedNanos: i, LastPlayedFrames: uint64(i) * 2, SampleRate: float64(i) + 1})
	}
	close(stop)
	wg.Wait()
}
