// ABOUTME: Sample-accurate event scheduling in front of an engine
// ABOUTME: Splits each render pass at event frames so events land on their exact frame
package synth

// DefaultMaxEvents is the pending event capacity reserved up front
const DefaultMaxEvents = 1024

// defaultArenaSize is the sysex arena reserved up front
const defaultArenaSize = 64 * 1024

type event struct {
	frame uint64
	short uint32
	off   int
	n     int
	sysex bool
}

// Scheduler queues events stamped with absolute frame indices and applies
// each one at its frame during Render. Render thread only.
type Scheduler struct {
	engine   Engine
	rendered uint64

	events []event
	next   int
	arena  []byte

	left  []float32
	right []float32
}

// NewScheduler wraps an engine
func NewScheduler(engine Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		events: make([]event, 0, DefaultMaxEvents),
		arena:  make([]byte, 0, defaultArenaSize),
	}
}

// PlayShortMessage schedules a packed short message at frame. Frames already
// rendered play at the start of the next pass.
func (s *Scheduler) PlayShortMessage(msg uint32, frame uint64) {
	s.events = append(s.events, event{frame: frame, short: msg})
}

// PlaySysex schedules a sysex message at frame. The data is copied.
func (s *Scheduler) PlaySysex(data []byte, frame uint64) {
	off := len(s.arena)
	s.arena = append(s.arena, data...)
	s.events = append(s.events, event{frame: frame, off: off, n: len(data), sysex: true})
}

// pending returns the number of scheduled events not yet applied
func (s *Scheduler) pending() int {
	return len(s.events) - s.next
}

// Render renders frames into out as interleaved samples with the given
// channel count, applying due events between sub-blocks.
func (s *Scheduler) Render(out []float32, frames, channels int) {
	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}

	pos := 0
	for pos < frames {
		now := s.rendered + uint64(pos)
		for s.next < len(s.events) && s.events[s.next].frame <= now {
			s.apply(s.events[s.next])
			s.next++
		}

		chunk := frames - pos
		if s.next < len(s.events) {
			if until := s.events[s.next].frame - now; until < uint64(chunk) {
				chunk = int(until)
			}
		}

		left, right := s.left[:chunk], s.right[:chunk]
		s.engine.Render(left, right)
		interleave(out[pos*channels:], left, right, channels)
		pos += chunk
	}
	s.rendered += uint64(frames)

	if s.next == len(s.events) {
		s.events = s.events[:0]
		s.arena = s.arena[:0]
		s.next = 0
	}
}

// Flush applies every pending event immediately
func (s *Scheduler) Flush() {
	for ; s.next < len(s.events); s.next++ {
		s.apply(s.events[s.next])
	}
	s.events = s.events[:0]
	s.arena = s.arena[:0]
	s.next = 0
}

func (s *Scheduler) apply(ev event) {
	if ev.sysex {
		s.engine.Sysex(s.arena[ev.off : ev.off+ev.n])
		return
	}
	s.engine.ShortMessage(ev.short)
}

func interleave(out, left, right []float32, channels int) {
	switch channels {
	case 1:
		for i := range left {
			out[i] = (left[i] + right[i]) * 0.5
		}
	case 2:
		for i := range left {
			out[2*i] = left[i]
			out[2*i+1] = right[i]
		}
	default:
		for i := range left {
			frame := out[i*channels : (i+1)*channels]
			frame[0] = left[i]
			frame[1] = right[i]
			clear(frame[2:])
		}
	}
}
