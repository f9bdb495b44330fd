// ABOUTME: Ordered merge of many event buffers into one delivery sequence
// ABOUTME: Picks the earliest pending event across sessions, ties go to list order
package router

import (
	"math"

	"github.com/Resonate-Protocol/resonate-midi/pkg/eventbuf"
)

// Unbounded drains every readable event
const Unbounded uint64 = math.MaxUint64

// Merger interleaves independently buffered streams by timestamp. Render
// thread only; scratch space is reused between passes.
type Merger struct {
	active []*eventbuf.Buffer
}

// NewMerger creates a merger with room for capacity buffers
func NewMerger(capacity int) *Merger {
	return &Merger{active: make([]*eventbuf.Buffer, 0, capacity)}
}

// Merge calls deliver once per event with a timestamp before bound, in
// timestamp order. Events from buffers earlier in the list win ties. The
// buffer is positioned on the event while deliver runs. Returns the number
// of events delivered.
func (m *Merger) Merge(buffers []*eventbuf.Buffer, bound uint64, deliver func(*eventbuf.Buffer)) int {
	active := m.active[:0]
	for _, b := range buffers {
		if b.RetrieveEvents() && b.EventTimestamp() < bound {
			active = append(active, b)
		}
	}

	delivered := 0
	for len(active) > 0 {
		idx := 0
		earliest := active[0].EventTimestamp()
		for i := 1; i < len(active); i++ {
			if ts := active[i].EventTimestamp(); ts < earliest {
				idx, earliest = i, ts
			}
		}

		b := active[idx]
		deliver(b)
		delivered++

		if !b.NextEvent() || b.EventTimestamp() >= bound {
			// Keep list order for tie-breaking
			copy(active[idx:], active[idx+1:])
			active[len(active)-1] = nil
			active = active[:len(active)-1]
		}
	}

	m.active = active
	return delivered
}
