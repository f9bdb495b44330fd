// ABOUTME: Per-session timestamped MIDI event queue on top of the SPSC ring
// ABOUTME: Encodes short messages and sysex blobs as aligned records with wrap padding
package eventbuf

import (
	"encoding/binary"

	"github.com/Resonate-Protocol/resonate-midi/pkg/ringbuf"
)

// Record layout (little endian, every record starts 8-byte aligned):
//
//	offset  size  field
//	0       8     frame timestamp
//	8       4     kind (KindPad, KindShort, KindSysex)
//	12      4     packed short message, or sysex payload length
//	16      n     sysex payload, n rounded up to ringbuf.Align
//
// A pad record, or any tail shorter than a header at the physical end of the
// ring, means the rest of the ring up to its physical end is unused and the
// stream continues at offset 0.
const HeaderSize = 16

// Kind tags a record.
type Kind uint32

const (
	KindPad Kind = iota
	KindShort
	KindSysex
)

// DefaultSize is the ring size used when a session does not ask for one.
const DefaultSize = 32768

// Buffer lets one producer thread enqueue timestamped events and the render
// thread dequeue them in order.
type Buffer struct {
	rb *ringbuf.RingBuffer

	// producer side
	pending int

	// consumer side
	span []byte
	off  int
}

// New creates an event buffer backed by a ring of at least size bytes.
func New(size int) *Buffer {
	return &Buffer{rb: ringbuf.New(size)}
}

// Capacity returns the size of the backing ring in bytes.
func (b *Buffer) Capacity() int {
	return b.rb.Size()
}

// RecordSize returns the encoded size of a sysex of n bytes.
func RecordSize(n int) int {
	return HeaderSize + ringbuf.AlignUp(n)
}

// PushShortMessage enqueues a packed short message. It returns false, with
// nothing written, when there is no room. Call Flush to publish.
func (b *Buffer) PushShortMessage(timestamp uint64, data uint32) bool {
	rec := b.reserve(HeaderSize)
	if rec == nil {
		return false
	}
	putHeader(rec, timestamp, KindShort, data)
	b.pending += HeaderSize
	return true
}

// PushSysexMessage enqueues a sysex payload. Same contract as
// PushShortMessage. Payloads that can never fit are rejected permanently.
func (b *Buffer) PushSysexMessage(timestamp uint64, data []byte) bool {
	size := RecordSize(len(data))
	rec := b.reserve(size)
	if rec == nil {
		return false
	}
	putHeader(rec, timestamp, KindSysex, uint32(len(data)))
	copy(rec[HeaderSize:], data)
	b.pending += size
	return true
}

// Flush publishes every push made since the last flush.
func (b *Buffer) Flush() {
	if b.pending == 0 {
		return
	}
	b.rb.AdvanceWritePointer(b.pending)
	b.pending = 0
}

// reserve finds n contiguous free bytes after the pending records, padding
// and wrapping when the tail of the ring is too short. Returns nil if the
// record does not fit.
func (b *Buffer) reserve(n int) []byte {
	// Keep one aligned slot reserved; anything larger can never be stored.
	if n > b.rb.Size()-ringbuf.Align {
		return nil
	}

	free, contiguous := b.rb.WritePointer()
	free = free[b.pending:]
	if len(free) >= n {
		return free[:n]
	}
	if contiguous {
		return nil
	}

	// Tail too short: publish what we have, pad to the physical end, wrap.
	b.Flush()
	free, contiguous = b.rb.WritePointer()
	if !contiguous && len(free) < n {
		if len(free) >= HeaderSize {
			putHeader(free, 0, KindPad, 0)
		}
		b.rb.AdvanceWritePointer(len(free))
		free, _ = b.rb.WritePointer()
	}
	if len(free) >= n {
		return free[:n]
	}
	return nil
}

func putHeader(rec []byte, timestamp uint64, kind Kind, value uint32) {
	binary.LittleEndian.PutUint64(rec[0:8], timestamp)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(kind))
	binary.LittleEndian.PutUint32(rec[12:16], value)
}

// RetrieveEvents pulls the next readable span and positions the cursor on
// its first event. Padding is consumed transparently. Returns false when no
// event is available.
func (b *Buffer) RetrieveEvents() bool {
	// Release events already consumed from a partially processed span.
	if b.off > 0 {
		b.rb.AdvanceReadPointer(b.off)
		b.off = 0
	}
	for {
		b.span = b.rb.ReadPointer()
		b.off = 0
		if len(b.span) == 0 {
			return false
		}
		if b.atPadding() {
			if !b.rb.AtPhysicalEnd(b.span) {
				// Records are published whole, so this cannot be a tail.
				return false
			}
			b.rb.AdvanceReadPointer(len(b.span))
			continue
		}
		return true
	}
}

func (b *Buffer) atPadding() bool {
	rest := b.span[b.off:]
	return len(rest) < HeaderSize || Kind(binary.LittleEndian.Uint32(rest[8:12])) == KindPad
}

// EventTimestamp returns the frame timestamp of the current event.
func (b *Buffer) EventTimestamp() uint64 {
	return binary.LittleEndian.Uint64(b.span[b.off : b.off+8])
}

// EventKind returns the kind of the current event.
func (b *Buffer) EventKind() Kind {
	return Kind(binary.LittleEndian.Uint32(b.span[b.off+8 : b.off+12]))
}

// ShortMessage returns the packed short message of the current event.
func (b *Buffer) ShortMessage() uint32 {
	return binary.LittleEndian.Uint32(b.span[b.off+12 : b.off+16])
}

// Sysex returns the payload of the current sysex event. The slice aliases
// ring memory and is only valid until NextEvent.
func (b *Buffer) Sysex() []byte {
	n := int(binary.LittleEndian.Uint32(b.span[b.off+12 : b.off+16]))
	start := b.off + HeaderSize
	return b.span[start : start+n]
}

func (b *Buffer) eventSize() int {
	if b.EventKind() == KindSysex {
		return RecordSize(int(binary.LittleEndian.Uint32(b.span[b.off+12 : b.off+16])))
	}
	return HeaderSize
}

// NextEvent advances past the current event and returns whether another one
// is available, retrieving the next span when this one is exhausted.
func (b *Buffer) NextEvent() bool {
	b.off += b.eventSize()
	if b.off < len(b.span) && !b.atPadding() {
		return true
	}
	b.rb.AdvanceReadPointer(len(b.span))
	b.span = nil
	b.off = 0
	return b.RetrieveEvents()
}

// HasEvent reports whether the cursor is positioned on an event.
func (b *Buffer) HasEvent() bool {
	return b.off < len(b.span) && !b.atPadding()
}

// DiscardEvents drops everything currently readable.
func (b *Buffer) DiscardEvents() {
	for {
		span := b.rb.ReadPointer()
		if len(span) == 0 {
			break
		}
		b.rb.AdvanceReadPointer(len(span))
	}
	b.span = nil
	b.off = 0
}
