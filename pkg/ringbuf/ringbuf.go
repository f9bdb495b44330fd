// ABOUTME: Lock-free single-producer single-consumer byte ring
// ABOUTME: Hands out contiguous spans so records never straddle the physical end
package ringbuf

import "sync/atomic"

// Align is the granularity every size handed to the ring is rounded to.
const Align = 8

// RingBuffer transports raw bytes between exactly one producer and one
// consumer. One byte is permanently reserved so that readPos == writePos
// always means empty.
//
// Thread assignment:
//   - WritePointer + AdvanceWritePointer: producer only
//   - ReadPointer + AdvanceReadPointer: consumer only
type RingBuffer struct {
	writePos atomic.Uint32
	_pad1    [60]byte
	readPos  atomic.Uint32
	_pad2    [60]byte

	buf []byte
}

// New creates a ring of at least size bytes, rounded up to Align.
func New(size int) *RingBuffer {
	if size < 2*Align {
		size = 2 * Align
	}
	size = AlignUp(size)
	return &RingBuffer{buf: make([]byte, size)}
}

// AlignUp rounds n up to the next multiple of Align.
func AlignUp(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}

// Size returns the physical capacity in bytes.
func (rb *RingBuffer) Size() int {
	return len(rb.buf)
}

// WritePointer returns the free span starting at the write cursor.
// contiguous is false when more free space exists at the physical start;
// the producer must then pad to the end and wrap before it can use it.
func (rb *RingBuffer) WritePointer() (free []byte, contiguous bool) {
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	size := uint32(len(rb.buf))

	if r <= w {
		end := size
		if r == 0 {
			// Writing the last byte would make the ring look empty.
			end--
		}
		return rb.buf[w:end], r == 0
	}
	return rb.buf[w : r-1], true
}

// AdvanceWritePointer commits n bytes written into the span returned by
// WritePointer. The store publishes them to the consumer.
func (rb *RingBuffer) AdvanceWritePointer(n int) {
	w := rb.writePos.Load() + uint32(n)
	if w >= uint32(len(rb.buf)) {
		w -= uint32(len(rb.buf))
	}
	rb.writePos.Store(w)
}

// ReadPointer returns the contiguous readable span at the read cursor.
func (rb *RingBuffer) ReadPointer() []byte {
	r := rb.readPos.Load()
	w := rb.writePos.Load()

	if r <= w {
		return rb.buf[r:w]
	}
	return rb.buf[r:]
}

// AdvanceReadPointer releases n consumed bytes back to the producer.
func (rb *RingBuffer) AdvanceReadPointer(n int) {
	r := rb.readPos.Load() + uint32(n)
	if r >= uint32(len(rb.buf)) {
		r -= uint32(len(rb.buf))
	}
	rb.readPos.Store(r)
}

// AtPhysicalEnd reports whether span (obtained from ReadPointer) runs up to
// the physical end of the ring.
func (rb *RingBuffer) AtPhysicalEnd(span []byte) bool {
	return int(rb.readPos.Load())+len(span) == len(rb.buf)
}

// Empty reports whether nothing is published. Safe from either side.
func (rb *RingBuffer) Empty() bool {
	return rb.readPos.Load() == rb.writePos.Load()
}
