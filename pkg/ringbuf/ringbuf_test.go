// ABOUTME: Tests for the SPSC byte ring
// ABOUTME: Tests free/ready accounting, wrap handling, and concurrent round-trip integrity
package ringbuf

import (
	"bytes"
	"runtime"
	"testing"
)

func TestNewRoundsSize(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{0, 16},
		{10, 16},
		{17, 24},
		{64, 64},
	}

	for _, tt := range tests {
		rb := New(tt.requested)
		if rb.Size() != tt.expected {
			t.Errorf("New(%d): expected size %d, got %d", tt.requested, tt.expected, rb.Size())
		}
	}
}

func TestEmptyRing(t *testing.T) {
	rb := New(32)

	if !rb.Empty() {
		t.Error("expected new ring to be empty")
	}
	if ready := rb.ReadPointer(); len(ready) != 0 {
		t.Errorf("expected 0 bytes ready, got %d", len(ready))
	}

	free, contiguous := rb.WritePointer()
	// One byte is reserved to tell full from empty
	if len(free) != 31 {
		t.Errorf("expected 31 bytes free, got %d", len(free))
	}
	if !contiguous {
		t.Error("expected contiguous free space when read cursor is at 0")
	}
}

func TestWriteThenRead(t *testing.T) {
	rb := New(32)

	free, _ := rb.WritePointer()
	copy(free, []byte("hello"))
	rb.AdvanceWritePointer(5)

	ready := rb.ReadPointer()
	if string(ready) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", ready)
	}
	rb.AdvanceReadPointer(len(ready))

	if !rb.Empty() {
		t.Error("expected ring to be empty after consuming everything")
	}
}

func TestNeverReportsMoreThanCommitted(t *testing.T) {
	rb := New(32)

	free, _ := rb.WritePointer()
	copy(free, []byte("abcdefgh"))
	// Written but not committed
	if ready := rb.ReadPointer(); len(ready) != 0 {
		t.Fatalf("expected uncommitted bytes to be invisible, got %d ready", len(ready))
	}

	rb.AdvanceWritePointer(3)
	if ready := rb.ReadPointer(); len(ready) != 3 {
		t.Errorf("expected 3 bytes ready, got %d", len(ready))
	}
}

func TestFullRingReportsNoFreeSpace(t *testing.T) {
	rb := New(16)

	free, _ := rb.WritePointer()
	rb.AdvanceWritePointer(len(free))

	free, _ = rb.WritePointer()
	if len(free) != 0 {
		t.Errorf("expected full ring to report 0 free, got %d", len(free))
	}
	if ready := rb.ReadPointer(); len(ready) != 15 {
		t.Errorf("expected 15 bytes ready, got %d", len(ready))
	}
}

func TestWrapRequiresPadding(t *testing.T) {
	rb := New(32)

	// Fill 24 bytes, consume 16 of them
	rb.AdvanceWritePointer(24)
	rb.AdvanceReadPointer(16)

	free, contiguous := rb.WritePointer()
	if len(free) != 8 {
		t.Fatalf("expected 8 bytes to the physical end, got %d", len(free))
	}
	if contiguous {
		t.Fatal("expected non-contiguous free space once the reader has moved")
	}

	// Pad to the end and wrap
	rb.AdvanceWritePointer(len(free))
	free, contiguous = rb.WritePointer()
	if len(free) != 15 {
		t.Errorf("expected 15 bytes free after wrap, got %d", len(free))
	}
	if !contiguous {
		t.Error("expected contiguous free space after wrap")
	}

	// Reader sees the tail first, then the wrapped data
	ready := rb.ReadPointer()
	if len(ready) != 16 {
		t.Errorf("expected 16-byte tail to be readable, got %d", len(ready))
	}
	if !rb.AtPhysicalEnd(ready) {
		t.Error("expected tail span to end at the physical end")
	}
}

func TestConcurrentRoundTrip(t *testing.T) {
	rb := New(64)
	const total = 100000

	input := make([]byte, total)
	for i := range input {
		input[i] = byte(i * 7)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		written := 0
		for written < total {
			free, _ := rb.WritePointer()
			if len(free) == 0 {
				runtime.Gosched()
				continue
			}
			n := copy(free, input[written:])
			rb.AdvanceWritePointer(n)
			written += n
		}
	}()

	output := make([]byte, 0, total)
	for len(output) < total {
		ready := rb.ReadPointer()
		if len(ready) == 0 {
			runtime.Gosched()
			continue
		}
		output = append(output, ready...)
		rb.AdvanceReadPointer(len(ready))
	}
	<-done

	if !bytes.Equal(input, output) {
		t.Error("bytes read differ from bytes written")
	}
}
