// ABOUTME: Tests for the output ring buffer
// ABOUTME: Verifies partial writes, wraparound, underrun padding and close
package output

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBufferPartialWrite(t *testing.T) {
	rb := NewRingBuffer(8)

	if rb.Capacity() != 8 {
		t.Fatalf("expected capacity 8, got %d", rb.Capacity())
	}

	n := rb.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if n != 8 {
		t.Fatalf("expected 8 bytes accepted, got %d", n)
	}
	if rb.Free() != 0 {
		t.Errorf("expected full buffer, %d free", rb.Free())
	}
	if n := rb.Write([]byte{11}); n != 0 {
		t.Errorf("expected full buffer to accept 0 bytes, got %d", n)
	}
	if rb.Capacity() != 8 {
		t.Errorf("capacity changed to %d after filling", rb.Capacity())
	}
}

func TestRingBufferWraparound(t *testing.T) {
	rb := NewRingBuffer(6)
	rb.Write([]byte{1, 2, 3, 4})

	out := make([]byte, 3)
	if n := rb.ReadAvailable(out); n != 3 {
		t.Fatalf("expected 3 bytes, got %d", n)
	}

	if n := rb.Write([]byte{5, 6, 7, 8, 9}); n != 5 {
		t.Fatalf("expected 5 bytes accepted after wrap, got %d", n)
	}

	all := make([]byte, 6)
	if n := rb.ReadAvailable(all); n != 6 {
		t.Fatalf("expected 6 bytes, got %d", n)
	}
	if !bytes.Equal(all, []byte{4, 5, 6, 7, 8, 9}) {
		t.Errorf("unexpected order: %v", all)
	}
	if rb.Consumed() != 9 {
		t.Errorf("expected 9 consumed bytes, got %d", rb.Consumed())
	}
}

func TestRingBufferReadPadsSilence(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte{7, 7})

	out := []byte{9, 9, 9, 9}
	n, err := rb.Read(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected full read of 4, got %d", n)
	}
	if !bytes.Equal(out, []byte{7, 7, 0, 0}) {
		t.Errorf("expected zero padding, got %v", out)
	}
	if rb.Consumed() != 2 {
		t.Errorf("padding must not count as consumed, got %d", rb.Consumed())
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte{1, 2, 3})
	rb.Clear()

	if rb.Buffered() != 0 {
		t.Errorf("expected empty buffer after clear, got %d", rb.Buffered())
	}
	if rb.Free() != 4 {
		t.Errorf("expected 4 free after clear, got %d", rb.Free())
	}
}

func TestRingBufferClose(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte{1})
	rb.Close()

	if n := rb.Write([]byte{2}); n != 0 {
		t.Errorf("expected closed buffer to reject writes, accepted %d", n)
	}

	out := make([]byte, 2)
	if n, err := rb.Read(out); err != nil || n != 2 {
		t.Fatalf("expected buffered byte to drain, got n=%d err=%v", n, err)
	}
	if _, err := rb.Read(out); err != io.EOF {
		t.Errorf("expected io.EOF after drain, got %v", err)
	}
}
