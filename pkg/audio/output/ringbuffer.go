// ABOUTME: Byte ring buffer shared by pull-model backends
// ABOUTME: Non-blocking partial-accept writes, zero-filling reads
package output

import (
	"io"
	"sync"
)

// RingBuffer provides a thread-safe circular buffer of PCM bytes. The writer
// never blocks: Write accepts what fits. The reader (the device callback)
// never starves: Read zero-fills whatever the buffer cannot supply.
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	count    int    // Number of bytes currently in buffer
	consumed uint64 // Total real bytes handed to the reader
	closed   bool
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with given capacity (in bytes)
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, capacity),
	}
}

// Write adds bytes to the ring buffer and returns how many were accepted
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return 0
	}

	written := 0
	for written < len(p) && rb.count < len(rb.buffer) {
		end := rb.readPos
		if rb.writePos >= rb.readPos {
			end = len(rb.buffer)
		}
		n := copy(rb.buffer[rb.writePos:end], p[written:])
		rb.writePos = (rb.writePos + n) % len(rb.buffer)
		rb.count += n
		written += n
	}
	return written
}

// Read implements io.Reader for the device side. It always fills p,
// padding with silence on underrun, until the buffer is closed.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	n := rb.ReadAvailable(p)

	rb.mu.Lock()
	closed := rb.closed
	rb.mu.Unlock()
	if closed && n == 0 {
		return 0, io.EOF
	}

	// Zero-fill remaining if underrun
	clear(p[n:])
	return len(p), nil
}

// ReadAvailable copies up to len(p) buffered bytes and returns the count
func (rb *RingBuffer) ReadAvailable(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(p) && rb.count > 0 {
		end := rb.writePos
		if rb.readPos >= rb.writePos {
			end = len(rb.buffer)
		}
		n := copy(p[read:], rb.buffer[rb.readPos:end])
		rb.readPos = (rb.readPos + n) % len(rb.buffer)
		rb.count -= n
		read += n
	}
	rb.consumed += uint64(read)
	return read
}

// Buffered returns the number of bytes waiting to be read
func (rb *RingBuffer) Buffered() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of bytes that can be written without loss
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer) - rb.count
}

// Capacity returns the buffer size in bytes
func (rb *RingBuffer) Capacity() int {
	return len(rb.buffer)
}

// Consumed returns the total bytes of real (non-padding) data read so far
func (rb *RingBuffer) Consumed() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.consumed
}

// Clear drops all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
}

// Close makes further writes fail and reads return io.EOF once drained
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
}
