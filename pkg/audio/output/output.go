// ABOUTME: Audio output capability interfaces
// ABOUTME: Common Device/Stream contract for audio playback backends
package output

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
)

// State is the initialization state of a stream handle
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReleased:
		return "released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a device result code. Negative values are errors.
type Status int

const (
	StatusSuccess          Status = 0
	StatusError            Status = -1
	StatusBadValue         Status = -2
	StatusInvalidOperation Status = -3
	StatusDeadObject       Status = -6
)

// Error implements error so failing codes can travel through error returns
func (s Status) Error() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "device error"
	case StatusBadValue:
		return "bad value"
	case StatusInvalidOperation:
		return "invalid operation"
	case StatusDeadObject:
		return "dead object"
	}
	return fmt.Sprintf("device status %d", int(s))
}

// Timestamp pairs a playback frame position with the device time at which
// that frame was presented
type Timestamp struct {
	FramePosition uint64
	NanoTime      int64 // nanoseconds on the Nanotime clock
}

// Device opens output streams
type Device interface {
	// Name identifies the backend
	Name() string

	// MinBufferSize returns the smallest viable buffer in bytes for the format
	MinBufferSize(format audio.Format) (int, error)

	// Open creates a stream with a buffer of bufferBytes. The returned
	// stream may report StateUninitialized when the device rejected the
	// configuration without failing the call.
	Open(format audio.Format, bufferBytes int) (Stream, error)
}

// Stream is an open output queue of fixed format and buffer capacity
type Stream interface {
	// State reports whether the handle is usable
	State() State

	// Write queues PCM bytes without blocking and returns the bytes accepted
	Write(p []byte) (int, error)

	// WriteFloats queues float samples without blocking and returns the
	// samples accepted
	WriteFloats(p []float32) (int, error)

	Play() error
	Pause() error

	// Flush discards queued data that has not been played
	Flush() error

	// SetVolume sets the gain (0.0-1.0)
	SetVolume(gain float32) Status

	// Timestamp returns the latest presentation timestamp. ok is false while
	// the device has no valid sample yet.
	Timestamp() (ts Timestamp, ok bool)

	// Release frees the device resources
	Release() error
}

var epoch = time.Now()

// Nanotime returns nanoseconds elapsed on the process monotonic clock
func Nanotime() int64 {
	return int64(time.Since(epoch))
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Device{}
)

// Register makes a backend available to New
func Register(name string, factory func() Device) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates the named backend
func New(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown output device %q (available: %v)", name, Backends())
	}
	return factory(), nil
}

// Backends lists registered backend names
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
