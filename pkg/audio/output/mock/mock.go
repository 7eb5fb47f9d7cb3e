// ABOUTME: Scriptable in-memory output device for tests
// ABOUTME: Records calls and replays configured failures and timestamps
package mock

import (
	"errors"
	"sync"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
)

// ErrOpen is returned by Device.Open for rejected sizes
var ErrOpen = errors.New("mock: open failed")

// Device is a configurable output.Device.
//
// Sizes for which Fail returns true make Open return ErrOpen; sizes for
// which Uninitialized returns true open a stream stuck in
// StateUninitialized. Every Open call is recorded in Attempts.
type Device struct {
	MinSize       int
	MinErr        error
	Fail          func(size int) bool
	Uninitialized func(size int) bool

	// NewStream customises the streams handed out by Open
	NewStream func(format audio.Format, size int) *Stream

	mu       sync.Mutex
	Attempts []int
	Streams  []*Stream
	MinCalls int
}

func (d *Device) Name() string { return "mock" }

func (d *Device) MinBufferSize(audio.Format) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.MinCalls++
	return d.MinSize, d.MinErr
}

func (d *Device) Open(format audio.Format, size int) (output.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Attempts = append(d.Attempts, size)
	if d.Fail != nil && d.Fail(size) {
		return nil, ErrOpen
	}

	var s *Stream
	if d.NewStream != nil {
		s = d.NewStream(format, size)
	} else {
		s = &Stream{}
	}
	s.Format = format
	s.Size = size
	s.St = output.StateInitialized
	if d.Uninitialized != nil && d.Uninitialized(size) {
		s.St = output.StateUninitialized
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Last returns the most recently opened stream
func (d *Device) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// TimestampStep is one scripted answer to Stream.Timestamp
type TimestampStep struct {
	Position uint64
	NanoTime int64
	OK       bool
}

// Stream is a recording output.Stream.
//
// Write accepts at most WriteLimit bytes per call when WriteLimit > 0 and
// returns WriteErr when set. Timestamp replays Timestamps in order, then
// keeps answering with the last entry.
type Stream struct {
	Format audio.Format
	Size   int
	St     output.State

	WriteLimit   int
	WriteErr     error
	VolumeStatus output.Status
	Timestamps   []TimestampStep

	mu       sync.Mutex
	Written  []byte
	Floats   []float32
	Volume   float32
	Calls    []string
	Released bool
	tsIndex  int
}

func (s *Stream) record(call string) {
	s.Calls = append(s.Calls, call)
}

func (s *Stream) State() output.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.St
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("write")

	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	n := len(p)
	if s.WriteLimit > 0 && n > s.WriteLimit {
		n = s.WriteLimit
	}
	s.Written = append(s.Written, p[:n]...)
	return n, nil
}

func (s *Stream) WriteFloats(p []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("write_floats")

	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	n := len(p)
	if s.WriteLimit > 0 && n > s.WriteLimit {
		n = s.WriteLimit
	}
	s.Floats = append(s.Floats, p[:n]...)
	return n, nil
}

func (s *Stream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("play")
	return nil
}

func (s *Stream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("pause")
	return nil
}

func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("flush")
	return nil
}

func (s *Stream) SetVolume(gain float32) output.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("set_volume")
	s.Volume = gain
	return s.VolumeStatus
}

func (s *Stream) Timestamp() (output.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("timestamp")

	if len(s.Timestamps) == 0 {
		return output.Timestamp{}, false
	}
	step := s.Timestamps[s.tsIndex]
	if s.tsIndex < len(s.Timestamps)-1 {
		s.tsIndex++
	}
	if !step.OK {
		return output.Timestamp{}, false
	}
	return output.Timestamp{FramePosition: step.Position, NanoTime: step.NanoTime}, true
}

func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("release")
	s.Released = true
	s.St = output.StateReleased
	return nil
}

// CallLog returns a copy of the recorded calls
func (s *Stream) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

// Push appends timestamp steps while the stream is in use
func (s *Stream) Push(steps ...TimestampStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timestamps = append(s.Timestamps, steps...)
}

// WrittenBytes returns a copy of all accepted bytes
func (s *Stream) WrittenBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.Written...)
}
