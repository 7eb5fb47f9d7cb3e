// ABOUTME: Headless audio output implementation
// ABOUTME: Consumes queued PCM at the nominal sample rate without hardware
package output

import (
	"time"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
)

const defaultHeadlessMinFrames = 256

func init() {
	Register("headless", func() Device { return NewHeadless() })
}

// Headless is a Device that plays into nothing. Queued frames are consumed
// in real time according to its clock, which makes it usable in CI and for
// exercising pacing logic without an audio server.
type Headless struct {
	now            func() time.Time
	minFrames      int
	maxBufferBytes int

	originTime time.Time
	originNano int64
}

// HeadlessOption configures a Headless device
type HeadlessOption func(*Headless)

// WithHeadlessClock replaces time.Now
func WithHeadlessClock(now func() time.Time) HeadlessOption {
	return func(h *Headless) { h.now = now }
}

// WithMaxBufferBytes makes Open return uninitialized streams for buffers
// larger than n bytes, like hardware that rejects oversize allocations
func WithMaxBufferBytes(n int) HeadlessOption {
	return func(h *Headless) { h.maxBufferBytes = n }
}

// WithMinBufferFrames sets the minimum buffer reported by MinBufferSize
func WithMinBufferFrames(frames int) HeadlessOption {
	return func(h *Headless) { h.minFrames = frames }
}

// NewHeadless creates a headless device
func NewHeadless(opts ...HeadlessOption) *Headless {
	h := &Headless{
		now:       time.Now,
		minFrames: defaultHeadlessMinFrames,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.originTime = h.now()
	h.originNano = Nanotime()
	return h
}

func (h *Headless) Name() string { return "headless" }

func (h *Headless) MinBufferSize(format audio.Format) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, err
	}
	return format.FramesToBytes(h.minFrames), nil
}

func (h *Headless) Open(format audio.Format, bufferBytes int) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if bufferBytes <= 0 {
		return nil, StatusBadValue
	}
	if h.maxBufferBytes > 0 && bufferBytes > h.maxBufferBytes {
		return &headlessStream{device: h, format: format, state: StateUninitialized}, nil
	}
	s := &headlessStream{
		device: h,
		format: format,
		ring:   NewRingBuffer(bufferBytes),
		state:  StateInitialized,
		volume: 1,
	}
	s.scratch = make([]byte, s.ring.Capacity())
	if format.SampleType.IsFloat() {
		s.floatBuf = make([]byte, s.ring.Capacity())
	}
	return s, nil
}

func (h *Headless) nanotime(t time.Time) int64 {
	return h.originNano + int64(t.Sub(h.originTime))
}

type headlessStream struct {
	device   *Headless
	format   audio.Format
	ring     *RingBuffer
	scratch  []byte
	floatBuf []byte // encoded WriteFloats input
	state    State
	volume   float32

	playing      bool
	lastDrain    time.Time
	framesPlayed uint64
	presentedAt  time.Time
}

func (s *headlessStream) State() State { return s.state }

// drain consumes the frames that would have been presented since the last
// call. Time spent in underrun advances the clock but not the position.
func (s *headlessStream) drain() {
	if !s.playing {
		return
	}
	now := s.device.now()
	rate := int64(s.format.SampleRate)
	frames := int64(now.Sub(s.lastDrain)) * rate / int64(time.Second)
	if frames <= 0 {
		return
	}
	s.lastDrain = s.lastDrain.Add(time.Duration(frames * int64(time.Second) / rate))

	want := s.format.FramesToBytes(int(frames))
	if want > len(s.scratch) {
		want = len(s.scratch)
	}
	n := s.ring.ReadAvailable(s.scratch[:want])
	if n > 0 {
		s.framesPlayed += uint64(s.format.BytesToFrames(n))
		s.presentedAt = now
	}
}

func (s *headlessStream) Write(p []byte) (int, error) {
	if s.state != StateInitialized {
		return 0, StatusDeadObject
	}
	if s.format.SampleType.IsFloat() {
		return 0, StatusInvalidOperation
	}
	s.drain()

	bpf := s.format.BytesPerFrame()
	free := s.ring.Free()
	free -= free % bpf
	if len(p) > free {
		p = p[:free]
	}
	p = p[:len(p)-len(p)%bpf]
	return s.ring.Write(p), nil
}

func (s *headlessStream) WriteFloats(p []float32) (int, error) {
	if s.state != StateInitialized {
		return 0, StatusDeadObject
	}
	if !s.format.SampleType.IsFloat() {
		return 0, StatusInvalidOperation
	}
	s.drain()

	channels := s.format.Channels
	room := s.ring.Free() / 4
	room -= room % channels
	n := len(p) - len(p)%channels
	if n > room {
		n = room
	}
	buf := s.floatBuf[:n*4]
	audio.EncodeFloat32LE(buf, p[:n])
	return s.ring.Write(buf) / 4, nil
}

func (s *headlessStream) Play() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	if !s.playing {
		s.playing = true
		s.lastDrain = s.device.now()
	}
	return nil
}

func (s *headlessStream) Pause() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	s.drain()
	s.playing = false
	return nil
}

func (s *headlessStream) Flush() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	s.ring.Clear()
	return nil
}

func (s *headlessStream) SetVolume(gain float32) Status {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	if gain != gain {
		return StatusBadValue
	}
	s.volume = gain
	return StatusSuccess
}

func (s *headlessStream) Timestamp() (Timestamp, bool) {
	if s.state != StateInitialized {
		return Timestamp{}, false
	}
	s.drain()
	if s.framesPlayed == 0 {
		return Timestamp{}, false
	}
	return Timestamp{
		FramePosition: s.framesPlayed,
		NanoTime:      s.device.nanotime(s.presentedAt),
	}, true
}

func (s *headlessStream) Release() error {
	if s.ring != nil {
		s.ring.Close()
	}
	s.state = StateReleased
	s.playing = false
	return nil
}
