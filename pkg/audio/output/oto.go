// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams PCM from a non-blocking ring buffer into an oto player
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// otoMinBufferMs is the smallest buffer the oto backend reports as viable
const otoMinBufferMs = 20

// oto allows a single context per process; every Oto device shares it
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

func init() {
	Register("oto", func() Device { return NewOto() })
}

// Oto is a Device backed by the oto library
type Oto struct {
	readyTimeout time.Duration
}

// NewOto creates a new Oto device
func NewOto() *Oto {
	return &Oto{readyTimeout: 5 * time.Second}
}

func (o *Oto) Name() string { return "oto" }

// MinBufferSize returns otoMinBufferMs worth of frames in bytes
func (o *Oto) MinBufferSize(format audio.Format) (int, error) {
	if _, err := otoSampleFormat(format.SampleType); err != nil {
		return 0, err
	}
	if err := format.Validate(); err != nil {
		return 0, err
	}
	frames := format.SampleRate * otoMinBufferMs / 1000
	return format.FramesToBytes(frames), nil
}

// Open creates a player reading from a ring buffer of bufferBytes
func (o *Oto) Open(format audio.Format, bufferBytes int) (Stream, error) {
	if bufferBytes <= 0 {
		return nil, StatusBadValue
	}
	ctx, err := o.context(format, bufferBytes)
	if err != nil {
		return nil, err
	}

	ring := NewRingBuffer(bufferBytes)
	player := ctx.NewPlayer(ring)
	player.SetBufferSize(bufferBytes)

	return &otoStream{
		player: player,
		ring:   ring,
		format: format,
		state:  StateInitialized,
	}, nil
}

// context returns the process-wide oto context, creating it on first use
func (o *Oto) context(format audio.Format, bufferBytes int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		// oto cannot be reinitialized with a different format
		if otoFormat != format {
			return nil, fmt.Errorf("oto context already running as %v, cannot open %v", otoFormat, format)
		}
		return otoCtx, nil
	}

	sampleFormat, err := otoSampleFormat(format.SampleType)
	if err != nil {
		return nil, err
	}

	frames := format.BytesToFrames(bufferBytes)
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       sampleFormat,
		BufferSize:   time.Duration(frames) * time.Second / time.Duration(format.SampleRate),
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	select {
	case <-readyChan:
	case <-time.After(o.readyTimeout):
		return nil, fmt.Errorf("oto context initialization timeout after %v", o.readyTimeout)
	}

	otoCtx = ctx
	otoFormat = format
	log.Debug("Oto context initialized", "format", format, "buffer", op.BufferSize)
	return otoCtx, nil
}

func otoSampleFormat(t audio.SampleType) (oto.Format, error) {
	switch t {
	case audio.SampleTypeInt16:
		return oto.FormatSignedInt16LE, nil
	case audio.SampleTypeFloat32:
		return oto.FormatFloat32LE, nil
	case audio.SampleTypeUint8:
		return oto.FormatUnsignedInt8, nil
	}
	return 0, fmt.Errorf("unsupported sample type for oto: %v", t)
}

// otoStream is a Stream over one oto player
type otoStream struct {
	player  *oto.Player
	ring    *RingBuffer
	format  audio.Format
	state   State
	scratch []byte
}

func (s *otoStream) State() State { return s.state }

// Write accepts whole frames up to the free space in the ring
func (s *otoStream) Write(p []byte) (int, error) {
	if s.state != StateInitialized {
		return 0, StatusDeadObject
	}
	if s.format.SampleType.IsFloat() {
		return 0, StatusInvalidOperation
	}

	bpf := s.format.BytesPerFrame()
	free := s.ring.Free()
	free -= free % bpf
	if len(p) > free {
		p = p[:free]
	}
	p = p[:len(p)-len(p)%bpf]
	return s.ring.Write(p), nil
}

// WriteFloats accepts whole frames of float samples
func (s *otoStream) WriteFloats(p []float32) (int, error) {
	if s.state != StateInitialized {
		return 0, StatusDeadObject
	}
	if !s.format.SampleType.IsFloat() {
		return 0, StatusInvalidOperation
	}

	channels := s.format.Channels
	room := s.ring.Free() / 4
	room -= room % channels
	n := len(p) - len(p)%channels
	if n > room {
		n = room
	}

	if cap(s.scratch) < n*4 {
		s.scratch = make([]byte, n*4)
	}
	buf := s.scratch[:n*4]
	audio.EncodeFloat32LE(buf, p[:n])
	return s.ring.Write(buf) / 4, nil
}

func (s *otoStream) Play() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	s.player.Play()
	return nil
}

func (s *otoStream) Pause() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	s.player.Pause()
	return nil
}

func (s *otoStream) Flush() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	s.ring.Clear()
	return nil
}

func (s *otoStream) SetVolume(gain float32) Status {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	if gain != gain { // NaN
		return StatusBadValue
	}
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	s.player.SetVolume(float64(gain))
	return StatusSuccess
}

// Timestamp estimates the presented frame as real bytes pulled from the ring
// minus bytes still queued inside the player. Silence padding queued during
// an underrun makes this estimate jitter backwards occasionally.
func (s *otoStream) Timestamp() (Timestamp, bool) {
	if s.state != StateInitialized {
		return Timestamp{}, false
	}

	played := int64(s.ring.Consumed()) - int64(s.player.BufferedSize())
	if played <= 0 {
		return Timestamp{}, false
	}
	return Timestamp{
		FramePosition: uint64(played) / uint64(s.format.BytesPerFrame()),
		NanoTime:      Nanotime(),
	}, true
}

func (s *otoStream) Release() error {
	if s.state == StateReleased {
		return nil
	}
	s.state = StateReleased
	s.ring.Close()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("failed to close oto player: %w", err)
	}
	return nil
}
