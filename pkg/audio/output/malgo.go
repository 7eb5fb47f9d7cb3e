//go:build malgo

// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Uses miniaudio via malgo with a callback draining a ring buffer
package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// malgoMinPeriodFrames is the smallest period miniaudio is asked for
const malgoMinPeriodFrames = 128

func init() {
	Register("malgo", func() Device { return NewMalgo() })
}

// Malgo is a Device backed by miniaudio
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
}

// NewMalgo creates a new Malgo device
func NewMalgo() *Malgo {
	return &Malgo{}
}

func (m *Malgo) Name() string { return "malgo" }

func (m *Malgo) MinBufferSize(format audio.Format) (int, error) {
	if _, err := malgoFormat(format.SampleType); err != nil {
		return 0, err
	}
	if err := format.Validate(); err != nil {
		return 0, err
	}
	return format.FramesToBytes(malgoMinPeriodFrames), nil
}

// Open initializes a playback device whose period matches bufferBytes.
// Device init failures are returned so the caller can retry smaller.
func (m *Malgo) Open(format audio.Format, bufferBytes int) (Stream, error) {
	sampleFormat, err := malgoFormat(format.SampleType)
	if err != nil {
		return nil, err
	}
	frames := format.BytesToFrames(bufferBytes)
	if frames <= 0 {
		return nil, StatusBadValue
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Create malgo context if needed
	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	s := &malgoStream{
		format: format,
		ring:   NewRingBuffer(bufferBytes),
	}
	if format.SampleType.IsFloat() {
		s.floatBuf = make([]byte, s.ring.Capacity())
	}
	s.gain.Store(math.Float32bits(1))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = sampleFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(frames)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			s.dataCallback(pOutput, frameCount)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	s.device = device
	s.state = StateInitialized
	log.Debug("Malgo device initialized", "format", format, "period_frames", frames)
	return s, nil
}

func malgoFormat(t audio.SampleType) (malgo.FormatType, error) {
	switch t {
	case audio.SampleTypeInt16:
		return malgo.FormatS16, nil
	case audio.SampleTypeFloat32:
		return malgo.FormatF32, nil
	case audio.SampleTypeUint8:
		return malgo.FormatU8, nil
	}
	return 0, fmt.Errorf("unsupported sample type for malgo: %v", t)
}

type malgoStream struct {
	device *malgo.Device
	format audio.Format
	ring   *RingBuffer
	state  State

	floatBuf []byte // encoded WriteFloats input, sized to the ring

	gain         atomic.Uint32 // float32 bits
	framesPlayed atomic.Uint64
	presentedAt  atomic.Int64
}

// dataCallback is called by malgo to fill the audio output buffer
func (s *malgoStream) dataCallback(pOutput []byte, frameCount uint32) {
	want := s.format.FramesToBytes(int(frameCount))
	if want > len(pOutput) {
		want = len(pOutput)
	}
	n := s.ring.ReadAvailable(pOutput[:want])
	clear(pOutput[n:want])

	applyGain(pOutput[:n], s.format.SampleType, math.Float32frombits(s.gain.Load()))

	if frames := s.format.BytesToFrames(n); frames > 0 {
		s.framesPlayed.Add(uint64(frames))
		s.presentedAt.Store(Nanotime())
	}
}

// applyGain scales samples in place
func applyGain(buf []byte, t audio.SampleType, gain float32) {
	if gain == 1 {
		return
	}
	switch t {
	case audio.SampleTypeInt16:
		for i := 0; i+1 < len(buf); i += 2 {
			v := audio.Int16ToFloat32(int16(binary.LittleEndian.Uint16(buf[i:])))
			binary.LittleEndian.PutUint16(buf[i:], uint16(audio.Float32ToInt16(v*gain)))
		}
	case audio.SampleTypeFloat32:
		for i := 0; i+3 < len(buf); i += 4 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
			binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(v*gain))
		}
	case audio.SampleTypeUint8:
		for i := range buf {
			v := audio.Int16ToFloat32(audio.Uint8ToInt16(buf[i]))
			buf[i] = audio.Int16ToUint8(audio.Float32ToInt16(v * gain))
		}
	}
}

func (s *malgoStream) State() State { return s.state }

func (s *malgoStream) Write(p []byte) (int, error) {
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

func (s *malgoStream) WriteFloats(p []float32) (int, error) {
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
	buf := s.floatBuf[:n*4]
	audio.EncodeFloat32LE(buf, p[:n])
	return s.ring.Write(buf) / 4, nil
}

func (s *malgoStream) Play() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	if s.device.IsStarted() {
		return nil
	}
	return s.device.Start()
}

func (s *malgoStream) Pause() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	if !s.device.IsStarted() {
		return nil
	}
	return s.device.Stop()
}

func (s *malgoStream) Flush() error {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	s.ring.Clear()
	return nil
}

func (s *malgoStream) SetVolume(gain float32) Status {
	if s.state != StateInitialized {
		return StatusDeadObject
	}
	if gain != gain {
		return StatusBadValue
	}
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	s.gain.Store(math.Float32bits(gain))
	return StatusSuccess
}

func (s *malgoStream) Timestamp() (Timestamp, bool) {
	if s.state != StateInitialized {
		return Timestamp{}, false
	}
	frames := s.framesPlayed.Load()
	if frames == 0 {
		return Timestamp{}, false
	}
	return Timestamp{FramePosition: frames, NanoTime: s.presentedAt.Load()}, true
}

// Release stops and uninitializes the device
func (s *malgoStream) Release() error {
	if s.state != StateInitialized {
		s.state = StateReleased
		return nil
	}
	s.state = StateReleased
	s.ring.Close()
	if s.device.IsStarted() {
		if err := s.device.Stop(); err != nil {
			log.Warn("Malgo device stop error", "err", err)
		}
	}
	s.device.Uninit()
	return nil
}
