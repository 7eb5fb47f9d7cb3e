// ABOUTME: Audio output bridge over a single device stream
// ABOUTME: Forwards writes and control calls, clamps reported positions
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/trackbridge/internal/observe"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var (
	// ErrUnsupportedChannelCount is returned by New for channel counts other
	// than 1, 2 and 6
	ErrUnsupportedChannelCount = audio.ErrUnsupportedChannelCount

	// ErrNoStream is returned by New when no buffer size could be opened
	ErrNoStream = errors.New("bridge: no output stream could be opened")

	// ErrStreamClosed is returned by every operation after Release
	ErrStreamClosed = errors.New("bridge: stream closed")
)

// Config describes the stream to open
type Config struct {
	Format audio.Format

	// TargetFrames is the buffer depth the caller paces against
	TargetFrames int
}

// Attempt describes one open call made during buffer negotiation
type Attempt struct {
	Size  int
	State output.State
	Err   error
}

// OK reports whether the attempt produced a usable stream
func (a Attempt) OK() bool {
	return a.Err == nil && a.State == output.StateInitialized
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger. The stream id is attached to it.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics records into m instead of the process default
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithClock replaces the clock used for synthesized timestamps
func WithClock(now func() int64) Option {
	return func(b *Bridge) { b.now = now }
}

// WithAttemptHook calls fn after every open attempt
func WithAttemptHook(fn func(Attempt)) Option {
	return func(b *Bridge) { b.onAttempt = fn }
}

// Bridge owns one output stream
type Bridge struct {
	id        uuid.UUID
	device    string
	stream    output.Stream
	format    audio.Format
	layout    audio.ChannelLayout
	logger    *log.Logger
	metrics   *observe.Metrics
	now       func() int64
	onAttempt func(Attempt)

	minBufferBytes   int
	bufferBytes      int
	maxFramePosition uint64
	closed           bool
}

// New opens a stream on dev for cfg, negotiating the buffer size.
//
// Unsupported channel counts fail before the device is touched. When every
// candidate size fails the error wraps ErrNoStream and the last open error.
func New(dev output.Device, cfg Config, opts ...Option) (*Bridge, error) {
	layout, err := audio.LayoutForChannels(cfg.Format.Channels)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		id:     uuid.New(),
		device: dev.Name(),
		format: cfg.Format,
		layout: layout,
		now:    output.Nanotime,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Default().WithPrefix("bridge")
	}
	b.logger = b.logger.With("stream_id", b.id.String())
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}

	minSize, err := dev.MinBufferSize(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("query minimum buffer size: %w", err)
	}
	b.minBufferBytes = minSize
	target := cfg.Format.FramesToBytes(cfg.TargetFrames)

	ctx := context.Background()
	var lastErr error
	size, ok := SearchBufferSize(minSize, target, func(size int) bool {
		stream, err := dev.Open(cfg.Format, size)
		attempt := Attempt{Size: size, Err: err}
		if stream != nil {
			attempt.State = stream.State()
		}
		if b.onAttempt != nil {
			b.onAttempt(attempt)
		}

		switch {
		case err != nil:
			lastErr = err
			b.metrics.RecordOpenAttempt(ctx, b.device, "error")
			b.logger.Debug("Open failed", "buffer_bytes", size, "err", err)
			if stream != nil {
				stream.Release()
			}
			return false
		case attempt.State != output.StateInitialized:
			lastErr = fmt.Errorf("stream %s at %d bytes", attempt.State, size)
			b.metrics.RecordOpenAttempt(ctx, b.device, "uninitialized")
			b.logger.Debug("Stream not initialized", "buffer_bytes", size, "state", attempt.State)
			stream.Release()
			return false
		}

		b.metrics.RecordOpenAttempt(ctx, b.device, "ok")
		b.stream = stream
		return true
	})
	if !ok {
		if lastErr == nil {
			lastErr = fmt.Errorf("minimum buffer size %d", minSize)
		}
		b.logger.Error("Buffer negotiation exhausted", "min_buffer_bytes", minSize, "target_bytes", target)
		return nil, fmt.Errorf("%w: %w", ErrNoStream, lastErr)
	}

	b.bufferBytes = size
	b.metrics.BufferBytes.Record(ctx, int64(size))
	b.metrics.OpenStreams.Add(ctx, 1)
	b.logger.Info("Opened output stream",
		"device", b.device,
		"format", cfg.Format,
		"layout", layout,
		"buffer_bytes", size,
		"min_buffer_bytes", minSize,
		"target_frames", cfg.TargetFrames)

	return b, nil
}

// ID identifies the bridge in logs
func (b *Bridge) ID() uuid.UUID { return b.id }

// Format returns the stream format
func (b *Bridge) Format() audio.Format { return b.format }

// Layout returns the channel layout derived from the channel count
func (b *Bridge) Layout() audio.ChannelLayout { return b.layout }

// BufferSize returns the negotiated buffer size in bytes
func (b *Bridge) BufferSize() int { return b.bufferBytes }

// BufferFrames returns the negotiated buffer size in frames
func (b *Bridge) BufferFrames() int { return b.format.BytesToFrames(b.bufferBytes) }

// MinBufferSize returns the device minimum reported during negotiation
func (b *Bridge) MinBufferSize() int { return b.minBufferBytes }

// Release frees the device stream. Every later call returns ErrStreamClosed.
func (b *Bridge) Release() error {
	if b.closed {
		return ErrStreamClosed
	}
	b.closed = true
	b.metrics.OpenStreams.Add(context.Background(), -1)
	b.logger.Debug("Releasing output stream", "max_frame_position", b.maxFramePosition)

	err := b.stream.Release()
	b.stream = nil
	return err
}

// SetVolume forwards gain to the device and returns its status unchanged
func (b *Bridge) SetVolume(gain float32) (output.Status, error) {
	if b.closed {
		return output.StatusDeadObject, ErrStreamClosed
	}
	return b.stream.SetVolume(gain), nil
}

func (b *Bridge) Play() error {
	if b.closed {
		return ErrStreamClosed
	}
	return b.stream.Play()
}

func (b *Bridge) Pause() error {
	if b.closed {
		return ErrStreamClosed
	}
	return b.stream.Pause()
}

// Flush drops queued data that has not been played
func (b *Bridge) Flush() error {
	if b.closed {
		return ErrStreamClosed
	}
	return b.stream.Flush()
}

// Write queues PCM bytes without blocking and returns how many were
// accepted. Device errors are returned as is.
func (b *Bridge) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrStreamClosed
	}
	n, err := b.stream.Write(p)
	if err != nil {
		b.metrics.WriteErrors.Add(context.Background(), 1)
		return n, err
	}
	b.metrics.RecordWrite(context.Background(), len(p), n, false)
	return n, nil
}

// WriteFloats queues float samples without blocking and returns how many
// samples were accepted. Device errors are returned as is.
func (b *Bridge) WriteFloats(p []float32) (int, error) {
	if b.closed {
		return 0, ErrStreamClosed
	}
	n, err := b.stream.WriteFloats(p)
	if err != nil {
		b.metrics.WriteErrors.Add(context.Background(), 1)
		return n, err
	}
	b.metrics.RecordWrite(context.Background(), len(p), n, true)
	return n, nil
}

// Timestamp returns the playback position. The frame position never
// decreases across calls; while the device has no sample it is synthesized
// as position zero at the current time.
func (b *Bridge) Timestamp() (output.Timestamp, error) {
	if b.closed {
		return output.Timestamp{}, ErrStreamClosed
	}

	ts, ok := b.stream.Timestamp()
	if ok {
		// the device counter is 32 bits wide without a timebase
		ts.FramePosition = uint64(uint32(ts.FramePosition))
	} else {
		ts = output.Timestamp{FramePosition: 0, NanoTime: b.now()}
		b.metrics.TimestampSynthesized.Add(context.Background(), 1)
	}

	if ts.FramePosition < b.maxFramePosition {
		if ok {
			b.metrics.TimestampClamps.Add(context.Background(), 1)
			b.logger.Debug("Clamped frame position", "device", ts.FramePosition, "reported", b.maxFramePosition)
		}
		ts.FramePosition = b.maxFramePosition
	}
	b.maxFramePosition = ts.FramePosition
	return ts, nil
}
