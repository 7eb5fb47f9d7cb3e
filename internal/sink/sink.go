// ABOUTME: Audio sink driving a bridge from a circular frame buffer
// ABOUTME: Polls playback progress and pushes unwritten frames to the device
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackbridge/internal/observe"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/charmbracelet/log"
)

const defaultPollInterval = 10 * time.Millisecond

var (
	// ErrStopped is returned by control calls once Run has returned
	ErrStopped = errors.New("sink: stopped")

	// ErrInvalidRate is returned for negative or NaN playback rates
	ErrInvalidRate = errors.New("sink: invalid playback rate")
)

// Output is the device side of the sink. *bridge.Bridge implements it.
type Output interface {
	Format() audio.Format
	Play() error
	Pause() error
	Flush() error
	SetVolume(gain float32) (output.Status, error)
	Write(p []byte) (int, error)
	WriteFloats(p []float32) (int, error)
	Timestamp() (output.Timestamp, error)
	Release() error
}

// SourceStatus describes the frames a source has ready in the frame buffer
type SourceStatus struct {
	// FramesInBuffer is the number of valid frames starting at OffsetInFrames
	FramesInBuffer int
	// OffsetInFrames is the position of the oldest unconsumed frame
	OffsetInFrames int
	Playing        bool
	EndOfStream    bool
}

// Source fills the frame buffer and is told when frames have been played
type Source interface {
	UpdateSourceStatus() SourceStatus
	ConsumeFrames(frames int)
}

// FrameBuffer is the circular buffer shared with the source. Data holds
// Frames frames in the output format; float formats hold float32 LE.
type FrameBuffer struct {
	Data   []byte
	Frames int
}

// Progress is a snapshot of the sink published after every poll
type Progress struct {
	Timestamp      output.Timestamp
	FramesQueued   int
	FramesConsumed uint64
	Volume         float32
	Paused         bool
	Rate           float64
	EndOfStream    bool
}

// Stats tracks sink activity
type Stats struct {
	Polls          int64
	Writes         int64
	FramesWritten  int64
	FramesConsumed int64
}

// Option configures a Sink
type Option func(*Sink)

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithMetrics records into m instead of the process default
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// WithPollInterval sets how often playback progress is polled
func WithPollInterval(d time.Duration) Option {
	return func(s *Sink) { s.pollInterval = d }
}

// WithProgress calls fn on the sink goroutine after every poll
func WithProgress(fn func(Progress)) Option {
	return func(s *Sink) { s.onProgress = fn }
}

type command struct {
	apply func() error
	reply chan error
}

// Sink owns an Output and feeds it from a Source on its own goroutine.
// Control calls are queued onto that goroutine so the Output only ever
// sees one caller.
type Sink struct {
	out          Output
	src          Source
	buf          FrameBuffer
	format       audio.Format
	logger       *log.Logger
	metrics      *observe.Metrics
	pollInterval time.Duration
	onProgress   func(Progress)

	commands chan command
	done     chan struct{}
	drained  chan struct{}

	mu   sync.Mutex
	rate float64

	// owned by the sink goroutine
	lastPosition   uint64
	writtenFrames  int
	framesConsumed uint64
	volume         float32
	paused         bool
	floats         []float32
	stats          Stats
	drainedOnce    bool
}

// New creates a sink. Run must be called to start playback.
func New(out Output, src Source, buf FrameBuffer, opts ...Option) (*Sink, error) {
	format := out.Format()
	if buf.Frames <= 0 {
		return nil, fmt.Errorf("frame buffer holds %d frames", buf.Frames)
	}
	if need := format.FramesToBytes(buf.Frames); len(buf.Data) < need {
		return nil, fmt.Errorf("frame buffer is %d bytes, need %d", len(buf.Data), need)
	}

	s := &Sink{
		out:          out,
		src:          src,
		buf:          buf,
		format:       format,
		pollInterval: defaultPollInterval,
		commands:     make(chan command),
		done:         make(chan struct{}),
		drained:      make(chan struct{}),
		rate:         1,
		volume:       1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("sink")
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if format.SampleType.IsFloat() {
		s.floats = make([]float32, buf.Frames*format.Channels)
	}
	return s, nil
}

// Drained is closed once the source reports end of stream and every
// frame it supplied has been consumed
func (s *Sink) Drained() <-chan struct{} { return s.drained }

// Done is closed when Run returns
func (s *Sink) Done() <-chan struct{} { return s.done }

// SetPlaybackRate sets the rate. Only 0 and 1 are supported; other
// positive rates play at 1.
func (s *Sink) SetPlaybackRate(rate float64) error {
	if rate < 0 || math.IsNaN(rate) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	if rate > 0 && rate != 1 {
		s.logger.Warn("Only playback rates 0 and 1 are supported, using 1", "rate", rate)
		rate = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

func (s *Sink) playbackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// do runs fn on the sink goroutine and waits for its result
func (s *Sink) do(ctx context.Context, fn func() error) error {
	cmd := command{apply: fn, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetVolume sets the output gain and returns the device status
func (s *Sink) SetVolume(ctx context.Context, gain float32) (output.Status, error) {
	var status output.Status
	err := s.do(ctx, func() error {
		st, err := s.out.SetVolume(gain)
		if err != nil {
			return err
		}
		status = st
		if st == output.StatusSuccess {
			s.volume = gain
		}
		return nil
	})
	return status, err
}

// Pause stops the device and stops feeding it
func (s *Sink) Pause(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.out.Pause(); err != nil {
			return err
		}
		s.paused = true
		return nil
	})
}

// Resume restarts the device after Pause
func (s *Sink) Resume(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.out.Play(); err != nil {
			return err
		}
		s.paused = false
		return nil
	})
}

// Flush drops everything queued on the device. Frames not yet consumed
// are written again from the source on the next poll.
func (s *Sink) Flush(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.out.Flush(); err != nil {
			return err
		}
		s.logger.Debug("Flushed device queue", "dropped_frames", s.writtenFrames)
		s.writtenFrames = 0
		return nil
	})
}

// Stats returns a copy of the counters. Only valid after Run returned.
func (s *Sink) Stats() Stats {
	<-s.done
	return s.stats
}

// Run starts playback and drives the output until ctx is cancelled or the
// output fails. The output is released before Run returns.
func (s *Sink) Run(ctx context.Context) (err error) {
	defer close(s.done)
	defer func() {
		if rerr := s.out.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("release output: %w", rerr)
		}
		s.logger.Debug("Sink stopped",
			"polls", s.stats.Polls,
			"writes", s.stats.Writes,
			"frames_written", s.stats.FramesWritten,
			"frames_consumed", s.stats.FramesConsumed)
	}()

	if err := s.out.Play(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	s.logger.Info("Sink started", "format", s.format, "frame_buffer", s.buf.Frames)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			cmd.reply <- cmd.apply()
		case <-ticker.C:
		}
	}
}

// poll runs one iteration: report consumed frames, then write the next
// contiguous region of unwritten frames
func (s *Sink) poll(ctx context.Context) error {
	s.stats.Polls++

	ts, err := s.out.Timestamp()
	if err != nil {
		return fmt.Errorf("read playback position: %w", err)
	}
	if consumed := int(ts.FramePosition - s.lastPosition); consumed != 0 {
		s.lastPosition = ts.FramePosition
		s.src.ConsumeFrames(consumed)
		s.writtenFrames -= consumed
		if s.writtenFrames < 0 {
			s.writtenFrames = 0
		}
		s.framesConsumed += uint64(consumed)
		s.stats.FramesConsumed += int64(consumed)
		s.metrics.FramesConsumed.Add(ctx, int64(consumed))
	}

	status := s.src.UpdateSourceStatus()
	defer s.publish(ts, status)

	if status.EndOfStream && status.FramesInBuffer == 0 && !s.drainedOnce {
		s.drainedOnce = true
		close(s.drained)
		s.logger.Info("End of stream reached", "frames_consumed", s.framesConsumed)
	}

	if !status.Playing || status.FramesInBuffer == 0 || s.paused || s.playbackRate() == 0 {
		return nil
	}

	frames := s.buf.Frames
	start := (status.OffsetInFrames + s.writtenFrames) % frames
	var expected int
	if frames > status.OffsetInFrames+s.writtenFrames {
		expected = min(frames-(status.OffsetInFrames+s.writtenFrames), status.FramesInBuffer-s.writtenFrames)
	} else {
		expected = status.FramesInBuffer - s.writtenFrames
	}
	if start+expected > frames {
		expected = frames - start
	}
	if expected <= 0 {
		// everything buffered is queued on the device but not played yet
		return nil
	}

	written, err := s.write(start, expected)
	if err != nil {
		return fmt.Errorf("write %d frames: %w", expected, err)
	}
	s.writtenFrames += written
	s.stats.Writes++
	s.stats.FramesWritten += int64(written)
	return nil
}

// write pushes frames [start, start+count) of the frame buffer and returns
// the number of whole frames accepted
func (s *Sink) write(start, count int) (int, error) {
	channels := s.format.Channels
	region := s.buf.Data[s.format.FramesToBytes(start):s.format.FramesToBytes(start+count)]

	if s.format.SampleType.IsFloat() {
		samples := s.floats[:count*channels]
		audio.DecodeFloat32LE(samples, region)
		n, err := s.out.WriteFloats(samples)
		if err != nil {
			return 0, err
		}
		return n / channels, nil
	}

	n, err := s.out.Write(region)
	if err != nil {
		return 0, err
	}
	return s.format.BytesToFrames(n), nil
}

func (s *Sink) publish(ts output.Timestamp, status SourceStatus) {
	if s.onProgress == nil {
		return
	}
	s.onProgress(Progress{
		Timestamp:      ts,
		FramesQueued:   s.writtenFrames,
		FramesConsumed: s.framesConsumed,
		Volume:         s.volume,
		Paused:         s.paused,
		Rate:           s.playbackRate(),
		EndOfStream:    status.EndOfStream,
	})
}
