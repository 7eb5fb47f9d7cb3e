// ABOUTME: Feeds decoded PCM into the sink's circular frame buffer
// ABOUTME: Implements the sink source contract on top of a Decoder
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/trackbridge/internal/sink"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/decode"
	"github.com/charmbracelet/log"
)

// Feeder decodes into a circular frame buffer and reports its fill level
// to a sink. Run fills the buffer; the sink reads it.
type Feeder struct {
	dec    decode.Decoder
	format audio.Format
	data   []byte
	frames int

	space chan struct{}

	mu       sync.Mutex
	offset   int // oldest unconsumed frame
	inBuffer int // valid frames from offset
	partial  int // bytes of a frame not yet complete
	playing  bool
	eos      bool
	stats    FeederStats
}

// FeederStats tracks feeder progress
type FeederStats struct {
	FramesDecoded  int64
	FramesConsumed int64
	Underruns      int64
}

// NewFeeder creates a feeder with room for frames frames of dec's format
func NewFeeder(dec decode.Decoder, frames int) *Feeder {
	format := dec.Format()
	return &Feeder{
		dec:     dec,
		format:  format,
		data:    make([]byte, format.FramesToBytes(frames)),
		frames:  frames,
		space:   make(chan struct{}, 1),
		playing: true,
	}
}

// Format returns the PCM format in the frame buffer
func (f *Feeder) Format() audio.Format { return f.format }

// FrameBuffer exposes the circular buffer to a sink
func (f *Feeder) FrameBuffer() sink.FrameBuffer {
	return sink.FrameBuffer{Data: f.data, Frames: f.frames}
}

// SetPlaying controls the playing flag reported to the sink
func (f *Feeder) SetPlaying(playing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = playing
}

// UpdateSourceStatus implements sink.Source
func (f *Feeder) UpdateSourceStatus() sink.SourceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sink.SourceStatus{
		FramesInBuffer: f.inBuffer,
		OffsetInFrames: f.offset,
		Playing:        f.playing,
		EndOfStream:    f.eos,
	}
}

// ConsumeFrames implements sink.Source
func (f *Feeder) ConsumeFrames(frames int) {
	f.mu.Lock()
	if frames > f.inBuffer {
		// the device played past what was supplied
		f.stats.Underruns++
		frames = f.inBuffer
	}
	f.offset = (f.offset + frames) % f.frames
	f.inBuffer -= frames
	f.stats.FramesConsumed += int64(frames)
	f.mu.Unlock()

	select {
	case f.space <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the counters
func (f *Feeder) Stats() FeederStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Run decodes until the input ends or ctx is cancelled. The end of the
// input is reported to the sink as end of stream.
func (f *Feeder) Run(ctx context.Context) error {
	defer f.dec.Close()

	bpf := f.format.BytesPerFrame()
	for {
		f.mu.Lock()
		free := f.frames - f.inBuffer
		start := (f.offset + f.inBuffer) % f.frames
		partial := f.partial
		f.mu.Unlock()

		// contiguous free region, minus the frame being completed
		end := start + free
		if end > f.frames {
			end = f.frames
		}
		region := f.data[start*bpf+partial : end*bpf]
		if len(region) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-f.space:
			}
			continue
		}

		n, err := f.dec.Read(region)
		if n > 0 {
			f.commit(n)
		}
		if errors.Is(err, io.EOF) {
			f.mu.Lock()
			f.eos = true
			decoded := f.stats.FramesDecoded
			f.mu.Unlock()
			log.Debug("Input finished", "frames_decoded", decoded)
			return nil
		}
		if err != nil {
			f.mu.Lock()
			f.eos = true
			f.mu.Unlock()
			return fmt.Errorf("decode input: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// commit publishes n freshly decoded bytes
func (f *Feeder) commit(n int) {
	bpf := f.format.BytesPerFrame()

	f.mu.Lock()
	defer f.mu.Unlock()
	total := f.partial + n
	frames := total / bpf
	f.partial = total % bpf
	f.inBuffer += frames
	f.stats.FramesDecoded += int64(frames)
}
