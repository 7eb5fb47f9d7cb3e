// ABOUTME: Ogg Opus audio decoder
// ABOUTME: Decodes Ogg Opus files to 48kHz 16-bit PCM
package decode

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// opus always decodes at 48kHz
const opusSampleRate = 48000

// max frame duration of 120 ms at 48kHz
const opusMaxFrameSamples = 5760

var errNoOpusHead = errors.New("no OpusHead packet")

// OpusDecoder decodes Ogg Opus audio
type OpusDecoder struct {
	src     io.ReadCloser
	stream  *opus.Stream
	format  audio.Format
	pcm     []int16
	pending []byte
}

// NewOpus creates a decoder reading Ogg Opus from src. src is closed by
// Close.
func NewOpus(src io.ReadCloser) (*OpusDecoder, error) {
	br := bufio.NewReaderSize(src, 4096)
	head, _ := br.Peek(512)
	channels, err := opusChannels(head)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Opus: %w", err)
	}

	stream, err := opus.NewStream(br)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Opus: %w", err)
	}

	return &OpusDecoder{
		src:    src,
		stream: stream,
		format: audio.Format{SampleType: audio.SampleTypeInt16, SampleRate: opusSampleRate, Channels: channels},
		pcm:    make([]int16, opusMaxFrameSamples*channels),
	}, nil
}

// opusChannels reads the output channel count from the OpusHead packet
// in the first Ogg page
func opusChannels(page []byte) (int, error) {
	i := bytes.Index(page, []byte("OpusHead"))
	if i < 0 || len(page) < i+10 {
		return 0, errNoOpusHead
	}
	channels := int(page[i+9])
	if channels == 0 {
		return 0, fmt.Errorf("%w: zero channels", errNoOpusHead)
	}
	return channels, nil
}

func (d *OpusDecoder) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		n, err := d.stream.Read(d.pcm)
		if err != nil {
			return 0, err
		}
		samples := d.pcm[:n*d.format.Channels]
		buf := d.pending[:0]
		if cap(buf) < len(samples)*2 {
			buf = make([]byte, len(samples)*2)
		}
		buf = buf[:len(samples)*2]
		for i, s := range samples {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
		}
		d.pending = buf
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *OpusDecoder) Format() audio.Format { return d.format }

func (d *OpusDecoder) Close() error {
	d.stream.Close()
	return d.src.Close()
}
