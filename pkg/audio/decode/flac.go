// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC frames to 16-bit or float PCM
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/mewkiz/flac"
)

// FLACDecoder decodes FLAC audio. Streams of up to 16 bits produce s16
// PCM; deeper streams produce f32 PCM.
type FLACDecoder struct {
	src      io.ReadCloser
	stream   *flac.Stream
	format   audio.Format
	bitDepth int
	pending  []byte
}

// NewFLAC creates a decoder reading FLAC from src. src is closed by Close.
func NewFLAC(src io.ReadCloser) (*FLACDecoder, error) {
	stream, err := flac.New(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	format := audio.Format{
		SampleType: audio.SampleTypeInt16,
		SampleRate: int(info.SampleRate),
		Channels:   int(info.NChannels),
	}
	if info.BitsPerSample > 16 {
		format.SampleType = audio.SampleTypeFloat32
	}

	return &FLACDecoder{
		src:      src,
		stream:   stream,
		format:   format,
		bitDepth: int(info.BitsPerSample),
	}, nil
}

func (d *FLACDecoder) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		frame, err := d.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		channels := make([][]int32, len(frame.Subframes))
		for ch, sub := range frame.Subframes {
			channels[ch] = sub.Samples
		}
		d.pending = interleave(d.pending[:0], channels, int(frame.BlockSize), d.bitDepth, d.format.SampleType)
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *FLACDecoder) Format() audio.Format { return d.format }

func (d *FLACDecoder) Close() error {
	d.stream.Close()
	return d.src.Close()
}

// interleave packs per-channel samples of the given bit depth into dst
func interleave(dst []byte, channels [][]int32, frames, bitDepth int, to audio.SampleType) []byte {
	size := to.BytesPerSample()
	need := frames * len(channels) * size
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]

	scale := float32(math.Ldexp(1, bitDepth-1))
	off := 0
	for i := 0; i < frames; i++ {
		for _, samples := range channels {
			s := samples[i]
			if to == audio.SampleTypeFloat32 {
				binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(float32(s)/scale))
			} else {
				binary.LittleEndian.PutUint16(dst[off:], uint16(int16(s<<(16-bitDepth))))
			}
			off += size
		}
	}
	return dst
}
