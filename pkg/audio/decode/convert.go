// ABOUTME: Sample type conversion for decoders
// ABOUTME: Wraps a Decoder to emit a different sample type
package decode

import (
	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
)

type converter struct {
	Decoder
	format  audio.Format
	src     []byte
	pending []byte
}

// Convert returns a Decoder producing dec's PCM as sample type to. dec is
// returned as is when it already produces to.
func Convert(dec Decoder, to audio.SampleType) Decoder {
	from := dec.Format()
	if from.SampleType == to {
		return dec
	}
	format := from
	format.SampleType = to
	return &converter{Decoder: dec, format: format}
}

func (c *converter) Format() audio.Format { return c.format }

func (c *converter) Read(p []byte) (int, error) {
	from := c.Decoder.Format().SampleType
	inSize := from.BytesPerSample()
	outSize := c.format.SampleType.BytesPerSample()

	want := len(p) / outSize * inSize
	if want == 0 {
		want = inSize
	}
	if cap(c.src) < want {
		c.src = make([]byte, 0, want)
	}

	// keep a partial sample from the previous read at the front
	buf := append(c.src[:0], c.pending...)
	n, err := c.Decoder.Read(buf[len(buf):want])
	buf = buf[:len(buf)+n]

	consumed, written := audio.Transcode(p, c.format.SampleType, buf, from)
	c.pending = append(c.pending[:0], buf[consumed:]...)
	if written == 0 && err == nil {
		// not enough input for a whole sample yet
		return 0, nil
	}
	return written, err
}
