// ABOUTME: Raw PCM decoder
// ABOUTME: Passes headerless PCM through in a caller-supplied format
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
)

// PCMDecoder reads headerless interleaved PCM
type PCMDecoder struct {
	src    io.ReadCloser
	format audio.Format
}

// NewPCM reads src as PCM in format
func NewPCM(src io.ReadCloser, format audio.Format) (*PCMDecoder, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid raw PCM format: %w", err)
	}
	return &PCMDecoder{src: src, format: format}, nil
}

func (d *PCMDecoder) Read(p []byte) (int, error) { return d.src.Read(p) }

func (d *PCMDecoder) Format() audio.Format { return d.format }

func (d *PCMDecoder) Close() error { return d.src.Close() }
