// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 to 16-bit stereo PCM
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes MP3 audio
type MP3Decoder struct {
	src     io.ReadCloser
	decoder *mp3.Decoder
	format  audio.Format
}

// NewMP3 creates a decoder reading MP3 from src. src is closed by Close.
func NewMP3(src io.ReadCloser) (*MP3Decoder, error) {
	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	return &MP3Decoder{
		src:     src,
		decoder: decoder,
		// go-mp3 always outputs 16-bit stereo
		format: audio.Format{SampleType: audio.SampleTypeInt16, SampleRate: decoder.SampleRate(), Channels: 2},
	}, nil
}

func (d *MP3Decoder) Read(p []byte) (int, error) { return d.decoder.Read(p) }

func (d *MP3Decoder) Format() audio.Format { return d.format }

func (d *MP3Decoder) Close() error { return d.src.Close() }
