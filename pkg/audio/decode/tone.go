// ABOUTME: Test tone generator
// ABOUTME: Endless sine wave at half scale in any supported format
package decode

import (
	"math"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
)

// DefaultToneFrequency is A4
const DefaultToneFrequency = 440.0

const toneAmplitude = 0.5

// Tone generates a sine wave on every channel
type Tone struct {
	format      audio.Format
	frequency   float64
	sampleIndex uint64
	scratch     []byte
}

// NewTone creates a tone generator producing PCM in format
func NewTone(format audio.Format, frequency float64) (*Tone, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Tone{format: format, frequency: frequency}, nil
}

// Read fills whole frames of p. It never returns io.EOF.
func (t *Tone) Read(p []byte) (int, error) {
	frames := t.format.BytesToFrames(len(p))
	channels := t.format.Channels
	need := frames * channels * 4
	if cap(t.scratch) < need {
		t.scratch = make([]byte, need)
	}
	scratch := t.scratch[:need]

	samples := make([]float32, frames*channels)
	rate := float64(t.format.SampleRate)
	for i := 0; i < frames; i++ {
		ts := float64(t.sampleIndex+uint64(i)) / rate
		v := float32(math.Sin(2*math.Pi*t.frequency*ts) * toneAmplitude)
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = v
		}
	}
	t.sampleIndex += uint64(frames)

	audio.EncodeFloat32LE(scratch, samples)
	_, written := audio.Transcode(p, t.format.SampleType, scratch, audio.SampleTypeFloat32)
	return written, nil
}

func (t *Tone) Format() audio.Format { return t.format }

func (t *Tone) Close() error { return nil }
