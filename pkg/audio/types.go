// ABOUTME: Audio type definitions
// ABOUTME: Defines sample types, channel layouts and stream formats
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedChannelCount is returned for channel counts without a layout.
var ErrUnsupportedChannelCount = errors.New("unsupported channel count")

// SampleType is the PCM encoding of a stream
type SampleType int

const (
	SampleTypeInt16 SampleType = iota
	SampleTypeFloat32
	SampleTypeUint8
)

// BytesPerSample returns the size of one sample of this type
func (t SampleType) BytesPerSample() int {
	switch t {
	case SampleTypeInt16:
		return 2
	case SampleTypeFloat32:
		return 4
	case SampleTypeUint8:
		return 1
	}
	return 0
}

// IsFloat reports whether samples are floating point
func (t SampleType) IsFloat() bool {
	return t == SampleTypeFloat32
}

func (t SampleType) String() string {
	switch t {
	case SampleTypeInt16:
		return "s16"
	case SampleTypeFloat32:
		return "f32"
	case SampleTypeUint8:
		return "u8"
	}
	return fmt.Sprintf("SampleType(%d)", int(t))
}

// ParseSampleType parses the names produced by SampleType.String
func ParseSampleType(s string) (SampleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s16", "int16", "pcm16":
		return SampleTypeInt16, nil
	case "f32", "float32", "float":
		return SampleTypeFloat32, nil
	case "u8", "uint8", "pcm8":
		return SampleTypeUint8, nil
	}
	return 0, fmt.Errorf("unknown sample type: %q (supported: s16, f32, u8)", s)
}

// ChannelLayout is the speaker arrangement of a stream
type ChannelLayout int

const (
	LayoutInvalid ChannelLayout = iota
	LayoutMono
	LayoutStereo
	Layout5Point1
)

// LayoutForChannels maps a channel count to its layout.
// Only 1, 2 and 6 channels are supported.
func LayoutForChannels(channels int) (ChannelLayout, error) {
	switch channels {
	case 1:
		return LayoutMono, nil
	case 2:
		return LayoutStereo, nil
	case 6:
		return Layout5Point1, nil
	}
	return LayoutInvalid, fmt.Errorf("%w: %d", ErrUnsupportedChannelCount, channels)
}

// Channels returns the channel count of the layout
func (l ChannelLayout) Channels() int {
	switch l {
	case LayoutMono:
		return 1
	case LayoutStereo:
		return 2
	case Layout5Point1:
		return 6
	}
	return 0
}

func (l ChannelLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case Layout5Point1:
		return "5.1"
	}
	return "invalid"
}

// Format describes a PCM stream
type Format struct {
	SampleType SampleType
	SampleRate int
	Channels   int
}

// BytesPerFrame returns the size of one frame (one sample per channel)
func (f Format) BytesPerFrame() int {
	return f.SampleType.BytesPerSample() * f.Channels
}

// FramesToBytes converts a frame count to a byte count
func (f Format) FramesToBytes(frames int) int {
	return frames * f.BytesPerFrame()
}

// BytesToFrames converts a byte count to whole frames
func (f Format) BytesToFrames(n int) int {
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return n / bpf
}

// Layout returns the channel layout of the format
func (f Format) Layout() (ChannelLayout, error) {
	return LayoutForChannels(f.Channels)
}

// Validate checks that the format can be opened on a device
func (f Format) Validate() error {
	if f.SampleType.BytesPerSample() == 0 {
		return fmt.Errorf("invalid sample type: %v", f.SampleType)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if _, err := f.Layout(); err != nil {
		return err
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.SampleType)
}
