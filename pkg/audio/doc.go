// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines sample types, channel layouts, formats and sample conversions
// Package audio provides the fundamental PCM types shared by the bridge,
// the device adapters and the decoders.
//
// This package defines:
//   - SampleType: the PCM encoding of a stream (8-bit, 16-bit, float32)
//   - ChannelLayout: the speaker layout derived from a channel count
//   - Format: sample type, sample rate and channel count of a stream
//
// It also provides conversions between sample encodings and helpers for
// converting between frames and bytes.
//
// Example:
//
//	format := audio.Format{
//	    SampleType: audio.SampleTypeInt16,
//	    SampleRate: 48000,
//	    Channels:   2,
//	}
//
//	// 1024 stereo 16-bit frames
//	n := format.FramesToBytes(1024) // 4096
package audio
