// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Device/Stream capability interfaces and their backends
// Package output defines the capability interfaces the bridge drives and the
// concrete device adapters that implement them.
//
// A Device reports its minimum viable buffer size and opens Streams at a
// requested buffer size. A Stream is an exclusively owned output queue with
// non-blocking writes and a playback timestamp.
//
// Backends:
//   - oto: cross-platform output through ebitengine/oto (default)
//   - malgo: miniaudio through gen2brain/malgo (build with -tags malgo)
//   - headless: a clock-driven device without audio hardware
//
// Example:
//
//	dev, err := output.New("oto")
//	min, err := dev.MinBufferSize(format)
//	stream, err := dev.Open(format, min*2)
//	n, err := stream.Write(pcm)
package output
