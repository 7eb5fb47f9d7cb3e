// ABOUTME: Audio output bridge package
// ABOUTME: Buffer negotiation, non-blocking writes and monotonic positions
// Package bridge adapts a single output.Stream for a media pipeline.
//
// Construction negotiates a device buffer by doubling the device minimum
// up to the requested depth and halving on every failed open. Writes are
// forwarded without blocking and may be partial. Timestamp reports a frame
// position that never decreases, synthesizing a zero sample while the
// device has none.
//
// A Bridge is meant to be driven by one goroutine. It performs no locking.
//
// Example:
//
//	dev, _ := output.New("oto")
//	b, err := bridge.New(dev, bridge.Config{
//		Format:       audio.Format{SampleType: audio.SampleTypeInt16, SampleRate: 48000, Channels: 2},
//		TargetFrames: 1024,
//	})
//	if err != nil {
//		return err
//	}
//	defer b.Release()
//
//	b.Play()
//	n, err := b.Write(pcm)
package bridge
