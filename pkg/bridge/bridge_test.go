package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/Resonate-Protocol/trackbridge/internal/observe"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output/mock"
	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var s16Stereo = audio.Format{SampleType: audio.SampleTypeInt16, SampleRate: 48000, Channels: 2}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func newTestBridge(t *testing.T, dev *mock.Device, cfg Config, opts ...Option) *Bridge {
	t.Helper()
	m, _ := testMetrics(t)
	opts = append([]Option{
		WithMetrics(m),
		WithLogger(log.New(io.Discard)),
	}, opts...)
	b, err := New(dev, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewChannelLayouts(t *testing.T) {
	tests := []struct {
		channels int
		want     audio.ChannelLayout
		wantErr  bool
	}{
		{1, audio.LayoutMono, false},
		{2, audio.LayoutStereo, false},
		{6, audio.Layout5Point1, false},
		{0, audio.LayoutInvalid, true},
		{3, audio.LayoutInvalid, true},
		{4, audio.LayoutInvalid, true},
		{8, audio.LayoutInvalid, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_channels", tt.channels), func(t *testing.T) {
			dev := &mock.Device{MinSize: 256}
			format := audio.Format{SampleType: audio.SampleTypeInt16, SampleRate: 48000, Channels: tt.channels}
			m, _ := testMetrics(t)

			b, err := New(dev, Config{Format: format, TargetFrames: 64}, WithMetrics(m), WithLogger(log.New(io.Discard)))
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedChannelCount) {
					t.Fatalf("channels=%d: err = %v, want ErrUnsupportedChannelCount", tt.channels, err)
				}
				if dev.MinCalls != 0 || len(dev.Attempts) != 0 {
					t.Errorf("channels=%d: device touched (min calls %d, opens %v)", tt.channels, dev.MinCalls, dev.Attempts)
				}
				return
			}
			if err != nil {
				t.Fatalf("channels=%d: %v", tt.channels, err)
			}
			if b.Layout() != tt.want {
				t.Errorf("Layout() = %v, want %v", b.Layout(), tt.want)
			}
		})
	}
}

func TestNewNegotiatesStereo48k(t *testing.T) {
	// 1024 frames of s16 stereo = 4096 bytes
	dev := &mock.Device{MinSize: 1000}
	b := newTestBridge(t, dev, Config{Format: s16Stereo, TargetFrames: 1024})

	if b.BufferSize() != 8000 {
		t.Errorf("BufferSize() = %d, want 8000", b.BufferSize())
	}
	if b.BufferSize() < s16Stereo.FramesToBytes(1024) {
		t.Errorf("buffer %d smaller than target", b.BufferSize())
	}
	if b.MinBufferSize() != 1000 {
		t.Errorf("MinBufferSize() = %d", b.MinBufferSize())
	}
	if b.BufferFrames() != 2000 {
		t.Errorf("BufferFrames() = %d", b.BufferFrames())
	}
}

func TestNewHalvesOnFailure(t *testing.T) {
	dev := &mock.Device{
		MinSize:       512,
		Fail:          func(n int) bool { return n > 2048 },
		Uninitialized: func(n int) bool { return n == 2048 },
	}
	var attempts []Attempt
	b := newTestBridge(t, dev, Config{Format: s16Stereo, TargetFrames: 2048},
		WithAttemptHook(func(a Attempt) { attempts = append(attempts, a) }))

	if b.BufferSize() != 1024 {
		t.Errorf("BufferSize() = %d, want 1024", b.BufferSize())
	}
	if diff := cmp.Diff([]int{8192, 4096, 2048, 1024}, dev.Attempts); diff != "" {
		t.Errorf("open sizes (-want +got):\n%s", diff)
	}

	// every rejected uninitialized handle is released
	for _, s := range dev.Streams[:len(dev.Streams)-1] {
		if !s.Released {
			t.Errorf("stream at %d bytes not released", s.Size)
		}
	}
	if dev.Last().Released {
		t.Error("accepted stream released")
	}

	var oks []bool
	for _, a := range attempts {
		oks = append(oks, a.OK())
	}
	if diff := cmp.Diff([]bool{false, false, false, true}, oks); diff != "" {
		t.Errorf("attempt results (-want +got):\n%s", diff)
	}
	if !errors.Is(attempts[0].Err, mock.ErrOpen) {
		t.Errorf("first attempt err = %v", attempts[0].Err)
	}
	if attempts[2].State != output.StateUninitialized {
		t.Errorf("third attempt state = %v", attempts[2].State)
	}
}

func TestNewExhausted(t *testing.T) {
	dev := &mock.Device{MinSize: 16, Fail: func(int) bool { return true }}
	m, reader := testMetrics(t)

	_, err := New(dev, Config{Format: s16Stereo, TargetFrames: 8}, WithMetrics(m), WithLogger(log.New(io.Discard)))
	if !errors.Is(err, ErrNoStream) {
		t.Fatalf("err = %v, want ErrNoStream", err)
	}
	if !errors.Is(err, mock.ErrOpen) {
		t.Errorf("err = %v, want wrapped open error", err)
	}
	if diff := cmp.Diff([]int{32, 16, 8, 4, 2, 1}, dev.Attempts); diff != "" {
		t.Errorf("open sizes (-want +got):\n%s", diff)
	}
	if got := counter(t, reader, "trackbridge.open.attempts"); got != 6 {
		t.Errorf("open attempts = %d, want 6", got)
	}
	if got := counter(t, reader, "trackbridge.open_streams"); got != 0 {
		t.Errorf("open streams = %d, want 0", got)
	}
}

func TestNewMinBufferError(t *testing.T) {
	dev := &mock.Device{MinErr: output.StatusBadValue}
	m, _ := testMetrics(t)

	_, err := New(dev, Config{Format: s16Stereo, TargetFrames: 8}, WithMetrics(m), WithLogger(log.New(io.Discard)))
	if !errors.Is(err, output.StatusBadValue) {
		t.Fatalf("err = %v, want StatusBadValue", err)
	}
	if len(dev.Attempts) != 0 {
		t.Errorf("opened despite min size error: %v", dev.Attempts)
	}
}

func TestWritePassthrough(t *testing.T) {
	dev := &mock.Device{MinSize: 1024}
	m, reader := testMetrics(t)
	b, err := New(dev, Config{Format: s16Stereo, TargetFrames: 256}, WithMetrics(m), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	stream := dev.Last()
	stream.WriteLimit = 1000

	n, err := b.Write(make([]byte, 4096))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1000 {
		t.Errorf("Write accepted %d, want 1000", n)
	}
	if len(stream.WrittenBytes()) != 1000 {
		t.Errorf("device received %d bytes", len(stream.WrittenBytes()))
	}

	stream.WriteErr = output.StatusDeadObject
	if _, err := b.Write(make([]byte, 4)); !errors.Is(err, output.StatusDeadObject) {
		t.Errorf("Write err = %v, want passthrough StatusDeadObject", err)
	}

	if got := counter(t, reader, "trackbridge.write.bytes"); got != 1000 {
		t.Errorf("written bytes = %d", got)
	}
	if got := counter(t, reader, "trackbridge.write.short"); got != 1 {
		t.Errorf("short writes = %d", got)
	}
	if got := counter(t, reader, "trackbridge.write.errors"); got != 1 {
		t.Errorf("write errors = %d", got)
	}
}

func TestWriteFloatsPassthrough(t *testing.T) {
	format := audio.Format{SampleType: audio.SampleTypeFloat32, SampleRate: 44100, Channels: 6}
	dev := &mock.Device{MinSize: 4096}
	b := newTestBridge(t, dev, Config{Format: format, TargetFrames: 128})
	dev.Last().WriteLimit = 12

	n, err := b.WriteFloats(make([]float32, 60))
	if err != nil {
		t.Fatal(err)
	}
	if n != 12 {
		t.Errorf("WriteFloats accepted %d, want 12", n)
	}
}

func TestControlPassthrough(t *testing.T) {
	dev := &mock.Device{MinSize: 1024}
	b := newTestBridge(t, dev, Config{Format: s16Stereo, TargetFrames: 256})
	stream := dev.Last()
	stream.VolumeStatus = output.StatusInvalidOperation

	if err := b.Play(); err != nil {
		t.Fatal(err)
	}
	if err := b.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	st, err := b.SetVolume(0.25)
	if err != nil {
		t.Fatal(err)
	}
	if st != output.StatusInvalidOperation {
		t.Errorf("SetVolume status = %v, want passthrough", st)
	}
	if stream.Volume != 0.25 {
		t.Errorf("device volume = %v", stream.Volume)
	}

	want := []string{"play", "pause", "flush", "set_volume"}
	if diff := cmp.Diff(want, stream.CallLog()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

func TestTimestampBeforePlayback(t *testing.T) {
	dev := &mock.Device{MinSize: 1024}
	clock := int64(5000)
	b := newTestBridge(t, dev, Config{Format: s16Stereo, TargetFrames: 256},
		WithClock(func() int64 { clock += 10; return clock }))

	ts, err := b.Timestamp()
	if err != nil {
		t.Fatal(err)
	}
	if ts.FramePosition != 0 {
		t.Errorf("FramePosition = %d, want 0", ts.FramePosition)
	}
	if ts.NanoTime != 5010 {
		t.Errorf("NanoTime = %d, want synthesized 5010", ts.NanoTime)
	}

	ts2, _ := b.Timestamp()
	if ts2.NanoTime < ts.NanoTime {
		t.Errorf("synthesized time went backwards: %d < %d", ts2.NanoTime, ts.NanoTime)
	}
}

func TestTimestampMonotonic(t *testing.T) {
	dev := &mock.Device{MinSize: 1024}
	clock := int64(0)
	b := newTestBridge(t, dev, Config{Format: s16Stereo, TargetFrames: 256},
		WithClock(func() int64 { clock++; return clock }))
	stream := dev.Last()
	stream.Timestamps = []mock.TimestampStep{
		{Position: 100, NanoTime: 1000, OK: true},
		{Position: 50, NanoTime: 2000, OK: true},
		{OK: false},
		{Position: 0, NanoTime: 3000, OK: true},
		{Position: 400, NanoTime: 4000, OK: true},
		{Position: 399, NanoTime: 5000, OK: true},
		{Position: 1 << 32, NanoTime: 6000, OK: true},
		{Position: 1<<32 + 1000, NanoTime: 7000, OK: true},
	}

	want := []uint64{100, 100, 100, 100, 400, 400, 400, 1000}
	var got []uint64
	for range want {
		ts, err := b.Timestamp()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, ts.FramePosition)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}
}

func TestTimestampClampKeepsDeviceTime(t *testing.T) {
	dev := &mock.Device{MinSize: 1024}
	m, reader := testMetrics(t)
	b, err := New(dev, Config{Format: s16Stereo, TargetFrames: 256}, WithMetrics(m), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	dev.Last().Timestamps = []mock.TimestampStep{
		{Position: 2000, NanoTime: 10, OK: true},
		{Position: 1500, NanoTime: 20, OK: true},
	}

	first, _ := b.Timestamp()
	second, _ := b.Timestamp()

	want := output.Timestamp{FramePosition: 2000, NanoTime: 20}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("clamped timestamp (-want +got):\n%s", diff)
	}
	if second.FramePosition != first.FramePosition {
		t.Errorf("second = %d, want clamp to %d", second.FramePosition, first.FramePosition)
	}
	if got := counter(t, reader, "trackbridge.timestamp.clamped"); got != 1 {
		t.Errorf("clamps = %d, want 1", got)
	}
}

func TestReleaseClosesBridge(t *testing.T) {
	dev := &mock.Device{MinSize: 1024}
	b := newTestBridge(t, dev, Config{Format: s16Stereo, TargetFrames: 256})
	stream := dev.Last()

	if err := b.Release(); err != nil {
		t.Fatal(err)
	}
	if !stream.Released {
		t.Error("device stream not released")
	}

	checks := []struct {
		name string
		fn   func() error
	}{
		{"release", b.Release},
		{"play", b.Play},
		{"pause", b.Pause},
		{"flush", b.Flush},
		{"write", func() error { _, err := b.Write([]byte{0, 0, 0, 0}); return err }},
		{"write_floats", func() error { _, err := b.WriteFloats([]float32{0, 0}); return err }},
		{"set_volume", func() error { _, err := b.SetVolume(1); return err }},
		{"timestamp", func() error { _, err := b.Timestamp(); return err }},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if err := c.fn(); !errors.Is(err, ErrStreamClosed) {
				t.Errorf("%s after release: %v, want ErrStreamClosed", c.name, err)
			}
		})
	}

	if diff := cmp.Diff([]string{"release"}, stream.CallLog()); diff != "" {
		t.Errorf("device calls after release (-want +got):\n%s", diff)
	}
}

func TestOpenStreamsGauge(t *testing.T) {
	m, reader := testMetrics(t)
	dev := &mock.Device{MinSize: 1024}
	b, err := New(dev, Config{Format: s16Stereo, TargetFrames: 256}, WithMetrics(m), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	if got := counter(t, reader, "trackbridge.open_streams"); got != 1 {
		t.Errorf("open streams = %d, want 1", got)
	}
	b.Release()
	if got := counter(t, reader, "trackbridge.open_streams"); got != 0 {
		t.Errorf("open streams after release = %d, want 0", got)
	}
}

func TestBridgeOnHeadlessDevice(t *testing.T) {
	dev := output.NewHeadless(output.WithMinBufferFrames(128), output.WithMaxBufferBytes(2048))
	m, _ := testMetrics(t)
	b, err := New(dev, Config{Format: s16Stereo, TargetFrames: 1024}, WithMetrics(m), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	// 512 -> 4096, rejected at 4096 as uninitialized, accepted at 2048
	if b.BufferSize() != 2048 {
		t.Errorf("BufferSize() = %d, want 2048", b.BufferSize())
	}

	n, err := b.Write(make([]byte, 4096))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2048 {
		t.Errorf("Write accepted %d, want 2048", n)
	}

	ts, err := b.Timestamp()
	if err != nil {
		t.Fatal(err)
	}
	if ts.FramePosition != 0 {
		t.Errorf("FramePosition before play = %d", ts.FramePosition)
	}
}
