// ABOUTME: OpenTelemetry metric instruments for the output bridge
// ABOUTME: Counters and histograms recorded by the bridge and the sink
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Resonate-Protocol/trackbridge"

// Metrics holds the instruments shared by every bridge in the process.
// The OTel types handle their own synchronisation.
type Metrics struct {
	// OpenAttempts counts device open attempts during buffer negotiation.
	// Attribute: result = ok | error | uninitialized
	OpenAttempts metric.Int64Counter

	// BufferBytes records the negotiated buffer size of each opened stream
	BufferBytes metric.Int64Histogram

	// OpenStreams tracks bridges holding a live device stream
	OpenStreams metric.Int64UpDownCounter

	// WrittenBytes counts PCM bytes accepted by byte writes
	WrittenBytes metric.Int64Counter

	// WrittenSamples counts float samples accepted by float writes
	WrittenSamples metric.Int64Counter

	// ShortWrites counts writes that accepted less than offered
	ShortWrites metric.Int64Counter

	// WriteErrors counts writes the device rejected
	WriteErrors metric.Int64Counter

	// TimestampClamps counts device positions held back by the high-water mark
	TimestampClamps metric.Int64Counter

	// TimestampSynthesized counts timestamps made up while the device had none
	TimestampSynthesized metric.Int64Counter

	// FramesConsumed counts frames reported back to sources as played
	FramesConsumed metric.Int64Counter
}

var bufferBuckets = []float64{
	1024, 4096, 16384, 65536, 262144, 1048576,
}

// NewMetrics creates every instrument on the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.OpenAttempts, err = m.Int64Counter("trackbridge.open.attempts",
		metric.WithDescription("Device open attempts during buffer size negotiation by result."),
	); err != nil {
		return nil, err
	}
	if met.BufferBytes, err = m.Int64Histogram("trackbridge.buffer.size",
		metric.WithDescription("Negotiated device buffer size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(bufferBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OpenStreams, err = m.Int64UpDownCounter("trackbridge.open_streams",
		metric.WithDescription("Number of bridges holding a device stream."),
	); err != nil {
		return nil, err
	}
	if met.WrittenBytes, err = m.Int64Counter("trackbridge.write.bytes",
		metric.WithDescription("PCM bytes accepted by the device."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.WrittenSamples, err = m.Int64Counter("trackbridge.write.samples",
		metric.WithDescription("Float samples accepted by the device."),
	); err != nil {
		return nil, err
	}
	if met.ShortWrites, err = m.Int64Counter("trackbridge.write.short",
		metric.WithDescription("Writes that accepted less data than offered."),
	); err != nil {
		return nil, err
	}
	if met.WriteErrors, err = m.Int64Counter("trackbridge.write.errors",
		metric.WithDescription("Writes rejected by the device."),
	); err != nil {
		return nil, err
	}
	if met.TimestampClamps, err = m.Int64Counter("trackbridge.timestamp.clamped",
		metric.WithDescription("Device frame positions below the reported high-water mark."),
	); err != nil {
		return nil, err
	}
	if met.TimestampSynthesized, err = m.Int64Counter("trackbridge.timestamp.synthesized",
		metric.WithDescription("Timestamps synthesized because the device had none."),
	); err != nil {
		return nil, err
	}
	if met.FramesConsumed, err = m.Int64Counter("trackbridge.frames.consumed",
		metric.WithDescription("Frames reported to sources as played."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instance built on the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordOpenAttempt counts one negotiation attempt
func (m *Metrics) RecordOpenAttempt(ctx context.Context, device, result string) {
	m.OpenAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device", device),
			attribute.String("result", result),
		),
	)
}

// RecordWrite counts an accepted write. float selects the sample counter.
func (m *Metrics) RecordWrite(ctx context.Context, offered, accepted int, float bool) {
	if float {
		m.WrittenSamples.Add(ctx, int64(accepted))
	} else {
		m.WrittenBytes.Add(ctx, int64(accepted))
	}
	if accepted < offered {
		m.ShortWrites.Add(ctx, 1)
	}
}
