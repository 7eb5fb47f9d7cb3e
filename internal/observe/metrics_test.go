package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q: unexpected data type %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordWrite(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWrite(ctx, 100, 100, false)
	m.RecordWrite(ctx, 100, 40, false)
	m.RecordWrite(ctx, 10, 10, true)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"trackbridge.write.bytes", 140},
		{"trackbridge.write.samples", 10},
		{"trackbridge.write.short", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sumInt(t, rm, tt.name); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestRecordOpenAttemptAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOpenAttempt(ctx, "mock", "error")
	m.RecordOpenAttempt(ctx, "mock", "error")
	m.RecordOpenAttempt(ctx, "mock", "ok")

	rm := collect(t, reader)
	met := findMetric(rm, "trackbridge.open.attempts")
	if met == nil {
		t.Fatal("open attempts metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])

	byResult := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, ok := dp.Attributes.Value(attribute.Key("result"))
		if !ok {
			t.Fatal("missing result attribute")
		}
		byResult[v.AsString()] += dp.Value
	}
	if byResult["error"] != 2 || byResult["ok"] != 1 {
		t.Errorf("attempts by result = %v", byResult)
	}
}

func TestBufferHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.BufferBytes.Record(context.Background(), 8192)

	rm := collect(t, reader)
	met := findMetric(rm, "trackbridge.buffer.size")
	if met == nil {
		t.Fatal("buffer histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", met.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != 8192 {
		t.Errorf("histogram = %+v", hist.DataPoints)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestMetricsServerRoute(t *testing.T) {
	srv := NewMetricsServer("127.0.0.1:0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestInitProvider(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	shutdown, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "1.2.3", Registerer: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordWrite(ctx, 64, 48, false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawWrites, sawService bool
	for _, mf := range families {
		name := mf.GetName()
		if strings.HasPrefix(name, "trackbridge_write_bytes") {
			sawWrites = true
		}
		if name != "target_info" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "service_name" && label.GetValue() == "trackbridge" {
					sawService = true
				}
			}
		}
	}
	if !sawWrites {
		t.Error("write counter not exported")
	}
	if !sawService {
		t.Error("target_info missing service_name=trackbridge")
	}

	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
