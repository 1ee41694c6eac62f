package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// sumByAttr returns the counter value of the data point carrying key=value.
func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageCaptureToText, 120*time.Millisecond)
	m.RecordStage(ctx, StageCaptureToText, 80*time.Millisecond)
	m.RecordStage(ctx, StageTextToResponse, 400*time.Millisecond)
	m.RecordStage(ctx, StageResponseToAudio, 90*time.Millisecond)
	m.RecordStage(ctx, Stage("bogus"), time.Second)

	rm := collect(t, reader)
	tests := []struct {
		name  string
		count uint64
	}{
		{"voicelink.latency.capture_to_text", 2},
		{"voicelink.latency.text_to_response", 1},
		{"voicelink.latency.response_to_audio", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != tc.count {
				t.Errorf("data points = %+v; want count %d", hist.DataPoints, tc.count)
			}
		})
	}
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameReceived(ctx, "audio")
	m.RecordFrameReceived(ctx, "audio")
	m.RecordFrameReceived(ctx, "handshake")
	m.RecordFrameSent(ctx, "audio")
	m.RecordDroppedFrame(ctx, "malformed")
	m.RecordDroppedFrame(ctx, "unknown")
	m.RecordDroppedFrame(ctx, "unknown")

	rm := collect(t, reader)

	recv := findMetric(rm, "voicelink.frames.received")
	if recv == nil {
		t.Fatal("frames.received not found")
	}
	if got := sumByAttr(t, recv, "kind", "audio"); got != 2 {
		t.Errorf("received audio = %d; want 2", got)
	}
	if got := sumByAttr(t, recv, "kind", "handshake"); got != 1 {
		t.Errorf("received handshake = %d; want 1", got)
	}

	sent := findMetric(rm, "voicelink.frames.sent")
	if sent == nil || sumByAttr(t, sent, "kind", "audio") != 1 {
		t.Error("frames.sent audio != 1")
	}

	dropped := findMetric(rm, "voicelink.frames.dropped")
	if dropped == nil {
		t.Fatal("frames.dropped not found")
	}
	if got := sumByAttr(t, dropped, "kind", "unknown"); got != 2 {
		t.Errorf("dropped unknown = %d; want 2", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "deepgram", "ok")
	m.RecordProviderRequest(ctx, "deepgram", "error")
	m.RecordProviderError(ctx, "deepgram")

	rm := collect(t, reader)
	req := findMetric(rm, "voicelink.provider.requests")
	if req == nil {
		t.Fatal("provider.requests not found")
	}
	if got := sumByAttr(t, req, "status", "error"); got != 1 {
		t.Errorf("error requests = %d; want 1", got)
	}
	errs := findMetric(rm, "voicelink.provider.errors")
	if errs == nil || sumByAttr(t, errs, "provider", "deepgram") != 1 {
		t.Error("provider.errors deepgram != 1")
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.DecoderQueueDepth.Record(ctx, 4)
	m.DecoderQueueDepth.Record(ctx, 0)

	rm := collect(t, reader)

	active := findMetric(rm, "voicelink.active_sessions")
	if active == nil {
		t.Fatal("active_sessions not found")
	}
	sum, ok := active.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active_sessions = %+v; want 1", active.Data)
	}

	depth := findMetric(rm, "voicelink.decoder.queue_depth")
	if depth == nil {
		t.Fatal("decoder.queue_depth not found")
	}
	g, ok := depth.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) == 0 || g.DataPoints[0].Value != 0 {
		t.Errorf("queue_depth = %+v; want last value 0", depth.Data)
	}
}

func TestHandshakeDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.HandshakeDuration.Record(context.Background(), 42)

	rm := collect(t, reader)
	met := findMetric(rm, "voicelink.handshake.duration")
	if met == nil {
		t.Fatal("handshake.duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Sum != 42 {
		t.Errorf("sum = %v; want 42", hist.DataPoints[0].Sum)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Fatal("DefaultMetrics did not return a stable instance")
	}
}
