// Package observe holds voicelink's observability primitives: the latency
// sample windows, OpenTelemetry instruments, tracing helpers and the HTTP
// middleware of the debug server.
//
// Metrics go through the OpenTelemetry Metrics API and are scraped from
// /metrics through the Prometheus bridge set up by [InitProvider]. Tests
// should build their own [Metrics] with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every voicelink instrument.
const meterName = "github.com/MrWong99/voicelink"

// Metrics holds the application's instruments. The OTel types synchronise
// themselves; a *Metrics may be shared freely.
type Metrics struct {
	// CaptureToText, TextToResponse and ResponseToAudio observe the three
	// conversational latency stages, see [Stage].
	CaptureToText   metric.Float64Histogram
	TextToResponse  metric.Float64Histogram
	ResponseToAudio metric.Float64Histogram

	// HandshakeDuration is the time from transport open to the handshake frame.
	HandshakeDuration metric.Float64Histogram

	// FramesReceived counts inbound messages. Attribute: kind.
	FramesReceived metric.Int64Counter

	// FramesSent counts outbound messages. Attribute: kind.
	FramesSent metric.Int64Counter

	// DroppedFrames counts malformed and unknown inbound frames. Attribute: kind.
	DroppedFrames metric.Int64Counter

	// ProviderRequests counts recognizer stream openings. Attributes: provider, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts recognizer failures. Attribute: provider.
	ProviderErrors metric.Int64Counter

	// ActiveSessions is the number of sessions between connect and close.
	ActiveSessions metric.Int64UpDownCounter

	// DecoderQueueDepth is the number of pages held back during decoder warm-up.
	DecoderQueueDepth metric.Int64Gauge

	// HTTPRequestDuration observes debug server requests. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for conversational latency.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// handshakeBuckets cover a warm-up that may take minutes on a cold remote model.
var handshakeBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	stageHist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.CaptureToText, err = stageHist("voicelink.latency.capture_to_text",
		"Time from the first recognised fragment to the committed user turn."); err != nil {
		return nil, err
	}
	if met.TextToResponse, err = stageHist("voicelink.latency.text_to_response",
		"Time from a committed user turn to the first remote text token."); err != nil {
		return nil, err
	}
	if met.ResponseToAudio, err = stageHist("voicelink.latency.response_to_audio",
		"Time from the first remote text token to the first remote audio frame."); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("voicelink.handshake.duration",
		metric.WithDescription("Time from transport open to the handshake frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(handshakeBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesReceived, err = m.Int64Counter("voicelink.frames.received",
		metric.WithDescription("Inbound WebSocket messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voicelink.frames.sent",
		metric.WithDescription("Outbound WebSocket messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voicelink.frames.dropped",
		metric.WithDescription("Malformed or unknown inbound frames."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicelink.provider.requests",
		metric.WithDescription("Recognizer stream openings by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicelink.provider.errors",
		metric.WithDescription("Recognizer errors by provider."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelink.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.DecoderQueueDepth, err = m.Int64Gauge("voicelink.decoder.queue_depth",
		metric.WithDescription("Ogg pages waiting for decoder warm-up."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicelink.http.request.duration",
		metric.WithDescription("Debug server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. It panics if instrument creation fails, which does not
// happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage observes d on the histogram of stage.
func (m *Metrics) RecordStage(ctx context.Context, stage Stage, d time.Duration) {
	var h metric.Float64Histogram
	switch stage {
	case StageCaptureToText:
		h = m.CaptureToText
	case StageTextToResponse:
		h = m.TextToResponse
	case StageResponseToAudio:
		h = m.ResponseToAudio
	default:
		return
	}
	h.Record(ctx, d.Seconds())
}

// RecordFrameReceived counts one inbound message of kind.
func (m *Metrics) RecordFrameReceived(ctx context.Context, kind string) {
	m.FramesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFrameSent counts one outbound message of kind.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDroppedFrame counts one discarded inbound frame of kind.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, kind string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordProviderRequest counts one recognizer stream opening.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one recognizer error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
