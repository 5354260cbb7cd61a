// Package observe provides observability primitives for lingobridge:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed via
// a Prometheus exporter bridge installed by [InitProvider]. [Metrics]
// implements [bridge.Recorder], so it can be handed straight to the session
// controller. Tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lingobridge/pkg/bridge"
)

// meterName is the instrumentation scope name used for all lingobridge metrics.
const meterName = "github.com/MrWong99/lingobridge"

// Metrics holds the OpenTelemetry instruments for the bridge. All fields are
// safe for concurrent use.
type Metrics struct {
	// --- Capture / transport ---

	// FramesSent counts frames handed to the websocket writer.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound frames that were discarded. Use with
	// attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// CaptureConvertDuration tracks the time spent converting one device
	// buffer to the wire format.
	CaptureConvertDuration metric.Float64Histogram

	// --- Playback ---

	// PayloadsScheduled counts inbound payloads placed on the output timeline.
	PayloadsScheduled metric.Int64Counter

	// PlaybackBuffered tracks how much audio is queued ahead of the device
	// clock right after each payload is scheduled.
	PlaybackBuffered metric.Float64Histogram

	// DecodeErrors counts inbound payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// Underruns counts payloads that arrived after the schedule ran dry.
	Underruns metric.Int64Counter

	// --- Session ---

	// ConnectDuration tracks how long Connect took. Use with
	// attribute.String("status", "ok"|"error").
	ConnectDuration metric.Float64Histogram

	// ActiveSessions tracks the number of open websocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes method and path.
	HTTPRequestDuration metric.Float64Histogram
}

var _ bridge.Recorder = (*Metrics)(nil)

// latencyBuckets are histogram boundaries in seconds, sized for audio work
// measured in milliseconds up to multi-second connects.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// bufferBuckets are histogram boundaries in seconds for queued playback.
var bufferBuckets = []float64{
	0, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("lingobridge.frames.sent",
		metric.WithDescription("Total audio frames written to the remote session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("lingobridge.frames.dropped",
		metric.WithDescription("Total outbound audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.PayloadsScheduled, err = m.Int64Counter("lingobridge.payloads.scheduled",
		metric.WithDescription("Total inbound audio payloads scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("lingobridge.payloads.decode_errors",
		metric.WithDescription("Total inbound audio payloads that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("lingobridge.playback.underruns",
		metric.WithDescription("Total playback underruns."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.CaptureConvertDuration, err = m.Float64Histogram("lingobridge.capture.convert.duration",
		metric.WithDescription("Time spent converting one captured buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBuffered, err = m.Float64Histogram("lingobridge.playback.buffered",
		metric.WithDescription("Audio queued ahead of the output clock after scheduling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(bufferBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("lingobridge.connect.duration",
		metric.WithDescription("Latency of establishing the remote session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lingobridge.sessions.active",
		metric.WithDescription("Number of open remote sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingobridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the Prometheus exporter.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// ── bridge.Recorder ──────────────────────────────────────────────────────────

// FrameSent implements [bridge.Recorder].
func (m *Metrics) FrameSent() {
	m.FramesSent.Add(context.Background(), 1)
}

// FrameDropped implements [bridge.Recorder].
func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// PayloadScheduled implements [bridge.Recorder].
func (m *Metrics) PayloadScheduled(buffered time.Duration) {
	m.PayloadsScheduled.Add(context.Background(), 1)
	m.PlaybackBuffered.Record(context.Background(), buffered.Seconds())
}

// PayloadDecodeError implements [bridge.Recorder].
func (m *Metrics) PayloadDecodeError() {
	m.DecodeErrors.Add(context.Background(), 1)
}

// PlaybackUnderrun implements [bridge.Recorder].
func (m *Metrics) PlaybackUnderrun() {
	m.Underruns.Add(context.Background(), 1)
}

// ConnectFinished implements [bridge.Recorder].
func (m *Metrics) ConnectFinished(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ConnectDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// CaptureConverted implements [bridge.Recorder].
func (m *Metrics) CaptureConverted(d time.Duration) {
	m.CaptureConvertDuration.Record(context.Background(), d.Seconds())
}

// SessionOpened implements [bridge.Recorder].
func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Add(context.Background(), 1)
}

// SessionClosed implements [bridge.Recorder].
func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Add(context.Background(), -1)
}
