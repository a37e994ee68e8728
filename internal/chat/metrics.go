package chat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pricewatch.chat"

// Metrics holds the gateway's OpenTelemetry instruments
type Metrics struct {
	// Connection metrics
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram

	// Frame metrics
	framesReceived metric.Int64Counter
	frameErrors    metric.Int64Counter
	frameLatency   metric.Float64Histogram

	// Fan-out metrics
	broadcasts    metric.Int64Counter
	droppedFrames metric.Int64Counter

	historySize metric.Int64Gauge
}

// NewMetrics creates the gateway instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the gateway instruments on meter
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	connectionsTotal, err := meter.Int64Counter(
		"chat_connections_total",
		metric.WithDescription("Total number of admitted chat connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"chat_connections_active",
		metric.WithDescription("Number of currently admitted chat connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"chat_connection_duration_seconds",
		metric.WithDescription("Lifetime of chat connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	framesReceived, err := meter.Int64Counter(
		"chat_frames_received_total",
		metric.WithDescription("Inbound chat frames by type"),
	)
	if err != nil {
		return nil, err
	}

	frameErrors, err := meter.Int64Counter(
		"chat_frame_errors_total",
		metric.WithDescription("Inbound chat frames rejected, by error type"),
	)
	if err != nil {
		return nil, err
	}

	frameLatency, err := meter.Float64Histogram(
		"chat_frame_handling_seconds",
		metric.WithDescription("Time spent handling one inbound frame"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	broadcasts, err := meter.Int64Counter(
		"chat_broadcasts_total",
		metric.WithDescription("Broadcast operations by frame type"),
	)
	if err != nil {
		return nil, err
	}

	droppedFrames, err := meter.Int64Counter(
		"chat_dropped_frames_total",
		metric.WithDescription("Outbound frames dropped because a connection's queue was full"),
	)
	if err != nil {
		return nil, err
	}

	historySize, err := meter.Int64Gauge(
		"chat_history_size",
		metric.WithDescription("Messages currently held in the history window"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		framesReceived:     framesReceived,
		frameErrors:        frameErrors,
		frameLatency:       frameLatency,
		broadcasts:         broadcasts,
		droppedFrames:      droppedFrames,
		historySize:        historySize,
	}, nil
}

// A nil *Metrics records nothing, so every method checks its receiver.

// RecordConnection records an admitted connection
func (m *Metrics) RecordConnection(ctx context.Context, guest bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("guest", guest))
	m.connectionsTotal.Add(ctx, 1, attrs)
	m.connectionsActive.Add(ctx, 1, attrs)
}

// RecordDisconnection records a removed connection and how long it lived
func (m *Metrics) RecordDisconnection(ctx context.Context, guest bool, lifetime time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("guest", guest))
	m.connectionsActive.Add(ctx, -1, attrs)
	m.connectionDuration.Record(ctx, lifetime.Seconds(), attrs)
}

// RecordFrame records one handled inbound frame
func (m *Metrics) RecordFrame(ctx context.Context, frameType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("frame_type", frameType))
	m.framesReceived.Add(ctx, 1, attrs)
	m.frameLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordFrameError records a rejected inbound frame
func (m *Metrics) RecordFrameError(ctx context.Context, frameType, errorType string) {
	if m == nil {
		return
	}
	m.frameErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("frame_type", frameType),
		attribute.String("error_type", errorType),
	))
}

// RecordBroadcast records one fan-out and the frames it had to drop
func (m *Metrics) RecordBroadcast(ctx context.Context, frameType string, res BroadcastResult) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("frame_type", frameType))
	m.broadcasts.Add(ctx, 1, attrs)
	if res.Dropped > 0 {
		m.droppedFrames.Add(ctx, int64(res.Dropped), attrs)
	}
}

// RecordDroppedFrame records a single frame that could not be queued
func (m *Metrics) RecordDroppedFrame(ctx context.Context, frameType string) {
	if m == nil {
		return
	}
	m.droppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("frame_type", frameType)))
}

// RecordHistorySize records the current history length
func (m *Metrics) RecordHistorySize(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.historySize.Record(ctx, int64(size))
}
