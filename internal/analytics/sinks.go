package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ========== Log sink ==========

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("name", ev.Name),
	}
	if ev.Kind == KindTiming {
		fields = append(fields, zap.Duration("duration", ev.Duration))
	}
	if len(ev.Props) > 0 {
		fields = append(fields, zap.Any("props", ev.Props))
	}
	s.logger.Info("analytics", fields...)
	return nil
}

// ========== Metrics sink ==========

// MetricsSink counts events and observes timings.
type MetricsSink struct {
	events  *prometheus.CounterVec
	timings *prometheus.HistogramVec
}

func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "condo_session",
				Name:      "events_total",
				Help:      "Session lifecycle events.",
			},
			[]string{"name"},
		),
		timings: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "condo_session",
				Name:      "operation_duration_seconds",
				Help:      "Session operation latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name"},
		),
	}
	for _, c := range []prometheus.Collector{s.events, s.timings} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register analytics metrics: %w", err)
		}
	}
	return s, nil
}

func (s *MetricsSink) Emit(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindTiming:
		s.timings.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
	default:
		s.events.WithLabelValues(ev.Name).Inc()
	}
	return nil
}

// ========== Redis stream sink ==========

// StreamAdder is the slice of a redis client the stream sink needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamSink appends events to a capped redis stream.
type StreamSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewStreamSink(client StreamAdder, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Emit(ctx context.Context, ev Event) error {
	values := map[string]interface{}{
		"id":        ev.ID,
		"kind":      string(ev.Kind),
		"name":      ev.Name,
		"timestamp": ev.Timestamp.UnixMilli(),
	}
	if ev.Kind == KindTiming {
		values["duration_ms"] = ev.Duration.Milliseconds()
	}
	if len(ev.Props) > 0 {
		raw, err := json.Marshal(ev.Props)
		if err != nil {
			return fmt.Errorf("failed to marshal props: %w", err)
		}
		values["props"] = string(raw)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}
