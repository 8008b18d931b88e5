package manager

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const managerInstrumentationName = "github.com/embediq/backend/internal/manager"

type acquireResult string

const (
	acquireHit   acquireResult = "hit"
	acquireMiss  acquireResult = "miss"
	acquireError acquireResult = "error"
)

// Metrics holds instance manager metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	acquires  metric.Int64Counter
	evictions metric.Int64Counter
	creation  metric.Float64Histogram
	instances metric.Int64UpDownCounter
}

// NewMetrics creates a Metrics instance for manager operations.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(managerInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.acquires, err = m.meter.Int64Counter(
		"embediq.manager.acquires_total",
		metric.WithDescription("Total acquire calls by result (hit, miss, error)"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create acquires counter", zap.Error(err))
	}

	m.evictions, err = m.meter.Int64Counter(
		"embediq.manager.evictions_total",
		metric.WithDescription("Total instance evictions by reason (capacity, idle, explicit, shutdown)"),
		metric.WithUnit("{eviction}"),
	)
	if err != nil {
		m.logger.Warn("failed to create evictions counter", zap.Error(err))
	}

	m.creation, err = m.meter.Float64Histogram(
		"embediq.manager.creation_duration_seconds",
		metric.WithDescription("Duration of engine instance creation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create creation histogram", zap.Error(err))
	}

	m.instances, err = m.meter.Int64UpDownCounter(
		"embediq.manager.instances",
		metric.WithDescription("Number of live engine instances"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		m.logger.Warn("failed to create instances gauge", zap.Error(err))
	}
}

// RecordAcquire records one acquire call.
func (m *Metrics) RecordAcquire(ctx context.Context, result acquireResult) {
	if m.acquires != nil {
		m.acquires.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", string(result)),
		))
	}
}

// RecordEviction records one instance eviction.
func (m *Metrics) RecordEviction(ctx context.Context, reason EvictReason) {
	if m.evictions != nil {
		m.evictions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(reason)),
		))
	}
}

// RecordCreation records one factory creation attempt.
func (m *Metrics) RecordCreation(ctx context.Context, duration time.Duration, err error) {
	if m.creation != nil {
		m.creation.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.Bool("error", err != nil),
		))
	}
}

// RecordInstanceCount adjusts the live instance gauge.
func (m *Metrics) RecordInstanceCount(ctx context.Context, delta int64) {
	if m.instances != nil {
		m.instances.Add(ctx, delta)
	}
}
