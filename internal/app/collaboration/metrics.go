package collaboration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records collaboration monitor activity.
type Metrics interface {
	IncHeartbeats(ctx context.Context)
	IncSnapshotsPublished(ctx context.Context)
	IncPublishErrors(ctx context.Context)
	AddRemoteHosts(ctx context.Context, delta int64)
	IncStaleHostsPurged(ctx context.Context)
	RecordServiceStatus(ctx context.Context, service string, up bool)
}

var _ Metrics = (*otelMetrics)(nil)

type otelMetrics struct {
	heartbeats    metric.Int64Counter
	snapshots     metric.Int64Counter
	publishErrors metric.Int64Counter
	remoteHosts   metric.Int64UpDownCounter
	staleHosts    metric.Int64Counter
	serviceStatus metric.Int64Gauge
}

// NewMetrics registers the collaboration instruments with mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("caseflow.collaboration")

	var (
		m   otelMetrics
		err error
	)
	if m.heartbeats, err = meter.Int64Counter("collaboration_heartbeats_total",
		metric.WithDescription("Heartbeat ticks executed")); err != nil {
		return nil, fmt.Errorf("create heartbeats counter: %w", err)
	}
	if m.snapshots, err = meter.Int64Counter("collaboration_snapshots_published_total",
		metric.WithDescription("Task snapshots published to the case channel")); err != nil {
		return nil, fmt.Errorf("create snapshots counter: %w", err)
	}
	if m.publishErrors, err = meter.Int64Counter("collaboration_publish_errors_total",
		metric.WithDescription("Snapshots that failed to publish")); err != nil {
		return nil, fmt.Errorf("create publish errors counter: %w", err)
	}
	if m.remoteHosts, err = meter.Int64UpDownCounter("collaboration_remote_hosts",
		metric.WithDescription("Collaborating hosts currently tracked")); err != nil {
		return nil, fmt.Errorf("create remote hosts counter: %w", err)
	}
	if m.staleHosts, err = meter.Int64Counter("collaboration_stale_hosts_purged_total",
		metric.WithDescription("Hosts dropped after missing heartbeats")); err != nil {
		return nil, fmt.Errorf("create stale hosts counter: %w", err)
	}
	if m.serviceStatus, err = meter.Int64Gauge("collaboration_service_up",
		metric.WithDescription("1 when a collaboration service is reachable, 0 otherwise")); err != nil {
		return nil, fmt.Errorf("create service status gauge: %w", err)
	}
	return &m, nil
}

func (m *otelMetrics) IncHeartbeats(ctx context.Context)         { m.heartbeats.Add(ctx, 1) }
func (m *otelMetrics) IncSnapshotsPublished(ctx context.Context) { m.snapshots.Add(ctx, 1) }
func (m *otelMetrics) IncPublishErrors(ctx context.Context)      { m.publishErrors.Add(ctx, 1) }
func (m *otelMetrics) IncStaleHostsPurged(ctx context.Context)   { m.staleHosts.Add(ctx, 1) }

func (m *otelMetrics) AddRemoteHosts(ctx context.Context, delta int64) {
	m.remoteHosts.Add(ctx, delta)
}

func (m *otelMetrics) RecordServiceStatus(ctx context.Context, service string, up bool) {
	var v int64
	if up {
		v = 1
	}
	m.serviceStatus.Record(ctx, v, metric.WithAttributes(attribute.String("service", service)))
}
