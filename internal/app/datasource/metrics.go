package datasource

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/caseflow/internal/domain/datasource"
)

// Metrics records add-task outcomes.
type Metrics interface {
	RecordResult(ctx context.Context, kind string, result datasource.Result, duration time.Duration)
	IncCommits(ctx context.Context)
	IncReverts(ctx context.Context, failed bool)
}

var _ Metrics = (*otelMetrics)(nil)

type otelMetrics struct {
	results  metric.Int64Counter
	commits  metric.Int64Counter
	reverts  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics registers the add-task instruments with mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("caseflow.datasource")

	var (
		m   otelMetrics
		err error
	)
	if m.results, err = meter.Int64Counter("add_task_results_total",
		metric.WithDescription("Completed add tasks by outcome")); err != nil {
		return nil, fmt.Errorf("create results counter: %w", err)
	}
	if m.commits, err = meter.Int64Counter("add_task_commits_total",
		metric.WithDescription("Successful commits of added data sources")); err != nil {
		return nil, fmt.Errorf("create commits counter: %w", err)
	}
	if m.reverts, err = meter.Int64Counter("add_task_reverts_total",
		metric.WithDescription("Reverted add operations")); err != nil {
		return nil, fmt.Errorf("create reverts counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("add_task_duration_seconds",
		metric.WithDescription("Wall time of add tasks"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return &m, nil
}

func (m *otelMetrics) RecordResult(ctx context.Context, kind string, result datasource.Result, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result.String()),
	)
	m.results.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

func (m *otelMetrics) IncCommits(ctx context.Context) { m.commits.Add(ctx, 1) }

func (m *otelMetrics) IncReverts(ctx context.Context, failed bool) {
	m.reverts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("failed", failed)))
}
