package collaboration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
	"github.com/ahrav/caseflow/pkg/common/timeutil"
)

// remoteTasks is the set of indicators shown for one collaborating host.
type remoteTasks struct {
	lastUpdate time.Time
	indicators map[int64]collaboration.ProgressIndicator
}

// RemoteTaskRegistry mirrors the task snapshots of other nodes as local
// progress indicators and forgets hosts that stop sending them.
type RemoteTaskRegistry struct {
	localHost  string
	factory    collaboration.IndicatorFactory
	staleAfter time.Duration

	mu    sync.Mutex
	hosts map[string]*remoteTasks

	timeProvider timeutil.Provider
	metrics      Metrics
	tracer       trace.Tracer
	logger       *logger.Logger
}

// NewRemoteTaskRegistry creates a registry that treats a host as gone once
// staleAfter passes without a snapshot from it.
func NewRemoteTaskRegistry(
	localHost string,
	factory collaboration.IndicatorFactory,
	staleAfter time.Duration,
	timeProvider timeutil.Provider,
	metrics Metrics,
	tracer trace.Tracer,
	log *logger.Logger,
) *RemoteTaskRegistry {
	return &RemoteTaskRegistry{
		localHost:    localHost,
		factory:      factory,
		staleAfter:   staleAfter,
		hosts:        make(map[string]*remoteTasks),
		timeProvider: timeProvider,
		metrics:      metrics,
		tracer:       tracer,
		logger:       log.With("component", "remote_task_registry"),
	}
}

// HandleEvent reconciles a CollaborationEvent received from the case channel.
// Snapshots sent by this node are ignored.
func (r *RemoteTaskRegistry) HandleEvent(ctx context.Context, evt events.EventEnvelope) error {
	var ce collaboration.CollaborationEvent
	switch p := evt.Payload.(type) {
	case collaboration.CollaborationEvent:
		ce = p
	case *collaboration.CollaborationEvent:
		if p == nil {
			return errors.New("nil collaboration event")
		}
		ce = *p
	default:
		return fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
	}

	if ce.HostName == "" {
		r.logger.Warn(ctx, "Dropping collaboration event without host name")
		return nil
	}
	if ce.HostName == r.localHost {
		return nil
	}
	r.Apply(ctx, ce)
	return nil
}

// Apply reconciles the indicators for evt.HostName against its snapshot.
// Tasks missing from the snapshot are finished; absence is the only
// completion signal a remote node sends.
func (r *RemoteTaskRegistry) Apply(ctx context.Context, evt collaboration.CollaborationEvent) {
	_, span := r.tracer.Start(ctx, "remote_task_registry.apply",
		trace.WithAttributes(
			attribute.String("host", evt.HostName),
			attribute.Int("task_count", len(evt.Tasks)),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[evt.HostName]
	if !ok {
		host = &remoteTasks{indicators: make(map[int64]collaboration.ProgressIndicator)}
		r.hosts[evt.HostName] = host
		r.metrics.AddRemoteHosts(ctx, 1)
		r.logger.Info(ctx, "Tracking collaborating host", "host", evt.HostName)
	}
	host.lastUpdate = r.timeProvider.Now()

	for _, id := range evt.Tasks.IDs() {
		task := evt.Tasks[id]
		if ind, ok := host.indicators[id]; ok {
			r.safely(ctx, evt.HostName, func() { ind.Progress(task.Status) })
			continue
		}
		ind := r.factory.NewIndicator(evt.HostName)
		r.safely(ctx, evt.HostName, func() { ind.Start(task.Status) })
		host.indicators[id] = ind
	}

	for id, ind := range host.indicators {
		if _, ok := evt.Tasks[id]; ok {
			continue
		}
		r.safely(ctx, evt.HostName, ind.Finish)
		delete(host.indicators, id)
	}
}

// FinishStaleTasks drops every host whose last snapshot is at least the
// staleness threshold old, finishing its indicators. It returns the hosts
// dropped.
func (r *RemoteTaskRegistry) FinishStaleTasks(ctx context.Context) []string {
	now := r.timeProvider.Now()
	ctx, span := r.tracer.Start(ctx, "remote_task_registry.finish_stale_tasks",
		trace.WithAttributes(attribute.String("threshold", r.staleAfter.String())))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for name, host := range r.hosts {
		if now.Sub(host.lastUpdate) < r.staleAfter {
			continue
		}
		logr := logger.NewLoggerContext(r.logger)
		logr.Add("host", name, "last_update", host.lastUpdate, "open_tasks", len(host.indicators))
		logr.Warn(ctx, "Collaborating host stopped sending heartbeats")
		r.finishAllLocked(ctx, name, host)
		logr.Info(ctx, "Stale host purged", "silent_for", now.Sub(host.lastUpdate))
		delete(r.hosts, name)
		r.metrics.AddRemoteHosts(ctx, -1)
		r.metrics.IncStaleHostsPurged(ctx)
		stale = append(stale, name)
	}
	span.SetAttributes(attribute.Int("stale_hosts", len(stale)))
	slices.Sort(stale)
	return stale
}

// Shutdown finishes every indicator for every host and forgets them all.
func (r *RemoteTaskRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, host := range r.hosts {
		r.finishAllLocked(ctx, name, host)
		r.metrics.AddRemoteHosts(ctx, -1)
	}
	clear(r.hosts)
}

// Hosts returns the tracked host names in sorted order.
func (r *RemoteTaskRegistry) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.hosts))
	for name := range r.hosts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TaskCount returns how many indicators are open for host.
func (r *RemoteTaskRegistry) TaskCount(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[host]; ok {
		return len(h.indicators)
	}
	return 0
}

func (r *RemoteTaskRegistry) finishAllLocked(ctx context.Context, name string, host *remoteTasks) {
	for id, ind := range host.indicators {
		r.safely(ctx, name, ind.Finish)
		delete(host.indicators, id)
	}
}

// safely runs an indicator call. A panicking indicator is logged so one bad
// renderer cannot stop event delivery or the periodic sweeps.
func (r *RemoteTaskRegistry) safely(ctx context.Context, host string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn(ctx, "Progress indicator failed", "host", host, "panic", rec)
		}
	}()
	fn()
}
