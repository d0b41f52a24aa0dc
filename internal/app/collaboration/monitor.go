// Package collaboration shares this node's in-progress work with the other
// examiner nodes working on the same case and shows their work locally.
package collaboration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
	"github.com/ahrav/caseflow/pkg/common/timeutil"
)

// Config controls the monitor's identity and schedule.
type Config struct {
	// HostName identifies this node in every snapshot it sends.
	HostName string
	// ChannelPrefix is the case-specific prefix of the broadcast channel name.
	ChannelPrefix string

	HeartbeatInterval    time.Duration
	MaxMissedHeartbeats  int
	StaleSweepInterval   time.Duration
	ServiceCheckInterval time.Duration
	// TerminationWait bounds how long Shutdown waits for the periodic tasks.
	TerminationWait time.Duration
}

// DefaultConfig returns the reference schedule for hostName and prefix.
func DefaultConfig(hostName, prefix string) Config {
	return Config{
		HostName:             hostName,
		ChannelPrefix:        prefix,
		HeartbeatInterval:    time.Minute,
		MaxMissedHeartbeats:  5,
		StaleSweepInterval:   2 * time.Minute,
		ServiceCheckInterval: 5 * time.Minute,
		TerminationWait:      30 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.HostName == "":
		return errors.New("host name is required")
	case c.ChannelPrefix == "":
		return errors.New("channel prefix is required")
	case c.HeartbeatInterval <= 0:
		return errors.New("heartbeat interval must be positive")
	case c.MaxMissedHeartbeats <= 0:
		return errors.New("max missed heartbeats must be positive")
	case c.StaleSweepInterval <= 0:
		return errors.New("stale sweep interval must be positive")
	case c.ServiceCheckInterval <= 0:
		return errors.New("service check interval must be positive")
	case c.TerminationWait <= 0:
		return errors.New("termination wait must be positive")
	}
	return nil
}

// StaleThreshold is how long a host may stay silent before it is dropped.
func (c Config) StaleThreshold() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MaxMissedHeartbeats)
}

// Deps are the monitor's collaborators. Channels and Indicators are required.
type Deps struct {
	Channels collaboration.ChannelOpener
	// LocalEvents carries this node's case and analysis lifecycle events.
	LocalEvents events.EventBus
	Indicators  collaboration.IndicatorFactory
	Checkers    []collaboration.ServiceChecker

	Logger       *logger.Logger
	Tracer       trace.Tracer
	Metrics      Metrics
	TimeProvider timeutil.Provider
}

// Monitor is the collaboration monitor for one open case.
type Monitor struct {
	cfg     Config
	channel events.EventBus

	local    *LocalTaskRegistry
	remote   *RemoteTaskRegistry
	services *ServiceMonitor

	cancelSubs    context.CancelFunc
	stopScheduler context.CancelFunc
	schedulerDone chan struct{}

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	timeProvider timeutil.Provider
	metrics      Metrics
	tracer       trace.Tracer
	logger       *logger.Logger
}

// Open opens the case channel, wires the registries to it and starts the
// periodic heartbeat, staleness sweep and service checks. The monitor runs
// until Shutdown; ctx only bounds the setup.
func Open(ctx context.Context, cfg Config, deps Deps) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &collaboration.MonitorError{Op: "validate config", Err: err}
	}
	if deps.Channels == nil || deps.Indicators == nil {
		return nil, &collaboration.MonitorError{Op: "validate deps", Err: errors.New("channel opener and indicator factory are required")}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Noop()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer("collaboration")
	}
	if deps.Metrics == nil {
		m, err := NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, &collaboration.MonitorError{Op: "create metrics", Err: err}
		}
		deps.Metrics = m
	}
	if deps.TimeProvider == nil {
		deps.TimeProvider = timeutil.Default()
	}

	log := deps.Logger.With("component", "collaboration_monitor", "host", cfg.HostName)
	name := collaboration.ChannelName(cfg.ChannelPrefix)

	ctx, span := deps.Tracer.Start(ctx, "collaboration_monitor.open",
		trace.WithAttributes(attribute.String("channel", name)))
	defer span.End()

	channel, err := deps.Channels.OpenChannel(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open channel failed")
		return nil, &collaboration.MonitorError{Op: "open channel " + name, Err: err}
	}

	m := &Monitor{
		cfg:          cfg,
		channel:      channel,
		timeProvider: deps.TimeProvider,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		logger:       log,
	}
	m.remote = NewRemoteTaskRegistry(cfg.HostName, deps.Indicators, cfg.StaleThreshold(),
		deps.TimeProvider, deps.Metrics, deps.Tracer, log)
	m.local = NewLocalTaskRegistry(cfg.HostName, m.publishSnapshot, log)
	m.services = NewServiceMonitor(deps.Checkers, deps.Metrics, log)

	subCtx, cancelSubs := context.WithCancel(context.WithoutCancel(ctx))
	m.cancelSubs = cancelSubs

	err = channel.Subscribe(subCtx, []events.EventType{collaboration.EventTypeCollaborationMonitor}, m.remote.HandleEvent)
	if err != nil {
		cancelSubs()
		_ = channel.Close()
		span.RecordError(err)
		return nil, &collaboration.MonitorError{Op: "subscribe to channel", Err: err}
	}
	if deps.LocalEvents != nil {
		if err := deps.LocalEvents.Subscribe(subCtx, LocalEventTypes, m.local.HandleEvent); err != nil {
			cancelSubs()
			_ = channel.Close()
			span.RecordError(err)
			return nil, &collaboration.MonitorError{Op: "subscribe to local events", Err: err}
		}
	}

	m.startScheduler(context.WithoutCancel(ctx), len(deps.Checkers) > 0)
	log.Info(ctx, "Collaboration monitor started",
		"channel", name,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"stale_threshold", cfg.StaleThreshold(),
	)
	return m, nil
}

// startScheduler runs every periodic task in its own goroutine under one
// errgroup. The tasks stop when Shutdown cancels the group's context.
func (m *Monitor) startScheduler(parent context.Context, checkServices bool) {
	ctx, cancel := context.WithCancel(parent)
	m.stopScheduler = cancel
	m.schedulerDone = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.every(gctx, "heartbeat", m.cfg.HeartbeatInterval, func(ctx context.Context) {
			if err := m.Heartbeat(ctx); err != nil && !errors.Is(err, collaboration.ErrMonitorClosed) {
				m.logger.Warn(ctx, "Heartbeat failed", "error", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		m.every(gctx, "stale_sweep", m.cfg.StaleSweepInterval, func(ctx context.Context) {
			m.remote.FinishStaleTasks(ctx)
		})
		return nil
	})
	if checkServices {
		g.Go(func() error {
			m.every(gctx, "service_check", m.cfg.ServiceCheckInterval, func(ctx context.Context) {
				m.services.CheckAll(ctx)
			})
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(m.schedulerDone)
	}()
}

// every runs fn at a fixed interval until ctx is done. A panic inside fn is
// logged and the schedule continues.
func (m *Monitor) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug(ctx, "Periodic task stopped", "task", name)
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.logger.Error(ctx, "Periodic task panicked", "task", name, "panic", r)
					}
				}()
				fn(ctx)
			}()
		}
	}
}

// Heartbeat publishes the current local snapshot, even when it is unchanged,
// so nodes that joined mid-task learn about work already running.
func (m *Monitor) Heartbeat(ctx context.Context) error {
	if m.closed.Load() {
		return collaboration.ErrMonitorClosed
	}
	ctx, span := m.tracer.Start(ctx, "collaboration_monitor.heartbeat")
	defer span.End()

	m.metrics.IncHeartbeats(ctx)
	m.local.Broadcast(ctx)
	return nil
}

// publishSnapshot sends tasks on the case channel. Failures are logged only;
// the next change or heartbeat sends a complete snapshot again.
func (m *Monitor) publishSnapshot(ctx context.Context, tasks collaboration.TaskSnapshot) {
	if m.closed.Load() {
		return
	}

	evt := collaboration.NewCollaborationEvent(m.cfg.HostName, tasks)
	env := events.EventEnvelope{
		Type:      collaboration.EventTypeCollaborationMonitor,
		Key:       m.cfg.HostName,
		Timestamp: m.timeProvider.Now(),
		Payload:   evt,
	}
	if err := m.channel.Publish(ctx, env, events.WithKey(m.cfg.HostName)); err != nil {
		m.metrics.IncPublishErrors(ctx)
		m.logger.Warn(ctx, "Failed to publish task snapshot", "task_count", len(tasks), "error", err)
		return
	}
	m.metrics.IncSnapshotsPublished(ctx)
	m.logger.Debug(ctx, "Published task snapshot", "task_ids", tasks.IDs())
}

// LocalTasks returns this node's current task snapshot.
func (m *Monitor) LocalTasks() collaboration.TaskSnapshot { return m.local.CurrentTasks() }

// RemoteHosts returns the collaborating hosts currently tracked.
func (m *Monitor) RemoteHosts() []string { return m.remote.Hosts() }

// RemoteTaskCount returns how many of host's tasks are being displayed.
func (m *Monitor) RemoteTaskCount(host string) int { return m.remote.TaskCount(host) }

// ServiceStatus reports the last observed availability of each service.
func (m *Monitor) ServiceStatus() map[string]bool { return m.services.Status() }

// Local exposes the local registry so callers can feed it events directly
// when no local event bus is configured.
func (m *Monitor) Local() *LocalTaskRegistry { return m.local }

// Shutdown stops the periodic tasks, detaches from the local events and the
// case channel, and finishes every remote indicator. It waits at most
// TerminationWait (or until ctx is done) for the periodic tasks and then
// continues regardless. Only the first call does any work.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.closed.Store(true)
		m.stopScheduler()

		timer := time.NewTimer(m.cfg.TerminationWait)
		defer timer.Stop()
		select {
		case <-m.schedulerDone:
		case <-timer.C:
			m.logger.Warn(ctx, "Periodic tasks did not stop in time, continuing shutdown",
				"wait", m.cfg.TerminationWait)
		case <-ctx.Done():
			m.logger.Warn(ctx, "Shutdown context done before periodic tasks stopped", "error", ctx.Err())
		}

		m.cancelSubs()

		if err := m.channel.Close(); err != nil {
			m.shutdownErr = fmt.Errorf("close channel: %w", err)
		}
		m.remote.Shutdown(ctx)
		m.logger.Info(ctx, "Collaboration monitor stopped")
	})
	return m.shutdownErr
}
