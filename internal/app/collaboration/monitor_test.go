package collaboration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/caseflow/internal/domain/analysis"
	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/internal/infra/eventbus/memory"
	"github.com/ahrav/caseflow/internal/infra/eventbus/serialization"
	"github.com/ahrav/caseflow/pkg/common/logger"
	"github.com/ahrav/caseflow/pkg/common/timeutil"
)

type node struct {
	monitor    *Monitor
	publisher  events.DomainEventPublisher
	indicators *fakeIndicatorFactory
}

func testConfig(host string) Config {
	cfg := DefaultConfig(host, "case-7")
	cfg.TerminationWait = time.Second
	return cfg
}

func openNode(t *testing.T, hub *memory.Hub, cfg Config, clock timeutil.Provider, checkers ...collaboration.ServiceChecker) *node {
	t.Helper()
	ctx := context.Background()

	localHub := memory.NewHub()
	localBus, err := localHub.Open(ctx, "local-"+cfg.HostName)
	require.NoError(t, err)

	n := &node{publisher: events.NewBusPublisher(localBus), indicators: new(fakeIndicatorFactory)}
	n.monitor, err = Open(ctx, cfg, Deps{
		Channels:     hub,
		LocalEvents:  localBus,
		Indicators:   n.indicators,
		Checkers:     checkers,
		Logger:       logger.Noop(),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.monitor.Shutdown(context.Background()) })
	return n
}

func TestMonitor_TwoNodesShareTasks(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.WithCodec(serialization.Codec{}))
	clock := timeutil.NewMock(time.Now().UTC())

	a := openNode(t, hub, testConfig("node-a"), clock)
	b := openNode(t, hub, testConfig("node-b"), clock)
	assert.Equal(t, 2, hub.Members(collaboration.ChannelName("case-7")))

	id := uuid.New()
	require.NoError(t, a.publisher.PublishDomainEvent(ctx, datasource.NewAddingDataSourceEvent(id)))
	require.NoError(t, a.publisher.PublishDomainEvent(ctx, analysis.NewDataSourceAnalysisStartedEvent(3, "usb.img")))

	assert.Len(t, a.monitor.LocalTasks(), 2)
	assert.Equal(t, []string{"node-a"}, b.monitor.RemoteHosts())
	assert.Empty(t, a.monitor.RemoteHosts(), "a node never tracks itself")
	assert.Equal(t, 2, b.monitor.remote.TaskCount("node-a"))

	require.NoError(t, a.publisher.PublishDomainEvent(ctx, datasource.NewDataSourceAddedEvent(datasource.DataSource{ID: id})))
	assert.Equal(t, 1, b.monitor.remote.TaskCount("node-a"))
	assert.Equal(t, 1, b.indicators.open())
}

func TestMonitor_HeartbeatAnnouncesRunningWorkToLateJoiner(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.WithCodec(serialization.Codec{}))
	clock := timeutil.NewMock(time.Now().UTC())

	a := openNode(t, hub, testConfig("node-a"), clock)
	require.NoError(t, a.publisher.PublishDomainEvent(ctx, datasource.NewAddingDataSourceEvent(uuid.New())))

	late := openNode(t, hub, testConfig("node-late"), clock)
	assert.Empty(t, late.monitor.RemoteHosts())

	require.NoError(t, a.monitor.Heartbeat(ctx))
	assert.Equal(t, []string{"node-a"}, late.monitor.RemoteHosts())
	assert.Equal(t, 1, late.monitor.remote.TaskCount("node-a"))
}

func TestMonitor_SilentNodeIsPurged(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.WithCodec(serialization.Codec{}))
	clock := timeutil.NewMock(time.Now().UTC())

	a := openNode(t, hub, testConfig("node-a"), clock)
	b := openNode(t, hub, testConfig("node-b"), clock)

	require.NoError(t, a.publisher.PublishDomainEvent(ctx, datasource.NewAddingDataSourceEvent(uuid.New())))
	require.Equal(t, []string{"node-a"}, b.monitor.RemoteHosts())

	// node-a crashes: it never sends another snapshot.
	clock.Advance(5*time.Minute + time.Second)
	assert.Equal(t, []string{"node-a"}, b.monitor.remote.FinishStaleTasks(ctx))
	assert.Empty(t, b.monitor.RemoteHosts())
	assert.Zero(t, b.indicators.open())
}

func TestMonitor_PeriodicHeartbeat(t *testing.T) {
	hub := memory.NewHub(memory.WithCodec(serialization.Codec{}))
	cfg := testConfig("node-a")
	cfg.HeartbeatInterval = 5 * time.Millisecond

	openNode(t, hub, cfg, timeutil.Default())
	b := openNode(t, hub, testConfig("node-b"), timeutil.Default())

	require.Eventually(t, func() bool {
		return len(b.monitor.RemoteHosts()) == 1
	}, 2*time.Second, 5*time.Millisecond, "heartbeat from node-a never arrived")
}

func TestMonitor_ShutdownIsIdempotentAndBounded(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.WithCodec(serialization.Codec{}))
	clock := timeutil.NewMock(time.Now().UTC())

	a := openNode(t, hub, testConfig("node-a"), clock)
	b := openNode(t, hub, testConfig("node-b"), clock)
	require.NoError(t, a.publisher.PublishDomainEvent(ctx, datasource.NewAddingDataSourceEvent(uuid.New())))
	require.Equal(t, 1, b.indicators.open())

	start := time.Now()
	require.NoError(t, b.monitor.Shutdown(ctx))
	require.NoError(t, b.monitor.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)

	assert.Zero(t, b.indicators.open(), "shutdown finishes every remote indicator")
	assert.Empty(t, b.monitor.RemoteHosts())
	assert.Equal(t, 1, hub.Members(collaboration.ChannelName("case-7")))
	assert.ErrorIs(t, b.monitor.Heartbeat(ctx), collaboration.ErrMonitorClosed)

	// Events published after b left no longer reach it.
	require.NoError(t, a.monitor.Heartbeat(ctx))
	assert.Empty(t, b.monitor.RemoteHosts())
}

type failingOpener struct{ err error }

func (f failingOpener) OpenChannel(context.Context, string) (events.EventBus, error) { return nil, f.err }

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	brokerDown := errors.New("broker unreachable")

	tests := []struct {
		name    string
		cfg     Config
		deps    Deps
		wantErr error
	}{
		{
			name: "invalid config",
			cfg:  Config{HostName: "h"},
			deps: Deps{Channels: memory.NewHub(), Indicators: new(fakeIndicatorFactory)},
		},
		{
			name: "missing deps",
			cfg:  testConfig("h"),
		},
		{
			name:    "channel unavailable",
			cfg:     testConfig("h"),
			deps:    Deps{Channels: failingOpener{err: brokerDown}, Indicators: new(fakeIndicatorFactory)},
			wantErr: brokerDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Open(ctx, tt.cfg, tt.deps)
			require.Error(t, err)
			assert.Nil(t, m)

			var merr *collaboration.MonitorError
			assert.ErrorAs(t, err, &merr)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig("h", "p")
	require.NoError(t, valid.Validate())
	assert.Equal(t, 5*time.Minute, valid.StaleThreshold())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host", func(c *Config) { c.HostName = "" }},
		{"no prefix", func(c *Config) { c.ChannelPrefix = "" }},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"zero missed", func(c *Config) { c.MaxMissedHeartbeats = 0 }},
		{"negative sweep", func(c *Config) { c.StaleSweepInterval = -time.Second }},
		{"zero service check", func(c *Config) { c.ServiceCheckInterval = 0 }},
		{"zero wait", func(c *Config) { c.TerminationWait = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
