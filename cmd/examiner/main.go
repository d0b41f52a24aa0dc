package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/caseflow/internal/api/status"
	collabapp "github.com/ahrav/caseflow/internal/app/collaboration"
	"github.com/ahrav/caseflow/internal/config"
	"github.com/ahrav/caseflow/internal/config/fileloader"
	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/infra/eventbus/kafka"
	"github.com/ahrav/caseflow/internal/infra/eventbus/memory"
	"github.com/ahrav/caseflow/internal/infra/eventbus/serialization"
	"github.com/ahrav/caseflow/internal/infra/progress"
	"github.com/ahrav/caseflow/internal/infra/storage"
	memstore "github.com/ahrav/caseflow/internal/infra/storage/memory"
	"github.com/ahrav/caseflow/internal/infra/storage/postgres"
	"github.com/ahrav/caseflow/pkg/common"
	"github.com/ahrav/caseflow/pkg/common/logger"
	"github.com/ahrav/caseflow/pkg/common/otel"
)

const serviceType = "examiner"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "examiner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_, _ = maxprocs.Set()

	configPath := flag.String("config", "", "path to the examiner configuration file")
	fileOnly := flag.Bool("file-only", false, "read the configuration file only, ignoring CASEFLOW_* environment variables")
	flag.Parse()

	var loader config.Loader = config.NewViperLoader(*configPath)
	if *fileOnly {
		loader = fileloader.NewFileLoader(*configPath)
	}
	cfg, err := loader.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hostName := cfg.Node.HostName
	log := newLogger(cfg, hostName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, mp, teardown, err := initTelemetry(log, cfg, hostName)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer teardown(context.Background())
	tracer := tp.Tracer(cfg.Telemetry.ServiceName)

	ready := &atomic.Bool{}
	healthServer, err := common.NewHealthServer(cfg.Health.Addr, ready, log)
	if err != nil {
		return fmt.Errorf("create health server: %w", err)
	}

	var checkers []collaboration.ServiceChecker

	var database datasource.CaseDatabase = memstore.NewDataSourceStore()
	if cfg.Postgres.DSN != "" {
		pool, err := connectPostgres(ctx, cfg.Postgres, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := storage.MigrateUp(pool, cfg.Postgres.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info(ctx, "Migrations applied successfully")

		database = postgres.NewDataSourceStore(pool, tracer)
		checkers = append(checkers, postgres.NewHealthChecker(pool))
	} else {
		log.Warn(ctx, "No case database configured, data sources are kept in memory")
	}

	var channels collaboration.ChannelOpener
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: fmt.Sprintf("%s-%s", cfg.Kafka.ClientID, hostName),
			HostName: hostName,
		}, log)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer client.Close()

		busMetrics, err := kafka.NewMetrics(mp)
		if err != nil {
			return fmt.Errorf("create kafka metrics: %w", err)
		}
		channels = kafka.NewDialer(client, hostName, serialization.Codec{}, log, busMetrics, tracer)
		checkers = append(checkers, kafka.NewHealthChecker(client))
	} else {
		log.Warn(ctx, "No brokers configured, collaboration is limited to this process")
		channels = memory.NewHub(memory.WithCodec(serialization.Codec{}))
	}

	statusCfg := status.Config{
		HostName: hostName,
		Database: database,
		Log:      log,
		Tracer:   tracer,
	}

	var monitor *collabapp.Monitor
	if cfg.Collaboration.Enabled {
		localEvents, err := memory.NewHub().Open(ctx, "local-events")
		if err != nil {
			return fmt.Errorf("open local event bus: %w", err)
		}
		defer localEvents.Close()

		monitorMetrics, err := collabapp.NewMetrics(mp)
		if err != nil {
			return fmt.Errorf("create collaboration metrics: %w", err)
		}

		monitor, err = collabapp.Open(ctx, monitorConfig(cfg), collabapp.Deps{
			Channels:    channels,
			LocalEvents: localEvents,
			Indicators:  progress.NewLogIndicatorFactory(log),
			Checkers:    checkers,
			Logger:      log,
			Tracer:      tracer,
			Metrics:     monitorMetrics,
		})
		if err != nil {
			return fmt.Errorf("open collaboration monitor: %w", err)
		}
		statusCfg.Collaboration = monitor
		log.Info(ctx, "Collaboration monitor started",
			"channel", collaboration.ChannelName(cfg.ChannelPrefix()))
	}

	status.Routes(healthServer, statusCfg)
	healthServer.Start(ctx)
	ready.Store(true)
	log.Info(ctx, "Examiner node ready", "case_id", cfg.Node.CaseID, "addr", cfg.Health.Addr)

	<-ctx.Done()
	log.Info(context.Background(), "Received shutdown signal")
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Collaboration.TerminationWait+5*time.Second)
	defer cancel()

	if monitor != nil {
		if err := monitor.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "Failed to stop collaboration monitor", "error", err)
		}
	}
	if err := healthServer.Server().Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Error shutting down health server", "error", err)
	}
	return nil
}

func newLogger(cfg *config.Config, hostName string) *logger.Logger {
	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("EXAMINER-%s", hostName)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostName,
		"case_id":  cfg.Node.CaseID,
		"app":      serviceType,
	}
	return logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)
}

// initTelemetry exports to the configured OTLP endpoint. Without one, spans
// are dropped and metrics stay in a local, unexported provider.
func initTelemetry(
	log *logger.Logger,
	cfg *config.Config,
	hostName string,
) (trace.TracerProvider, metric.MeterProvider, func(context.Context), error) {
	if cfg.Telemetry.OTLPEndpoint == "" {
		return tracenoop.NewTracerProvider(), otel.NewMeterProvider(cfg.Telemetry.ServiceName), func(context.Context) {}, nil
	}

	return otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
		Probability:      1,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostName,
			"case.id":          cfg.Node.CaseID,
		},
		InsecureExporter: true,
	})
}

func connectPostgres(ctx context.Context, cfg config.PostgresConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConns = 10
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 2 * time.Minute
	ping := func() error {
		if err := pool.Ping(ctx); err != nil {
			log.Warn(ctx, "Case database not reachable, retrying", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(expBackoff, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func monitorConfig(cfg *config.Config) collabapp.Config {
	c := cfg.Collaboration
	return collabapp.Config{
		HostName:             cfg.Node.HostName,
		ChannelPrefix:        cfg.ChannelPrefix(),
		HeartbeatInterval:    c.HeartbeatInterval,
		MaxMissedHeartbeats:  c.MaxMissedHeartbeats,
		StaleSweepInterval:   c.StaleSweepInterval,
		ServiceCheckInterval: c.ServiceCheckInterval,
		TerminationWait:      c.TerminationWait,
	}
}
