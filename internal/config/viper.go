package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var _ Loader = (*ViperLoader)(nil)

// EnvPrefix prefixes every environment override, e.g. CASEFLOW_NODE_CASE_ID.
const EnvPrefix = "CASEFLOW"

// ViperLoader layers an optional YAML file and CASEFLOW_* environment
// variables over Default.
type ViperLoader struct {
	path string
}

// NewViperLoader returns a loader reading path when it is non-empty.
func NewViperLoader(path string) *ViperLoader { return &ViperLoader{path: path} }

// Load builds and validates the configuration.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides are seen by
// Unmarshal even when no file mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node.host_name", d.Node.HostName)
	v.SetDefault("node.case_id", d.Node.CaseID)
	v.SetDefault("node.channel_prefix", d.Node.ChannelPrefix)

	v.SetDefault("collaboration.enabled", d.Collaboration.Enabled)
	v.SetDefault("collaboration.heartbeat_interval", d.Collaboration.HeartbeatInterval)
	v.SetDefault("collaboration.max_missed_heartbeats", d.Collaboration.MaxMissedHeartbeats)
	v.SetDefault("collaboration.stale_sweep_interval", d.Collaboration.StaleSweepInterval)
	v.SetDefault("collaboration.service_check_interval", d.Collaboration.ServiceCheckInterval)
	v.SetDefault("collaboration.termination_wait", d.Collaboration.TerminationWait)

	v.SetDefault("ingest.poll_interval", d.Ingest.PollInterval)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.client_id", d.Kafka.ClientID)

	v.SetDefault("postgres.dsn", d.Postgres.DSN)
	v.SetDefault("postgres.migrations_dir", d.Postgres.MigrationsDir)

	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)

	v.SetDefault("health.addr", d.Health.Addr)
	v.SetDefault("log.level", d.Log.Level)
}
