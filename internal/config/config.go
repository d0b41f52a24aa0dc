// Package config defines the examiner node configuration and the loaders
// that produce it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config represents the top-level configuration of an examiner node.
type Config struct {
	Node          NodeConfig          `yaml:"node" mapstructure:"node"`
	Collaboration CollaborationConfig `yaml:"collaboration" mapstructure:"collaboration"`
	Ingest        IngestConfig        `yaml:"ingest" mapstructure:"ingest"`
	Kafka         KafkaConfig         `yaml:"kafka" mapstructure:"kafka"`
	Postgres      PostgresConfig      `yaml:"postgres" mapstructure:"postgres"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" mapstructure:"telemetry"`
	Health        HealthConfig        `yaml:"health" mapstructure:"health"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// NodeConfig identifies this node and the case it works on.
type NodeConfig struct {
	HostName string `yaml:"host_name" mapstructure:"host_name"`
	CaseID   string `yaml:"case_id" mapstructure:"case_id"`
	// ChannelPrefix names the case's collaboration channel. It defaults to
	// the case id.
	ChannelPrefix string `yaml:"channel_prefix" mapstructure:"channel_prefix"`
}

// CollaborationConfig is the collaboration monitor schedule.
type CollaborationConfig struct {
	Enabled              bool          `yaml:"enabled" mapstructure:"enabled"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	MaxMissedHeartbeats  int           `yaml:"max_missed_heartbeats" mapstructure:"max_missed_heartbeats"`
	StaleSweepInterval   time.Duration `yaml:"stale_sweep_interval" mapstructure:"stale_sweep_interval"`
	ServiceCheckInterval time.Duration `yaml:"service_check_interval" mapstructure:"service_check_interval"`
	TerminationWait      time.Duration `yaml:"termination_wait" mapstructure:"termination_wait"`
}

// IngestConfig tunes data source adds.
type IngestConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// KafkaConfig points at the broker cluster that carries the collaboration
// channel. With no brokers the node uses an in-process channel.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" mapstructure:"brokers"`
	ClientID string   `yaml:"client_id" mapstructure:"client_id"`
}

// PostgresConfig points at the case database. With no DSN the node keeps
// data sources in memory.
type PostgresConfig struct {
	DSN           string `yaml:"dsn" mapstructure:"dsn"`
	MigrationsDir string `yaml:"migrations_dir" mapstructure:"migrations_dir"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" mapstructure:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
}

// HealthConfig configures the health and debug HTTP server.
type HealthConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Node: NodeConfig{HostName: LocalHostName()},
		Collaboration: CollaborationConfig{
			Enabled:              true,
			HeartbeatInterval:    time.Minute,
			MaxMissedHeartbeats:  5,
			StaleSweepInterval:   2 * time.Minute,
			ServiceCheckInterval: 5 * time.Minute,
			TerminationWait:      30 * time.Second,
		},
		Ingest:    IngestConfig{PollInterval: 500 * time.Millisecond},
		Kafka:     KafkaConfig{ClientID: "caseflow-examiner"},
		Postgres:  PostgresConfig{MigrationsDir: "db/migrations"},
		Telemetry: TelemetryConfig{ServiceName: "caseflow-examiner"},
		Health:    HealthConfig{Addr: ":8080"},
		Log:       LogConfig{Level: "info"},
	}
}

// LocalHostName is the name this node announces to collaborators.
func LocalHostName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	if name := os.Getenv("COMPUTERNAME"); name != "" {
		return name
	}
	return os.Getenv("HOSTNAME")
}

// ChannelPrefix returns the configured prefix, falling back to the case id.
func (c *Config) ChannelPrefix() string {
	if c.Node.ChannelPrefix != "" {
		return c.Node.ChannelPrefix
	}
	return c.Node.CaseID
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Node.HostName == "" {
		errs = append(errs, errors.New("node.host_name is required"))
	}
	if c.Node.CaseID == "" {
		errs = append(errs, errors.New("node.case_id is required"))
	}
	if c.ChannelPrefix() == "" {
		errs = append(errs, errors.New("node.channel_prefix cannot be empty"))
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"collaboration.heartbeat_interval", c.Collaboration.HeartbeatInterval},
		{"collaboration.stale_sweep_interval", c.Collaboration.StaleSweepInterval},
		{"collaboration.service_check_interval", c.Collaboration.ServiceCheckInterval},
		{"collaboration.termination_wait", c.Collaboration.TerminationWait},
		{"ingest.poll_interval", c.Ingest.PollInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if c.Collaboration.MaxMissedHeartbeats <= 0 {
		errs = append(errs, fmt.Errorf("collaboration.max_missed_heartbeats must be positive, got %d",
			c.Collaboration.MaxMissedHeartbeats))
	}
	return errors.Join(errs...)
}
