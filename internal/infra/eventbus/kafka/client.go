// Package kafka provides a Kafka-backed collaboration channel. Each case
// channel maps to one topic; every examiner node joins its own consumer group
// on that topic so that every node sees every snapshot.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/ahrav/caseflow/pkg/common/logger"
)

// Config contains settings for connecting to the Kafka cluster.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
	// HostName identifies this examiner node. It scopes the consumer group
	// so that each node receives every message on a channel.
	HostName string
	// ConnectTimeout bounds the retries performed by ConnectWithRetry.
	// Zero means five minutes.
	ConnectTimeout time.Duration
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.HostName == "" {
		return errors.New("kafka: host name is required")
	}
	return nil
}

// NewClient creates and configures a Kafka client with the provided settings.
// It sets up consistent configuration for both producers and consumers.
func NewClient(cfg *Config) (sarama.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return sarama.NewClient(cfg.Brokers, newSaramaConfig(cfg))
}

func newSaramaConfig(cfg *Config) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Snapshots are only interesting from the moment a node joins; older
	// ones are superseded by the next heartbeat.
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectWithRetry creates a client with exponential backoff, retrying failed
// attempts until cfg.ConnectTimeout elapses or ctx is done. This rides out a
// cluster that is still starting when the examiner boots.
func ConnectWithRetry(ctx context.Context, cfg *Config, log *logger.Logger) (sarama.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = 5 * time.Minute
	if cfg.ConnectTimeout > 0 {
		expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	}

	var client sarama.Client
	operation := func() error {
		var err error
		client, err = NewClient(cfg)
		if err != nil {
			log.Warn(ctx, "Kafka not reachable, retrying", "brokers", cfg.Brokers, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to kafka after retries: %w", err)
	}
	return client, nil
}
