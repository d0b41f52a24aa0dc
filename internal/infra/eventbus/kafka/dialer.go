package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

var _ collaboration.ChannelOpener = (*Dialer)(nil)

// Dialer opens collaboration channels on a shared Kafka client.
type Dialer struct {
	client   sarama.Client
	hostName string
	codec    Codec

	logger  *logger.Logger
	metrics EventBusMetrics
	tracer  trace.Tracer
}

// NewDialer returns a Dialer that opens channels as hostName.
func NewDialer(
	client sarama.Client,
	hostName string,
	codec Codec,
	log *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) *Dialer {
	return &Dialer{
		client:   client,
		hostName: hostName,
		codec:    codec,
		logger:   log,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// GroupID returns the consumer group a host joins for channel.
func GroupID(channel, hostName string) string {
	return fmt.Sprintf("%s-%s", channel, hostName)
}

// OpenChannel creates a producer and a host-scoped consumer group for the
// topic named after the channel, retrying transient failures.
func (d *Dialer) OpenChannel(ctx context.Context, name string) (events.EventBus, error) {
	var bus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = time.Minute

	operation := func() error {
		producer, err := sarama.NewSyncProducerFromClient(d.client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(GroupID(name, d.hostName), d.client)
		if err != nil {
			producer.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}

		bus, err = NewEventBus(name, producer, consumerGroup, d.codec, d.logger, d.metrics, d.tracer)
		if err != nil {
			producer.Close()
			consumerGroup.Close()
			return backoff.Permanent(fmt.Errorf("creating event bus: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to open channel %s: %w", name, err)
	}
	return bus, nil
}
