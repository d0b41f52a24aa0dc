package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

// ErrBusClosed is returned by operations on a closed EventBus.
var ErrBusClosed = errors.New("kafka event bus closed")

// Codec converts envelopes to and from record values.
type Codec interface {
	Encode(events.EventEnvelope) ([]byte, error)
	Decode([]byte) (events.EventEnvelope, error)
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus is one node's attachment to a single collaboration topic.
// Every Subscribe call shares one consumer group session.
type EventBus struct {
	topic         string
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	codec         Codec

	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]subscription
	closed  bool
	running bool

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closeOnce  sync.Once

	// malformed throttles warnings about undecodable records so a noisy
	// producer cannot flood the log.
	malformed rate.Sometimes

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

type subscription struct {
	types   map[events.EventType]struct{}
	handler events.HandlerFunc
}

// NewEventBus assembles a bus from an already created producer and consumer group.
func NewEventBus(
	topic string,
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	codec Codec,
	log *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if topic == "" {
		return nil, errors.New("kafka event bus: topic is required")
	}
	if producer == nil || consumerGroup == nil || codec == nil {
		return nil, errors.New("kafka event bus: producer, consumer group and codec are required")
	}
	if metrics == nil {
		return nil, errors.New("kafka event bus: metrics are required")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		topic:         topic,
		producer:      producer,
		consumerGroup: consumerGroup,
		codec:         codec,
		subs:          make(map[uint64]subscription),
		loopCtx:       loopCtx,
		loopCancel:    cancel,
		loopDone:      make(chan struct{}),
		malformed:     rate.Sometimes{First: 3, Interval: time.Minute},
		logger:        log.With("component", "kafka_event_bus", "topic", topic),
		tracer:        tracer,
		metrics:       metrics,
	}, nil
}

// Publish writes evt to the bus topic, keyed by the publish key.
func (b *EventBus) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	ctx, span := startProducerSpan(ctx, b.topic, b.tracer)
	defer span.End()

	if b.isClosed() {
		return ErrBusClosed
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		evt.Key = params.Key
		span.SetAttributes(attribute.String("event.key", evt.Key))
	}
	if params.Headers != nil {
		evt.Headers = params.Headers
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	value, err := b.codec.Encode(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		b.metrics.IncPublishError(ctx, b.topic)
		return fmt.Errorf("failed to serialize event %s: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     b.topic,
		Key:       sarama.StringEncoder(evt.Key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: evt.Timestamp,
	}
	for k, v := range evt.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		b.metrics.IncPublishError(ctx, b.topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", b.topic, err)
	}
	b.metrics.IncMessagePublished(ctx, b.topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"partition", partition,
		"offset", offset,
		"key", evt.Key,
		"event_type", evt.Type,
	)
	return nil
}

// Subscribe registers handler for eventTypes until ctx is done or the bus is
// closed. The first subscription starts the consumer loop.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	types := make(map[events.EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{types: types, handler: handler}
	start := !b.running
	b.running = true
	b.mu.Unlock()

	if start {
		go b.consumeLoop()
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.loopCtx.Done():
		}
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

// consumeLoop keeps a consumer group session alive until the bus closes.
func (b *EventBus) consumeLoop() {
	defer close(b.loopDone)

	handler := &groupHandler{bus: b}
	for {
		if err := b.consumerGroup.Consume(b.loopCtx, []string{b.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			b.logger.Error(b.loopCtx, "Error from consumer group", "error", err)
		}
		if b.loopCtx.Err() != nil {
			return
		}
	}
}

// dispatch hands a decoded event to every matching subscriber. Handler errors
// are logged; they never stop consumption.
func (b *EventBus) dispatch(ctx context.Context, evt events.EventEnvelope) {
	b.mu.RLock()
	handlers := make([]events.HandlerFunc, 0, len(b.subs))
	for _, sub := range b.subs {
		if _, ok := sub.types[evt.Type]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.metrics.IncConsumeError(ctx, b.topic)
			b.logger.Warn(ctx, "Subscriber failed to handle event", "event_type", evt.Type, "error", err)
		}
	}
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct{ bus *EventBus }

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.bus.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.bus.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim decodes records from one partition and dispatches them.
// Every record is marked, including undecodable ones.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(sess, msg)
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) handle(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	b := h.bus
	defer sess.MarkMessage(msg, "")

	ctx := extractTraceContext(sess.Context(), msg)
	ctx, span := startConsumerSpan(ctx, msg, b.tracer)
	defer span.End()

	evt, err := b.codec.Decode(msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		b.metrics.IncConsumeError(ctx, msg.Topic)
		b.malformed.Do(func() {
			b.logger.Warn(ctx, "Dropping undecodable record",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		})
		return
	}

	if evt.Key == "" {
		evt.Key = string(msg.Key)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = msg.Timestamp
	}
	for _, hdr := range msg.Headers {
		if hdr == nil {
			continue
		}
		if evt.Headers == nil {
			evt.Headers = make(map[string]string, len(msg.Headers))
		}
		evt.Headers[string(hdr.Key)] = string(hdr.Value)
	}

	b.metrics.IncMessageConsumed(ctx, msg.Topic)
	b.dispatch(ctx, evt)
}

// Close stops consumption and closes the producer and consumer group. The
// underlying client is left open. It is safe to call more than once.
func (b *EventBus) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
		defer span.End()

		b.mu.Lock()
		b.closed = true
		running := b.running
		b.mu.Unlock()

		b.loopCancel()
		if err := b.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer group: %w", err))
		}
		if running {
			<-b.loopDone
		}
		if err := b.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}

		if err := errors.Join(errs...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "close failed")
			b.logger.Error(ctx, "Failed to close event bus", "error", err)
			return
		}
		b.logger.Info(ctx, "Closed event bus")
	})
	return errors.Join(errs...)
}

func (b *EventBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
