package events

import "context"

var _ DomainEventPublisher = (*BusPublisher)(nil)

// BusPublisher adapts an EventBus into a DomainEventPublisher by wrapping each
// domain event in an envelope stamped with its type and occurrence time.
type BusPublisher struct{ bus EventBus }

// NewBusPublisher returns a publisher that writes to bus.
func NewBusPublisher(bus EventBus) *BusPublisher { return &BusPublisher{bus: bus} }

// PublishDomainEvent wraps event in an envelope and publishes it on the bus.
func (p *BusPublisher) PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error {
	evt := EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return p.bus.Publish(ctx, evt, opts...)
}
