package events

import "time"

// DomainEvent is implemented by every event raised by the domain. It is the
// unit handed to a DomainEventPublisher.
type DomainEvent interface {
	// EventType identifies the category of the event for routing and handling.
	EventType() EventType
	// OccurredAt records when the event happened.
	OccurredAt() time.Time
}

// EventEnvelope wraps a payload with the routing metadata the event bus needs.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier such as a host name or data source id.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}
