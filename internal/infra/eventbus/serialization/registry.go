// Package serialization translates domain events to and from their wire
// representation on the collaboration channel.
//
// Serialization and deserialization functions are registered per event type,
// which keeps the domain layer free of wire concerns and lets new event types
// be added without touching the transport adapters.
package serialization

import (
	"fmt"
	"sync"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/events"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

var (
	registryMu           sync.RWMutex
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	deserializerRegistry[eventType] = fn
}

// SerializePayload converts a domain object into bytes using the registered serializer for its event type.
// Returns an error if no serializer is registered for the given event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	registryMu.RLock()
	fn, ok := serializerRegistry[eventType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the registered deserializer for its event type.
// Returns an error if no deserializer is registered for the given event type.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	registryMu.RLock()
	fn, ok := deserializerRegistry[eventType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers the codecs for every event type that
// crosses the collaboration channel.
func RegisterEventSerializers() {
	RegisterSerializeFunc(collaboration.EventTypeCollaborationMonitor, serializeCollaborationEvent)
	RegisterDeserializeFunc(collaboration.EventTypeCollaborationMonitor, deserializeCollaborationEvent)
}

func serializeCollaborationEvent(payload any) ([]byte, error) {
	switch evt := payload.(type) {
	case collaboration.CollaborationEvent:
		return MarshalCollaborationEvent(evt), nil
	case *collaboration.CollaborationEvent:
		if evt == nil {
			return nil, nilEvent(collaboration.EventTypeCollaborationMonitor)
		}
		return MarshalCollaborationEvent(*evt), nil
	default:
		return nil, unexpectedPayload(collaboration.EventTypeCollaborationMonitor, payload)
	}
}

func deserializeCollaborationEvent(data []byte) (any, error) {
	return UnmarshalCollaborationEvent(data)
}
