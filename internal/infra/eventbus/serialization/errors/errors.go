// Package serializationerrors holds the typed errors returned while encoding
// and decoding event payloads.
package serializationerrors

import "fmt"

// ErrNilEvent indicates that a nil event was provided for serialization/deserialization
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return fmt.Sprintf("nil %s event", e.EventType) }

// ErrUnexpectedPayload indicates that a payload did not have the Go type the
// registered codec for its event type expects.
type ErrUnexpectedPayload struct {
	EventType string
	Value     any
}

func (e ErrUnexpectedPayload) Error() string {
	return fmt.Sprintf("unexpected payload %T for %s", e.Value, e.EventType)
}

// ErrMalformedField indicates that a field could not be decoded from the wire.
type ErrMalformedField struct {
	Field string
	Err   error
}

func (e ErrMalformedField) Error() string { return fmt.Sprintf("malformed %s: %v", e.Field, e.Err) }

func (e ErrMalformedField) Unwrap() error { return e.Err }
