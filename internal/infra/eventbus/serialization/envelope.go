package serialization

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ahrav/caseflow/internal/domain/events"
)

// Envelope field numbers. The payload bytes are produced by the codec
// registered for the event type.
//
//	message Envelope {
//	  string event_type = 1;
//	  bytes payload = 2;
//	  string key = 3;
//	  int64 timestamp_unix_nano = 4;
//	  map<string, string> headers = 5;
//	}
const (
	fieldEnvType      protowire.Number = 1
	fieldEnvPayload   protowire.Number = 2
	fieldEnvKey       protowire.Number = 3
	fieldEnvTimestamp protowire.Number = 4
	fieldEnvHeaders   protowire.Number = 5
)

// Codec encodes whole envelopes. It satisfies the codec hooks of the
// in-memory and kafka channels.
type Codec struct{}

// Encode implements the channel codec hook.
func (Codec) Encode(evt events.EventEnvelope) ([]byte, error) { return EncodeEnvelope(evt) }

// Decode implements the channel codec hook.
func (Codec) Decode(data []byte) (events.EventEnvelope, error) { return DecodeEnvelope(data) }

// EncodeEnvelope serializes evt, encoding its payload with the codec
// registered for evt.Type.
func EncodeEnvelope(evt events.EventEnvelope) ([]byte, error) {
	payload, err := SerializePayload(evt.Type, evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldEnvType, protowire.BytesType)
	b = protowire.AppendString(b, string(evt.Type))
	b = protowire.AppendTag(b, fieldEnvPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	if evt.Key != "" {
		b = protowire.AppendTag(b, fieldEnvKey, protowire.BytesType)
		b = protowire.AppendString(b, evt.Key)
	}
	if !evt.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldEnvTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(evt.Timestamp.UnixNano()))
	}
	for _, k := range slices.Sorted(maps.Keys(evt.Headers)) {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendString(entry, evt.Headers[k])

		b = protowire.AppendTag(b, fieldEnvHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(data []byte) (events.EventEnvelope, error) {
	var (
		evt     events.EventEnvelope
		payload []byte
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldEnvType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, malformed("event_type", n)
			}
			evt.Type = events.EventType(v)
			return n, nil
		case num == fieldEnvPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, malformed("payload", n)
			}
			payload = v
			return n, nil
		case num == fieldEnvKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, malformed("key", n)
			}
			evt.Key = v
			return n, nil
		case num == fieldEnvTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, malformed("timestamp", n)
			}
			evt.Timestamp = time.Unix(0, int64(v)).UTC()
			return n, nil
		case num == fieldEnvHeaders && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, malformed("headers", n)
			}
			k, val, err := unmarshalStringEntry(v)
			if err != nil {
				return -1, err
			}
			if evt.Headers == nil {
				evt.Headers = make(map[string]string)
			}
			evt.Headers[k] = val
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return events.EventEnvelope{}, err
	}
	if evt.Type == "" {
		return events.EventEnvelope{}, fmt.Errorf("decode envelope: missing event type")
	}
	evt.Payload, err = DeserializePayload(evt.Type, payload)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("deserialize payload: %w", err)
	}
	return evt, nil
}

func unmarshalStringEntry(data []byte) (string, string, error) {
	var key, value string
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != fieldMapKey && num != fieldMapValue) {
			return skipField(num, typ, b)
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return n, malformed("headers.entry", n)
		}
		if num == fieldMapKey {
			key = v
		} else {
			value = v
		}
		return n, nil
	})
	return key, value, err
}
