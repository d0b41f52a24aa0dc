package serialization

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/events"
	serrors "github.com/ahrav/caseflow/internal/infra/eventbus/serialization/errors"
)

// Field numbers of the CollaborationEvent wire message:
//
//	message CollaborationEvent {
//	  string host_name = 1;
//	  map<int64, Task> tasks = 2;
//	}
//	message Task {
//	  int64 id = 1;
//	  string status = 2;
//	}
const (
	fieldHostName protowire.Number = 1
	fieldTasks    protowire.Number = 2

	fieldMapKey   protowire.Number = 1
	fieldMapValue protowire.Number = 2

	fieldTaskID     protowire.Number = 1
	fieldTaskStatus protowire.Number = 2
)

// MarshalCollaborationEvent encodes evt in its proto3 wire shape. Map entries
// are written in ascending task id order so the output is deterministic.
func MarshalCollaborationEvent(evt collaboration.CollaborationEvent) []byte {
	var b []byte
	if evt.HostName != "" {
		b = protowire.AppendTag(b, fieldHostName, protowire.BytesType)
		b = protowire.AppendString(b, evt.HostName)
	}
	for _, id := range evt.Tasks.IDs() {
		entry := marshalTaskEntry(id, evt.Tasks[id])
		b = protowire.AppendTag(b, fieldTasks, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func marshalTaskEntry(key int64, task collaboration.Task) []byte {
	var value []byte
	if task.ID != 0 {
		value = protowire.AppendTag(value, fieldTaskID, protowire.VarintType)
		value = protowire.AppendVarint(value, uint64(task.ID))
	}
	if task.Status != "" {
		value = protowire.AppendTag(value, fieldTaskStatus, protowire.BytesType)
		value = protowire.AppendString(value, task.Status)
	}

	var entry []byte
	entry = protowire.AppendTag(entry, fieldMapKey, protowire.VarintType)
	entry = protowire.AppendVarint(entry, uint64(key))
	entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
	entry = protowire.AppendBytes(entry, value)
	return entry
}

// UnmarshalCollaborationEvent decodes a CollaborationEvent. Unknown fields are
// skipped; a repeated map key keeps the last value, as proto3 requires.
func UnmarshalCollaborationEvent(data []byte) (collaboration.CollaborationEvent, error) {
	evt := collaboration.CollaborationEvent{Tasks: collaboration.TaskSnapshot{}}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldHostName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, malformed("host_name", n)
			}
			evt.HostName = v
			return n, nil
		case num == fieldTasks && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, malformed("tasks", n)
			}
			key, task, err := unmarshalTaskEntry(v)
			if err != nil {
				return -1, err
			}
			evt.Tasks[key] = task
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return collaboration.CollaborationEvent{}, err
	}
	return evt, nil
}

func unmarshalTaskEntry(data []byte) (int64, collaboration.Task, error) {
	var (
		key  int64
		task collaboration.Task
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldMapKey && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, malformed("tasks.key", n)
			}
			key = int64(v)
			return n, nil
		case num == fieldMapValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, malformed("tasks.value", n)
			}
			t, err := unmarshalTask(v)
			if err != nil {
				return -1, err
			}
			task = t
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return key, task, err
}

func unmarshalTask(data []byte) (collaboration.Task, error) {
	var task collaboration.Task
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldTaskID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, malformed("task.id", n)
			}
			task.ID = int64(v)
			return n, nil
		case num == fieldTaskStatus && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, malformed("task.status", n)
			}
			task.Status = v
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return task, err
}

// walkFields calls fn for every field in data. fn returns the number of bytes
// of the field value it consumed.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("tag", n)
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		data = data[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return n, malformed(fmt.Sprintf("field %d", num), n)
	}
	return n, nil
}

func malformed(field string, n int) error {
	return serrors.ErrMalformedField{Field: field, Err: protowire.ParseError(n)}
}

func nilEvent(t events.EventType) error { return serrors.ErrNilEvent{EventType: string(t)} }

func unexpectedPayload(t events.EventType, v any) error {
	return serrors.ErrUnexpectedPayload{EventType: string(t), Value: v}
}
