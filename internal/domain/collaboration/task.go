// Package collaboration models the snapshot of in-progress work that examiner
// nodes sharing a case broadcast to one another, and the ports the monitor
// uses to reach the broadcast channel and the presentation layer.
package collaboration

import (
	"fmt"
	"maps"
	"slices"
)

// Task is one in-progress local operation. It is immutable once constructed.
type Task struct {
	ID     int64
	Status string
}

// TaskSnapshot is everything a node is doing right now, keyed by task id.
// It is always sent whole.
type TaskSnapshot map[int64]Task

// Clone returns an independent copy of the snapshot.
func (s TaskSnapshot) Clone() TaskSnapshot {
	if s == nil {
		return TaskSnapshot{}
	}
	return maps.Clone(s)
}

// IDs returns the task ids in ascending order.
func (s TaskSnapshot) IDs() []int64 {
	return slices.Sorted(maps.Keys(s))
}

// ChannelName returns the per-case broadcast channel name for prefix.
func ChannelName(prefix string) string {
	return fmt.Sprintf("%s-Collaboration-Monitor-Events", prefix)
}
