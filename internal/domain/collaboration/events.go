package collaboration

import (
	"time"

	"github.com/ahrav/caseflow/internal/domain/events"
)

// EventTypeCollaborationMonitor is the type of every CollaborationEvent on
// the broadcast channel.
const EventTypeCollaborationMonitor events.EventType = "CollaborationMonitorEvent"

// CollaborationEvent is the unit broadcast between nodes: the sending host
// and its complete task snapshot.
type CollaborationEvent struct {
	HostName string
	Tasks    TaskSnapshot
}

// NewCollaborationEvent builds an event carrying a private copy of tasks.
func NewCollaborationEvent(hostName string, tasks TaskSnapshot) CollaborationEvent {
	return CollaborationEvent{HostName: hostName, Tasks: tasks.Clone()}
}

func (e CollaborationEvent) EventType() events.EventType { return EventTypeCollaborationMonitor }

// OccurredAt is the time the event is published; snapshots carry no timestamp
// of their own on the wire.
func (e CollaborationEvent) OccurredAt() time.Time { return time.Now().UTC() }
