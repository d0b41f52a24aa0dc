// Package analysis holds the ingest lifecycle events raised while a data
// source is being analyzed after it has been added to a case.
package analysis

import (
	"time"

	"github.com/ahrav/caseflow/internal/domain/events"
)

const (
	EventTypeDataSourceAnalysisStarted   events.EventType = "DataSourceAnalysisStarted"
	EventTypeDataSourceAnalysisCompleted events.EventType = "DataSourceAnalysisCompleted"
)

// EventTypes lists every analysis lifecycle event type.
var EventTypes = []events.EventType{
	EventTypeDataSourceAnalysisStarted,
	EventTypeDataSourceAnalysisCompleted,
}

// DataSourceAnalysisStartedEvent is raised when an ingest job begins
// analyzing a data source.
type DataSourceAnalysisStartedEvent struct {
	JobID          int64
	DataSourceName string
	occurredAt     time.Time
}

// NewDataSourceAnalysisStartedEvent creates a started event stamped now.
func NewDataSourceAnalysisStartedEvent(jobID int64, dataSourceName string) DataSourceAnalysisStartedEvent {
	return DataSourceAnalysisStartedEvent{
		JobID:          jobID,
		DataSourceName: dataSourceName,
		occurredAt:     time.Now().UTC(),
	}
}

func (e DataSourceAnalysisStartedEvent) EventType() events.EventType {
	return EventTypeDataSourceAnalysisStarted
}
func (e DataSourceAnalysisStartedEvent) OccurredAt() time.Time { return e.occurredAt }

// DataSourceAnalysisCompletedEvent is raised when an ingest job finishes,
// whether it ran to completion or was cancelled.
type DataSourceAnalysisCompletedEvent struct {
	JobID      int64
	Cancelled  bool
	occurredAt time.Time
}

// NewDataSourceAnalysisCompletedEvent creates a completed event stamped now.
func NewDataSourceAnalysisCompletedEvent(jobID int64, cancelled bool) DataSourceAnalysisCompletedEvent {
	return DataSourceAnalysisCompletedEvent{JobID: jobID, Cancelled: cancelled, occurredAt: time.Now().UTC()}
}

func (e DataSourceAnalysisCompletedEvent) EventType() events.EventType {
	return EventTypeDataSourceAnalysisCompleted
}
func (e DataSourceAnalysisCompletedEvent) OccurredAt() time.Time { return e.occurredAt }
