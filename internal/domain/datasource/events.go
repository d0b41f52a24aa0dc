package datasource

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/caseflow/internal/domain/events"
)

// Case lifecycle event types raised while a data source is being added.
const (
	EventTypeAddingDataSource       events.EventType = "AddingDataSource"
	EventTypeAddingDataSourceFailed events.EventType = "AddingDataSourceFailed"
	EventTypeDataSourceAdded        events.EventType = "DataSourceAdded"
)

// CaseEventTypes lists every case lifecycle event type.
var CaseEventTypes = []events.EventType{
	EventTypeAddingDataSource,
	EventTypeAddingDataSourceFailed,
	EventTypeDataSourceAdded,
}

// AddingDataSourceEvent is raised when an add begins. DataSourceID correlates
// it with the matching failed or added event.
type AddingDataSourceEvent struct {
	DataSourceID uuid.UUID
	occurredAt   time.Time
}

// NewAddingDataSourceEvent creates an AddingDataSourceEvent stamped now.
func NewAddingDataSourceEvent(id uuid.UUID) AddingDataSourceEvent {
	return AddingDataSourceEvent{DataSourceID: id, occurredAt: time.Now().UTC()}
}

func (e AddingDataSourceEvent) EventType() events.EventType { return EventTypeAddingDataSource }
func (e AddingDataSourceEvent) OccurredAt() time.Time       { return e.occurredAt }

// AddingDataSourceFailedEvent is raised when an add ends without a committed
// data source, whether through error, revert or cancellation.
type AddingDataSourceFailedEvent struct {
	DataSourceID uuid.UUID
	Reason       string
	occurredAt   time.Time
}

// NewAddingDataSourceFailedEvent creates an AddingDataSourceFailedEvent stamped now.
func NewAddingDataSourceFailedEvent(id uuid.UUID, reason string) AddingDataSourceFailedEvent {
	return AddingDataSourceFailedEvent{DataSourceID: id, Reason: reason, occurredAt: time.Now().UTC()}
}

func (e AddingDataSourceFailedEvent) EventType() events.EventType {
	return EventTypeAddingDataSourceFailed
}
func (e AddingDataSourceFailedEvent) OccurredAt() time.Time { return e.occurredAt }

// DataSourceAddedEvent is raised after a data source has been committed.
type DataSourceAddedEvent struct {
	DataSourceID uuid.UUID
	DataSource   DataSource
	occurredAt   time.Time
}

// NewDataSourceAddedEvent creates a DataSourceAddedEvent stamped now.
func NewDataSourceAddedEvent(ds DataSource) DataSourceAddedEvent {
	return DataSourceAddedEvent{DataSourceID: ds.ID, DataSource: ds, occurredAt: time.Now().UTC()}
}

func (e DataSourceAddedEvent) EventType() events.EventType { return EventTypeDataSourceAdded }
func (e DataSourceAddedEvent) OccurredAt() time.Time       { return e.occurredAt }
