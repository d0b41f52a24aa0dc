package collaboration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/caseflow/internal/domain/analysis"
	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

func envelope(evt events.DomainEvent) events.EventEnvelope {
	return events.EventEnvelope{Type: evt.EventType(), Timestamp: evt.OccurredAt(), Payload: evt}
}

func TestLocalTaskRegistry_AddLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		finish func(id uuid.UUID) events.DomainEvent
	}{
		{name: "added", finish: func(id uuid.UUID) events.DomainEvent {
			return datasource.NewDataSourceAddedEvent(datasource.DataSource{ID: id})
		}},
		{name: "failed", finish: func(id uuid.UUID) events.DomainEvent {
			return datasource.NewAddingDataSourceFailedEvent(id, "cancelled")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := new(snapshotRecorder)
			reg := NewLocalTaskRegistry("examiner-1", rec.publish, logger.Noop())

			id := uuid.New()
			require.NoError(t, reg.HandleEvent(ctx, envelope(datasource.NewAddingDataSourceEvent(id))))
			assert.Equal(t, collaboration.TaskSnapshot{
				1: {ID: 1, Status: "examiner-1 adding data source"},
			}, rec.last())

			require.NoError(t, reg.HandleEvent(ctx, envelope(tt.finish(id))))
			assert.Empty(t, rec.last(), "completed task must not be broadcast again")
			assert.Empty(t, reg.CurrentTasks())
			assert.Equal(t, 2, rec.count())
		})
	}
}

func TestLocalTaskRegistry_AnalysisLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := new(snapshotRecorder)
	reg := NewLocalTaskRegistry("examiner-1", rec.publish, logger.Noop())

	require.NoError(t, reg.HandleEvent(ctx, envelope(analysis.NewDataSourceAnalysisStartedEvent(77, "disk.E01"))))
	require.NoError(t, reg.HandleEvent(ctx, envelope(datasource.NewAddingDataSourceEvent(uuid.New()))))

	snap := rec.last()
	assert.Equal(t, []int64{1, 2}, snap.IDs())
	assert.Equal(t, "examiner-1 analyzing disk.E01", snap[1].Status)
	assert.Equal(t, "examiner-1 adding data source", snap[2].Status)

	require.NoError(t, reg.HandleEvent(ctx, envelope(analysis.NewDataSourceAnalysisCompletedEvent(77, true))))
	assert.Equal(t, []int64{2}, rec.last().IDs())
}

func TestLocalTaskRegistry_IDsAreNeverReused(t *testing.T) {
	ctx := context.Background()
	rec := new(snapshotRecorder)
	reg := NewLocalTaskRegistry("h", rec.publish, logger.Noop())

	var seen []int64
	for range 3 {
		id := uuid.New()
		require.NoError(t, reg.HandleEvent(ctx, envelope(datasource.NewAddingDataSourceEvent(id))))
		seen = append(seen, rec.last().IDs()...)
		require.NoError(t, reg.HandleEvent(ctx, envelope(datasource.NewAddingDataSourceFailedEvent(id, "x"))))
	}
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestLocalTaskRegistry_IgnoresUnrelatedAndDuplicateEvents(t *testing.T) {
	ctx := context.Background()
	rec := new(snapshotRecorder)
	reg := NewLocalTaskRegistry("h", rec.publish, logger.Noop())

	require.NoError(t, reg.HandleEvent(ctx, events.EventEnvelope{Type: "Other", Payload: 42}))
	require.NoError(t, reg.HandleEvent(ctx, envelope(datasource.NewDataSourceAddedEvent(datasource.DataSource{ID: uuid.New()}))))
	require.NoError(t, reg.HandleEvent(ctx, envelope(analysis.NewDataSourceAnalysisCompletedEvent(5, false))))
	assert.Zero(t, rec.count())

	id := uuid.New()
	started := datasource.NewAddingDataSourceEvent(id)
	require.NoError(t, reg.HandleEvent(ctx, envelope(started)))
	require.NoError(t, reg.HandleEvent(ctx, events.EventEnvelope{Type: started.EventType(), Payload: &started}))
	assert.Equal(t, 1, rec.count())
	assert.Len(t, reg.CurrentTasks(), 1)
}

func TestLocalTaskRegistry_BroadcastRepublishesUnchangedSnapshot(t *testing.T) {
	ctx := context.Background()
	rec := new(snapshotRecorder)
	reg := NewLocalTaskRegistry("h", rec.publish, logger.Noop())

	reg.Broadcast(ctx)
	reg.Broadcast(ctx)
	assert.Equal(t, 2, rec.count())
	assert.Empty(t, rec.last())
}
