package collaboration

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/caseflow/internal/domain/analysis"
	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

// SnapshotFunc receives every snapshot the local registry wants broadcast.
type SnapshotFunc func(ctx context.Context, tasks collaboration.TaskSnapshot)

// LocalEventTypes are the lifecycle events the local registry tracks.
var LocalEventTypes = []events.EventType{
	datasource.EventTypeAddingDataSource,
	datasource.EventTypeAddingDataSourceFailed,
	datasource.EventTypeDataSourceAdded,
	analysis.EventTypeDataSourceAnalysisStarted,
	analysis.EventTypeDataSourceAnalysisCompleted,
}

// LocalTaskRegistry turns this node's case and analysis lifecycle events into
// the task snapshot broadcast to collaborating nodes.
type LocalTaskRegistry struct {
	hostName string
	publish  SnapshotFunc

	mu            sync.Mutex
	nextTaskID    int64
	addTasks      map[uuid.UUID]collaboration.Task
	analysisTasks map[int64]collaboration.Task

	// pubMu serializes broadcasts so snapshots go out in the order they
	// were taken. Lock order is pubMu then mu.
	pubMu sync.Mutex

	logger *logger.Logger
}

// NewLocalTaskRegistry creates a registry for hostName that hands snapshots
// to publish. A nil publish only tracks tasks.
func NewLocalTaskRegistry(hostName string, publish SnapshotFunc, log *logger.Logger) *LocalTaskRegistry {
	return &LocalTaskRegistry{
		hostName:      hostName,
		publish:       publish,
		nextTaskID:    1,
		addTasks:      make(map[uuid.UUID]collaboration.Task),
		analysisTasks: make(map[int64]collaboration.Task),
		logger:        log.With("component", "local_task_registry"),
	}
}

// HandleEvent applies one lifecycle event. Events of other types are ignored.
func (r *LocalTaskRegistry) HandleEvent(ctx context.Context, evt events.EventEnvelope) error {
	var changed bool
	switch p := evt.Payload.(type) {
	case datasource.AddingDataSourceEvent:
		changed = r.startAdd(p.DataSourceID)
	case *datasource.AddingDataSourceEvent:
		changed = r.startAdd(p.DataSourceID)
	case datasource.AddingDataSourceFailedEvent:
		changed = r.finishAdd(p.DataSourceID)
	case *datasource.AddingDataSourceFailedEvent:
		changed = r.finishAdd(p.DataSourceID)
	case datasource.DataSourceAddedEvent:
		changed = r.finishAdd(p.DataSourceID)
	case *datasource.DataSourceAddedEvent:
		changed = r.finishAdd(p.DataSourceID)
	case analysis.DataSourceAnalysisStartedEvent:
		changed = r.startAnalysis(p.JobID, p.DataSourceName)
	case *analysis.DataSourceAnalysisStartedEvent:
		changed = r.startAnalysis(p.JobID, p.DataSourceName)
	case analysis.DataSourceAnalysisCompletedEvent:
		changed = r.finishAnalysis(p.JobID)
	case *analysis.DataSourceAnalysisCompletedEvent:
		changed = r.finishAnalysis(p.JobID)
	default:
		r.logger.Debug(ctx, "Ignoring event", "event_type", evt.Type)
		return nil
	}

	if changed {
		r.Broadcast(ctx)
	}
	return nil
}

func (r *LocalTaskRegistry) startAdd(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.addTasks[id]; ok {
		return false
	}
	r.addTasks[id] = r.newTaskLocked(fmt.Sprintf("%s adding data source", r.hostName))
	return true
}

func (r *LocalTaskRegistry) finishAdd(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.addTasks[id]; !ok {
		return false
	}
	delete(r.addTasks, id)
	return true
}

func (r *LocalTaskRegistry) startAnalysis(jobID int64, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.analysisTasks[jobID]; ok {
		return false
	}
	r.analysisTasks[jobID] = r.newTaskLocked(fmt.Sprintf("%s analyzing %s", r.hostName, name))
	return true
}

func (r *LocalTaskRegistry) finishAnalysis(jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.analysisTasks[jobID]; !ok {
		return false
	}
	delete(r.analysisTasks, jobID)
	return true
}

// newTaskLocked mints a task with the next id. Ids are never reused.
func (r *LocalTaskRegistry) newTaskLocked(status string) collaboration.Task {
	t := collaboration.Task{ID: r.nextTaskID, Status: status}
	r.nextTaskID++
	return t
}

// CurrentTasks returns the union of in-progress add and analysis tasks.
func (r *LocalTaskRegistry) CurrentTasks() collaboration.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(collaboration.TaskSnapshot, len(r.addTasks)+len(r.analysisTasks))
	for _, t := range r.addTasks {
		snap[t.ID] = t
	}
	for _, t := range r.analysisTasks {
		snap[t.ID] = t
	}
	return snap
}

// Broadcast hands the current snapshot to the publisher, even when nothing
// changed since the last one.
func (r *LocalTaskRegistry) Broadcast(ctx context.Context) {
	if r.publish == nil {
		return
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.publish(ctx, r.CurrentTasks())
}
