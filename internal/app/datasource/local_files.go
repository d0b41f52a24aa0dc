package datasource

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

// fileProgressEvery is how many added files pass between progress text updates.
const fileProgressEvery = 10

// LocalFilesTask adds loose files as a logical data source. Unlike an image
// add it neither takes the case write lock nor reverts: files added before a
// failure or cancellation remain in the case.
type LocalFilesTask struct {
	adder *Adder
	id    uuid.UUID
	log   *logger.Logger

	mu              sync.Mutex
	started         bool
	cancelRequested bool
	cancelRun       context.CancelFunc
	criticalErr     bool
	errs            []string
}

// NewLocalFilesTask returns a logical-files task that has not started yet.
func (a *Adder) NewLocalFilesTask() *LocalFilesTask {
	id := uuid.New()
	return &LocalFilesTask{
		adder: a,
		id:    id,
		log:   a.log.With("data_source_id", id.String(), "kind", "local_files"),
	}
}

// ID correlates the task with the lifecycle events it publishes.
func (t *LocalFilesTask) ID() uuid.UUID { return t.id }

// Cancel stops the task. Files already added are kept.
func (t *LocalFilesTask) Cancel() {
	t.mu.Lock()
	t.cancelRequested = true
	cancel := t.cancelRun
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run adds the files and invokes cb exactly once.
func (t *LocalFilesTask) Run(ctx context.Context, details datasource.LocalFilesDetails, sink datasource.ProgressSink, cb datasource.Callback) {
	if sink == nil {
		sink = datasource.NoopProgressSink{}
	}
	a := t.adder

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		cb.Done(datasource.CriticalErrors, []string{datasource.ErrAlreadyStarted.Error()}, nil)
		return
	}
	t.started = true
	t.mu.Unlock()

	start := a.deps.TimeProvider.Now()
	ctx, span := a.deps.Tracer.Start(ctx, "local_files_task.run",
		trace.WithAttributes(
			attribute.String("case_id", a.caseID),
			attribute.String("data_source_id", t.id.String()),
		))
	defer span.End()

	var added []datasource.DataSource
	defer func() {
		result, errs := t.outcome()
		a.deps.Metrics.RecordResult(ctx, "local_files", result, a.deps.TimeProvider.Now().Sub(start))
		t.log.Info(ctx, "Add local files task finished", "result", result.String(), "error_count", len(errs))
		cb.Done(result, errs, added)
	}()

	if err := details.Validate(); err != nil {
		t.record(true, err.Error())
		return
	}
	if a.deps.Files == nil {
		t.record(true, "no file manager configured")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.cancelRequested || ctx.Err() != nil {
		t.mu.Unlock()
		t.log.Info(ctx, "Add local files cancelled before start")
		return
	}
	t.cancelRun = cancel
	t.mu.Unlock()

	t.publishStarted(runCtx)
	sink.SetIndeterminate(true)

	var count int
	fileAdded := func(path string) {
		count++
		if count%fileProgressEvery == 0 {
			sink.SetProgressText(fmt.Sprintf("Adding: %s", path))
		}
	}

	objectID, err := a.deps.Files.AddLocalFiles(runCtx, details, fileAdded)

	t.mu.Lock()
	cancelled := t.cancelRequested
	t.mu.Unlock()

	switch {
	case cancelled || (err != nil && errors.Is(err, context.Canceled)):
		t.record(true, "add local files cancelled")
	case err != nil && datasource.IsCritical(err):
		t.log.Error(ctx, "Critical error adding local files", "error", err)
		t.record(true, fmt.Sprintf("critical error adding local files: %v", err))
	case err != nil:
		t.log.Warn(ctx, "Error adding local files", "error", err)
		t.record(false, err.Error())
	}

	t.mu.Lock()
	critical := t.criticalErr
	t.mu.Unlock()
	if critical {
		t.publishFailed(ctx, "local files add failed")
		return
	}
	if objectID <= 0 {
		t.record(true, datasource.ErrNoObjectID.Error())
		t.publishFailed(ctx, "no object id")
		return
	}

	name := details.DisplayName
	if name == "" {
		name = fmt.Sprintf("LogicalFileSet-%d", objectID)
	}
	ds := datasource.DataSource{
		ID:       t.id,
		ObjectID: objectID,
		CaseID:   a.caseID,
		Name:     name,
		DeviceID: details.DeviceID,
		Paths:    slices.Clone(details.Paths),
		TimeZone: details.TimeZone,
		AddedAt:  a.deps.TimeProvider.Now(),
	}
	if err := a.deps.Database.RegisterDataSource(ctx, ds); err != nil {
		t.record(true, fmt.Sprintf("failed to register data source: %v", err))
		t.publishFailed(ctx, "registration failed")
		return
	}

	sink.SetProgress(100)
	added = []datasource.DataSource{ds}
	t.publishAdded(ctx, ds)
}

func (t *LocalFilesTask) publishStarted(ctx context.Context) {
	t.publish(ctx, datasource.NewAddingDataSourceEvent(t.id))
}

func (t *LocalFilesTask) publishFailed(ctx context.Context, reason string) {
	t.publish(ctx, datasource.NewAddingDataSourceFailedEvent(t.id, reason))
}

func (t *LocalFilesTask) publishAdded(ctx context.Context, ds datasource.DataSource) {
	t.publish(ctx, datasource.NewDataSourceAddedEvent(ds))
}

func (t *LocalFilesTask) publish(ctx context.Context, evt events.DomainEvent) {
	publishEvent(ctx, t.adder.deps.Publisher, t.log, t.id, evt)
}

func (t *LocalFilesTask) record(critical bool, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if critical {
		t.criticalErr = true
	}
	t.errs = append(t.errs, msg)
}

func (t *LocalFilesTask) outcome() (datasource.Result, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := slices.Clone(t.errs)
	if errs == nil {
		errs = []string{}
	}
	return datasource.Classify(t.criticalErr, errs), errs
}
