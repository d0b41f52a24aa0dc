// Package datasource runs the add-data-source lifecycle: it serializes adds
// per case, drives the native engine, chooses exactly once between commit and
// revert, and reports the outcome through a single callback.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/pkg/common/logger"
	"github.com/ahrav/caseflow/pkg/common/timeutil"
)

// Deps are the collaborators shared by every task an Adder creates.
// Factory, Locks and Database are required.
type Deps struct {
	Factory   datasource.ProcessFactory
	Locks     LockProvider
	Database  datasource.CaseDatabase
	Publisher events.DomainEventPublisher
	Files     datasource.FileManager
	Sizes     *SizeVerifier

	Logger       *logger.Logger
	Tracer       trace.Tracer
	Metrics      Metrics
	TimeProvider timeutil.Provider
}

// Adder mints add tasks for one case.
type Adder struct {
	caseID       string
	pollInterval time.Duration

	deps Deps
	log  *logger.Logger
}

// Option configures an Adder.
type Option func(*Adder)

// WithPollInterval overrides how often engine progress is forwarded.
func WithPollInterval(d time.Duration) Option { return func(a *Adder) { a.pollInterval = d } }

// NewAdder validates deps and fills in defaults for the optional ones.
func NewAdder(caseID string, deps Deps, opts ...Option) (*Adder, error) {
	if caseID == "" {
		return nil, errors.New("case id is required")
	}
	if deps.Factory == nil || deps.Locks == nil || deps.Database == nil {
		return nil, errors.New("process factory, lock provider and case database are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Noop()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer("datasource")
	}
	if deps.Metrics == nil {
		m, err := NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, err
		}
		deps.Metrics = m
	}
	if deps.TimeProvider == nil {
		deps.TimeProvider = timeutil.Default()
	}
	if deps.Sizes == nil {
		deps.Sizes = NewSizeVerifier(afero.NewOsFs())
	}

	a := &Adder{
		caseID:       caseID,
		pollInterval: DefaultPollInterval,
		deps:         deps,
		log:          deps.Logger.With("component", "data_source_adder", "case_id", caseID),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewTask returns a task that has not started yet. It may be cancelled
// before Run is called.
func (a *Adder) NewTask() *AddTask {
	id := uuid.New()
	return &AddTask{
		adder: a,
		id:    id,
		log:   a.log.With("data_source_id", id.String()),
	}
}

// AddTask adds one image to the case. All mutable state is guarded by mu.
type AddTask struct {
	adder *Adder
	id    uuid.UUID
	log   *logger.Logger

	mu              sync.Mutex
	started         bool
	cancelRequested bool
	process         datasource.NativeAddProcess
	reverted        bool
	committed       bool
	criticalErr     bool
	errs            []string
}

// ID correlates the task with the lifecycle events it publishes.
func (t *AddTask) ID() uuid.UUID { return t.id }

// Cancel requests that the task stop. Before the engine process exists the
// request is honoured immediately; afterwards it is forwarded to the engine,
// which stops at its next checkpoint. A cancelled task never commits.
func (t *AddTask) Cancel() {
	t.mu.Lock()
	t.cancelRequested = true
	proc := t.process
	t.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Stop(); err != nil {
		t.log.Warn(context.Background(), "Failed to signal add process to stop", "error", err)
	}
}

// Run performs the add and invokes cb exactly once. Cancelling ctx has the
// same effect as calling Cancel.
func (t *AddTask) Run(ctx context.Context, details datasource.ImageDetails, sink datasource.ProgressSink, cb datasource.Callback) {
	if sink == nil {
		sink = datasource.NoopProgressSink{}
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		cb.Done(datasource.CriticalErrors, []string{datasource.ErrAlreadyStarted.Error()}, nil)
		return
	}
	t.started = true
	t.mu.Unlock()

	a := t.adder
	start := a.deps.TimeProvider.Now()
	ctx, span := a.deps.Tracer.Start(ctx, "add_task.run",
		trace.WithAttributes(
			attribute.String("case_id", a.caseID),
			attribute.String("data_source_id", t.id.String()),
			attribute.String("device_id", details.DeviceID),
		))
	defer span.End()

	var newDataSources []datasource.DataSource
	finish := func() {
		result, errs := t.outcome()
		span.SetAttributes(attribute.String("result", result.String()))
		if result == datasource.CriticalErrors {
			span.SetStatus(codes.Error, "add task failed")
		}
		a.deps.Metrics.RecordResult(ctx, "image", result, a.deps.TimeProvider.Now().Sub(start))
		t.log.Info(ctx, "Add data source task finished",
			"result", result.String(),
			"error_count", len(errs),
			"data_sources", len(newDataSources),
		)
		cb.Done(result, errs, newDataSources)
	}

	if err := details.Validate(); err != nil {
		t.recordCritical(err.Error())
		finish()
		return
	}

	// A context that is already done is a cancellation before start.
	if ctx.Err() != nil {
		t.Cancel()
		t.log.Info(ctx, "Add data source cancelled before start")
		finish()
		return
	}
	stopWatching := context.AfterFunc(ctx, t.Cancel)
	defer stopWatching()

	sink.SetIndeterminate(true)

	lock := a.deps.Locks.WriteLock(a.caseID)
	if err := lock.Acquire(ctx); err != nil {
		t.log.Warn(ctx, "Interrupted while waiting for case write lock", "error", err)
		t.recordCritical(fmt.Sprintf("could not acquire case write lock: %v", err))
		finish()
		return
	}

	func() {
		defer lock.Release()
		newDataSources = t.runLocked(ctx, details, sink)
	}()

	finish()
}

// runLocked is everything that happens while the case write lock is held.
func (t *AddTask) runLocked(
	ctx context.Context,
	details datasource.ImageDetails,
	sink datasource.ProgressSink,
) []datasource.DataSource {
	a := t.adder

	t.mu.Lock()
	if t.cancelRequested {
		t.mu.Unlock()
		t.log.Info(ctx, "Add data source cancelled before start")
		return nil
	}

	proc, err := a.deps.Factory.NewAddProcess(details)
	if err != nil {
		t.criticalErr = true
		t.errs = append(t.errs, fmt.Sprintf("failed to create add process: %v", err))
		t.mu.Unlock()
		t.publish(ctx, datasource.NewAddingDataSourceEvent(t.id))
		t.publish(ctx, datasource.NewAddingDataSourceFailedEvent(t.id, "add process could not be created"))
		return nil
	}
	t.process = proc
	t.mu.Unlock()

	t.publish(ctx, datasource.NewAddingDataSourceEvent(t.id))

	undo := newCompensations()
	keepChanges := undo.register(func() { t.revert(ctx) })
	defer undo.run()

	poller := startPoller(proc, sink, a.pollInterval, t.log)
	runErr := t.runEngine(proc, details)
	poller.stop()

	if runErr != nil {
		if datasource.IsCritical(runErr) {
			t.log.Error(ctx, "Critical error adding image", "error", runErr)
			t.recordCritical(runErr.Error())
		} else {
			t.log.Warn(ctx, "Non-critical error adding image", "error", runErr)
			t.recordWarning(runErr.Error())
		}
	}

	t.mu.Lock()
	cancelled, critical := t.cancelRequested, t.criticalErr
	t.mu.Unlock()

	if cancelled || critical {
		reason := "critical error while adding image"
		if cancelled {
			t.recordCritical("add data source cancelled")
			reason = "cancelled"
		}
		undo.run()
		t.publish(ctx, datasource.NewAddingDataSourceFailedEvent(t.id, reason))
		return nil
	}

	keepChanges()

	ds, ok := t.commit(ctx, details)
	if !ok {
		t.publish(ctx, datasource.NewAddingDataSourceFailedEvent(t.id, "commit failed"))
		return nil
	}
	sink.SetProgress(100)
	t.publish(ctx, datasource.NewDataSourceAddedEvent(ds))
	return []datasource.DataSource{ds}
}

// runEngine runs the native process, converting a panic into a core error.
func (t *AddTask) runEngine(proc datasource.NativeAddProcess, details datasource.ImageDetails) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &datasource.CoreError{Err: fmt.Errorf("add process panicked: %v", r)}
		}
	}()
	return proc.Run(details.DeviceID, details.Paths, details.SectorSize)
}

// commit finalizes the add and registers the data source. It reports false
// when the add could not be finalized.
func (t *AddTask) commit(ctx context.Context, details datasource.ImageDetails) (datasource.DataSource, bool) {
	a := t.adder
	ctx, span := a.deps.Tracer.Start(ctx, "add_task.commit")
	defer span.End()

	t.mu.Lock()
	if t.reverted || t.committed {
		t.mu.Unlock()
		return datasource.DataSource{}, false
	}
	t.committed = true
	proc := t.process
	t.mu.Unlock()

	objectID, err := proc.Commit()
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		t.log.Error(ctx, "Failed to commit added image", "error", err)
		t.recordCritical(fmt.Sprintf("failed to commit data source: %v", err))
		return datasource.DataSource{}, false
	case objectID <= 0:
		span.SetStatus(codes.Error, "commit returned no object id")
		t.log.Error(ctx, "Commit returned no object id")
		t.recordCritical(datasource.ErrNoObjectID.Error())
		return datasource.DataSource{}, false
	}
	a.deps.Metrics.IncCommits(ctx)
	span.SetAttributes(attribute.Int64("object_id", objectID))

	size, warnings := a.deps.Sizes.Verify(details)

	ds := datasource.DataSource{
		ID:         t.id,
		ObjectID:   objectID,
		CaseID:     a.caseID,
		Name:       filepath.Base(details.Path()),
		DeviceID:   details.DeviceID,
		Paths:      slices.Clone(details.Paths),
		TimeZone:   details.TimeZone,
		SectorSize: details.SectorSize,
		Size:       size,
		AddedAt:    a.deps.TimeProvider.Now(),
	}
	if err := a.deps.Database.RegisterDataSource(ctx, ds); err != nil {
		span.RecordError(err)
		t.log.Error(ctx, "Failed to register committed data source", "object_id", objectID, "error", err)
		t.recordCritical(fmt.Sprintf("failed to register data source: %v", err))
		return datasource.DataSource{}, false
	}

	for _, w := range warnings {
		t.log.Warn(ctx, "Image size verification warning", "warning", w)
		t.recordWarning(w)
	}
	return ds, true
}

// revert undoes the add. It runs at most once and never after a commit. A
// failed revert is logged and recorded but not retried.
func (t *AddTask) revert(ctx context.Context) {
	a := t.adder

	t.mu.Lock()
	if t.reverted || t.committed || t.process == nil {
		t.mu.Unlock()
		return
	}
	t.reverted = true
	proc := t.process
	t.mu.Unlock()

	ctx, span := a.deps.Tracer.Start(ctx, "add_task.revert")
	defer span.End()

	if err := proc.Revert(); err != nil {
		span.RecordError(err)
		a.deps.Metrics.IncReverts(ctx, true)
		t.log.Warn(ctx, "Failed to revert add process; case may hold a partial data source", "error", err)
		t.recordWarning(fmt.Sprintf("failed to revert add process: %v", err))
		return
	}
	a.deps.Metrics.IncReverts(ctx, false)
	t.log.Info(ctx, "Reverted add process")
}

func (t *AddTask) publish(ctx context.Context, evt events.DomainEvent) {
	publishEvent(ctx, t.adder.deps.Publisher, t.log, t.id, evt)
}

// publishEvent publishes a case lifecycle event keyed by the data source id.
// Failures are logged only; they never change a task's outcome.
func publishEvent(ctx context.Context, pub events.DomainEventPublisher, log *logger.Logger, id uuid.UUID, evt events.DomainEvent) {
	if pub == nil {
		return
	}
	if err := pub.PublishDomainEvent(ctx, evt, events.WithKey(id.String())); err != nil {
		log.Warn(ctx, "Failed to publish case event", "event_type", evt.EventType(), "error", err)
	}
}

func (t *AddTask) recordCritical(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.criticalErr = true
	t.errs = append(t.errs, msg)
}

func (t *AddTask) recordWarning(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, msg)
}

func (t *AddTask) outcome() (datasource.Result, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := slices.Clone(t.errs)
	if errs == nil {
		errs = []string{}
	}
	return datasource.Classify(t.criticalErr, errs), errs
}
