package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
)

// assertAtMostOneDisposition checks that commit and revert each ran at most
// once and never both.
func assertAtMostOneDisposition(t *testing.T, p *fakeProcess) {
	t.Helper()
	commits, reverts := p.counts()
	assert.LessOrEqual(t, commits, 1, "commit invoked more than once")
	assert.LessOrEqual(t, reverts, 1, "revert invoked more than once")
	assert.False(t, commits > 0 && reverts > 0, "both commit and revert invoked")
}

func TestNewAdderValidation(t *testing.T) {
	_, err := NewAdder("", Deps{})
	assert.Error(t, err)

	_, err = NewAdder(testCaseID, Deps{Factory: factoryFor(newFakeProcess())})
	assert.Error(t, err)
}

func TestAddTask_SuccessfulAdd(t *testing.T) {
	proc := newFakeProcess()
	proc.dir = "/vol1/Users"
	proc.runFn = func(*fakeProcess) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}
	env := newTestEnv(t, factoryFor(proc))
	sink := new(recordingSink)
	cb := newCallbackRecorder()

	task := env.adder.NewTask()
	task.Run(context.Background(), validDetails(), sink, cb)

	calls, result, errs, added := cb.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.NoErrors, result)
	assert.Empty(t, errs)
	require.Len(t, added, 1)

	ds := added[0]
	assert.Equal(t, task.ID(), ds.ID)
	assert.Equal(t, int64(42), ds.ObjectID)
	assert.Equal(t, testCaseID, ds.CaseID)
	assert.Equal(t, "disk.raw", ds.Name)
	assert.Equal(t, int64(2048), ds.Size)

	commits, reverts := proc.counts()
	assert.Equal(t, 1, commits)
	assert.Zero(t, reverts)

	stored, err := env.store.ListDataSources(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Equal(t, added, stored)

	assert.Equal(t, []events.EventType{
		datasource.EventTypeAddingDataSource,
		datasource.EventTypeDataSourceAdded,
	}, env.pub.types())
	assert.Positive(t, sink.textCount(), "poller should have forwarded the current directory")
}

func TestAddTask_CancelBeforeStart(t *testing.T) {
	factory := factoryFor(newFakeProcess())
	env := newTestEnv(t, factory)
	cb := newCallbackRecorder()

	task := env.adder.NewTask()
	task.Cancel()
	task.Run(context.Background(), validDetails(), nil, cb)

	calls, result, errs, added := cb.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.NoErrors, result)
	assert.Empty(t, errs)
	assert.Empty(t, added)
	assert.Zero(t, factory.created())
	assert.Empty(t, env.pub.types())
}

func TestAddTask_ContextDoneBeforeStart(t *testing.T) {
	factory := factoryFor(newFakeProcess())
	env := newTestEnv(t, factory)
	cb := newCallbackRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.adder.NewTask().Run(ctx, validDetails(), nil, cb)

	calls, result, _, added := cb.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.NoErrors, result)
	assert.Empty(t, added)
	assert.Zero(t, factory.created())
}

func TestAddTask_CancelMidRunReverts(t *testing.T) {
	proc := newFakeProcess()
	proc.runFn = func(p *fakeProcess) error {
		<-p.stopped
		return nil // The engine reports success even though it was stopped.
	}
	env := newTestEnv(t, factoryFor(proc))
	cb := newCallbackRecorder()

	task := env.adder.NewTask()
	go task.Run(context.Background(), validDetails(), nil, cb)

	<-proc.started
	task.Cancel()
	cb.wait(t)

	calls, result, errs, added := cb.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.CriticalErrors, result)
	assert.Contains(t, errs, "add data source cancelled")
	assert.Empty(t, added)

	commits, reverts := proc.counts()
	assert.Zero(t, commits)
	assert.Equal(t, 1, reverts)
	assertAtMostOneDisposition(t, proc)

	assert.Equal(t, []events.EventType{
		datasource.EventTypeAddingDataSource,
		datasource.EventTypeAddingDataSourceFailed,
	}, env.pub.types())
}

func TestAddTask_ContextCancelMidRunReverts(t *testing.T) {
	proc := newFakeProcess()
	proc.runFn = func(p *fakeProcess) error {
		<-p.stopped
		return nil
	}
	env := newTestEnv(t, factoryFor(proc))
	cb := newCallbackRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.adder.NewTask().Run(ctx, validDetails(), nil, cb)

	<-proc.started
	cancel()
	cb.wait(t)

	_, result, _, added := cb.snapshot()
	assert.Equal(t, datasource.CriticalErrors, result)
	assert.Empty(t, added)
	_, reverts := proc.counts()
	assert.Equal(t, 1, reverts)
}

func TestAddTask_EngineErrors(t *testing.T) {
	tests := []struct {
		name        string
		runErr      error
		revertErr   error
		wantResult  datasource.Result
		wantCommits int
		wantReverts int
		wantErrs    []string
		wantAdded   int
	}{
		{
			name:        "critical engine error reverts",
			runErr:      &datasource.CoreError{Err: errors.New("corrupt volume table")},
			wantResult:  datasource.CriticalErrors,
			wantReverts: 1,
			wantErrs:    []string{"core error: corrupt volume table"},
		},
		{
			name:        "untyped engine error is critical",
			runErr:      errors.New("engine exploded"),
			wantResult:  datasource.CriticalErrors,
			wantReverts: 1,
			wantErrs:    []string{"engine exploded"},
		},
		{
			name:        "data warning still commits",
			runErr:      &datasource.DataError{Err: errors.New("unallocated sectors unreadable")},
			wantResult:  datasource.NonCriticalErrors,
			wantCommits: 1,
			wantErrs:    []string{"data error: unallocated sectors unreadable"},
			wantAdded:   1,
		},
		{
			name:        "failed revert is recorded but swallowed",
			runErr:      &datasource.CoreError{Err: errors.New("bad")},
			revertErr:   errors.New("database locked"),
			wantResult:  datasource.CriticalErrors,
			wantReverts: 1,
			wantErrs:    []string{"core error: bad", "failed to revert add process: database locked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newFakeProcess()
			proc.revertErr = tt.revertErr
			runErr := tt.runErr
			proc.runFn = func(*fakeProcess) error { return runErr }

			env := newTestEnv(t, factoryFor(proc))
			cb := newCallbackRecorder()
			env.adder.NewTask().Run(context.Background(), validDetails(), nil, cb)

			calls, result, errs, added := cb.snapshot()
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.wantResult, result)
			assert.Equal(t, tt.wantErrs, errs)
			assert.Len(t, added, tt.wantAdded)

			commits, reverts := proc.counts()
			assert.Equal(t, tt.wantCommits, commits)
			assert.Equal(t, tt.wantReverts, reverts)
			assertAtMostOneDisposition(t, proc)
		})
	}
}

func TestAddTask_EnginePanicIsCritical(t *testing.T) {
	proc := newFakeProcess()
	proc.runFn = func(*fakeProcess) error { panic("segfault in parser") }
	env := newTestEnv(t, factoryFor(proc))
	cb := newCallbackRecorder()

	env.adder.NewTask().Run(context.Background(), validDetails(), nil, cb)

	_, result, errs, _ := cb.snapshot()
	assert.Equal(t, datasource.CriticalErrors, result)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "segfault in parser")
	_, reverts := proc.counts()
	assert.Equal(t, 1, reverts)
}

func TestAddTask_CommitFailures(t *testing.T) {
	tests := []struct {
		name      string
		commitID  int64
		commitErr error
		wantErr   string
	}{
		{name: "commit error", commitID: 0, commitErr: errors.New("disk full"), wantErr: "failed to commit data source: disk full"},
		{name: "commit without object id", commitID: 0, wantErr: datasource.ErrNoObjectID.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newFakeProcess()
			proc.commitID = tt.commitID
			proc.commitErr = tt.commitErr
			env := newTestEnv(t, factoryFor(proc))
			cb := newCallbackRecorder()

			env.adder.NewTask().Run(context.Background(), validDetails(), nil, cb)

			_, result, errs, added := cb.snapshot()
			assert.Equal(t, datasource.CriticalErrors, result)
			assert.Equal(t, []string{tt.wantErr}, errs)
			assert.Empty(t, added)

			commits, reverts := proc.counts()
			assert.Equal(t, 1, commits)
			assert.Zero(t, reverts, "a commit is never followed by a revert")
			assert.Equal(t, []events.EventType{
				datasource.EventTypeAddingDataSource,
				datasource.EventTypeAddingDataSourceFailed,
			}, env.pub.types())
		})
	}
}

func TestAddTask_SizeWarningsAreNonCritical(t *testing.T) {
	proc := newFakeProcess()
	env := newTestEnv(t, factoryFor(proc))
	cb := newCallbackRecorder()

	details := validDetails()
	details.Paths = append(details.Paths, "/evidence/missing.002")
	env.adder.NewTask().Run(context.Background(), details, nil, cb)

	_, result, errs, added := cb.snapshot()
	assert.Equal(t, datasource.NonCriticalErrors, result)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "missing.002")
	assert.Len(t, added, 1)
}

func TestAddTask_RegistrationFailureIsCritical(t *testing.T) {
	proc := newFakeProcess()
	env := newTestEnv(t, factoryFor(proc))

	// Occupy the object id so registration collides.
	require.NoError(t, env.store.RegisterDataSource(context.Background(), datasource.DataSource{CaseID: testCaseID, ObjectID: 42}))

	cb := newCallbackRecorder()
	env.adder.NewTask().Run(context.Background(), validDetails(), nil, cb)

	_, result, errs, added := cb.snapshot()
	assert.Equal(t, datasource.CriticalErrors, result)
	assert.Empty(t, added)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "failed to register data source")
	assertAtMostOneDisposition(t, proc)
}

func TestAddTask_FactoryFailure(t *testing.T) {
	factory := &fakeFactory{err: errors.New("unsupported image format")}
	env := newTestEnv(t, factory)
	cb := newCallbackRecorder()

	env.adder.NewTask().Run(context.Background(), validDetails(), nil, cb)

	_, result, errs, added := cb.snapshot()
	assert.Equal(t, datasource.CriticalErrors, result)
	assert.Equal(t, []string{"failed to create add process: unsupported image format"}, errs)
	assert.Empty(t, added)
}

func TestAddTask_InvalidDetails(t *testing.T) {
	factory := factoryFor(newFakeProcess())
	env := newTestEnv(t, factory)
	cb := newCallbackRecorder()

	env.adder.NewTask().Run(context.Background(), datasource.ImageDetails{}, nil, cb)

	_, result, errs, _ := cb.snapshot()
	assert.Equal(t, datasource.CriticalErrors, result)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], datasource.ErrInvalidImageDetails.Error())
	assert.Zero(t, factory.created())
}

func TestAddTask_LockAcquisitionInterrupted(t *testing.T) {
	factory := factoryFor(newFakeProcess())
	acquiring := make(chan struct{}, 1)
	env := newTestEnv(t, factory, func(d *Deps) {
		d.Locks = &signalingLocks{inner: NewCaseLocks(), acquiring: acquiring}
	})

	// Another writer holds the case lock for the whole test.
	holder := env.locks.WriteLock(testCaseID)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release()
	<-acquiring // drain the signal produced by the holder itself

	ctx, cancel := context.WithCancel(context.Background())
	cb := newCallbackRecorder()
	go env.adder.NewTask().Run(ctx, validDetails(), nil, cb)

	<-acquiring
	cancel()
	cb.wait(t)

	calls, result, errs, added := cb.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.CriticalErrors, result)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "could not acquire case write lock")
	assert.Empty(t, added)
	assert.Zero(t, factory.created(), "no process is created without the lock")
}

func TestAddTask_RunTwice(t *testing.T) {
	proc := newFakeProcess()
	env := newTestEnv(t, factoryFor(proc))

	task := env.adder.NewTask()
	first := newCallbackRecorder()
	task.Run(context.Background(), validDetails(), nil, first)

	second := newCallbackRecorder()
	task.Run(context.Background(), validDetails(), nil, second)

	calls, result, _, _ := first.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.NoErrors, result)

	calls, result, errs, _ := second.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, datasource.CriticalErrors, result)
	assert.Equal(t, []string{datasource.ErrAlreadyStarted.Error()}, errs)

	commits, _ := proc.counts()
	assert.Equal(t, 1, commits)
}

func TestAddTask_ConcurrentTasksNeverOverlapDisposition(t *testing.T) {
	g := new(gauge)
	var n int
	var mu sync.Mutex
	factory := &fakeFactory{newProc: func() *fakeProcess {
		mu.Lock()
		defer mu.Unlock()
		n++
		p := newFakeProcess()
		p.commitID = int64(n)
		p.g = g
		p.hold = 10 * time.Millisecond
		if id := n; id%2 == 0 {
			p.runFn = func(*fakeProcess) error { return &datasource.CoreError{Err: fmt.Errorf("fail %d", id)} }
		}
		return p
	}}
	env := newTestEnv(t, factory)

	const tasks = 6
	recorders := make([]*callbackRecorder, tasks)
	var wg sync.WaitGroup
	for i := range tasks {
		recorders[i] = newCallbackRecorder()
		wg.Add(1)
		go func(cb *callbackRecorder) {
			defer wg.Done()
			env.adder.NewTask().Run(context.Background(), validDetails(), nil, cb)
		}(recorders[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), g.max.Load(), "commit/revert phases overlapped")
	for _, cb := range recorders {
		calls, _, _, _ := cb.snapshot()
		assert.Equal(t, 1, calls)
	}
	for _, p := range factory.procs {
		assertAtMostOneDisposition(t, p)
	}
}

func TestCaseLocks(t *testing.T) {
	locks := NewCaseLocks()
	a := locks.WriteLock("a")
	require.NoError(t, a.Acquire(context.Background()))

	// The same case is exclusive.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, locks.WriteLock("a").Acquire(ctx), context.DeadlineExceeded)

	// Other cases are independent.
	b := locks.WriteLock("b")
	require.NoError(t, b.Acquire(context.Background()))
	b.Release()

	a.Release()
	require.NoError(t, locks.WriteLock("a").Acquire(context.Background()))
}
