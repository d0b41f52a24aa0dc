package datasource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/domain/events"
	"github.com/ahrav/caseflow/internal/infra/storage/memory"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

const testCaseID = "case-1"

// gauge tracks how many callers are inside a critical section at once.
type gauge struct {
	current atomic.Int32
	max     atomic.Int32
}

func (g *gauge) enter() {
	n := g.current.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *gauge) exit() { g.current.Add(-1) }

type fakeProcess struct {
	mu sync.Mutex

	runFn     func(p *fakeProcess) error
	commitID  int64
	commitErr error
	revertErr error
	dir       string
	hold      time.Duration
	g         *gauge

	runs, commits, reverts, stops int

	startOnce sync.Once
	started   chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		commitID: 42,
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (p *fakeProcess) Run(string, []string, int) error {
	p.mu.Lock()
	p.runs++
	fn := p.runFn
	p.mu.Unlock()

	p.startOnce.Do(func() { close(p.started) })
	if fn != nil {
		return fn(p)
	}
	return nil
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopped) })
	return nil
}

func (p *fakeProcess) section() {
	if p.g == nil {
		return
	}
	p.g.enter()
	time.Sleep(p.hold)
	p.g.exit()
}

func (p *fakeProcess) Commit() (int64, error) {
	p.section()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commits++
	return p.commitID, p.commitErr
}

func (p *fakeProcess) Revert() error {
	p.section()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reverts++
	return p.revertErr
}

func (p *fakeProcess) CurrentDirectory() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

func (p *fakeProcess) counts() (commits, reverts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commits, p.reverts
}

type fakeFactory struct {
	mu      sync.Mutex
	newProc func() *fakeProcess
	err     error
	procs   []*fakeProcess
}

func (f *fakeFactory) NewAddProcess(datasource.ImageDetails) (datasource.NativeAddProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := f.newProc()
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func factoryFor(p *fakeProcess) *fakeFactory {
	return &fakeFactory{newProc: func() *fakeProcess { return p }}
}

type callbackRecorder struct {
	mu     sync.Mutex
	calls  int
	result datasource.Result
	errs   []string
	added  []datasource.DataSource
	done   chan struct{}
}

func newCallbackRecorder() *callbackRecorder { return &callbackRecorder{done: make(chan struct{})} }

func (r *callbackRecorder) Done(result datasource.Result, errs []string, added []datasource.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.result, r.errs, r.added = result, errs, added
	if r.calls == 1 {
		close(r.done)
	}
}

func (r *callbackRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not invoked")
	}
}

func (r *callbackRecorder) snapshot() (int, datasource.Result, []string, []datasource.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.result, r.errs, r.added
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
	pct   []int
}

func (s *recordingSink) SetIndeterminate(bool) {}

func (s *recordingSink) SetProgress(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pct = append(s.pct, p)
}

func (s *recordingSink) SetProgressText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *recordingSink) textCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

// signalingLocks reports every Acquire call before delegating.
type signalingLocks struct {
	inner     LockProvider
	acquiring chan struct{}
}

func (s *signalingLocks) WriteLock(caseID string) WriteLocker {
	return &signalingLock{inner: s.inner.WriteLock(caseID), acquiring: s.acquiring}
}

type signalingLock struct {
	inner     WriteLocker
	acquiring chan struct{}
}

func (l *signalingLock) Acquire(ctx context.Context) error {
	select {
	case l.acquiring <- struct{}{}:
	default:
	}
	return l.inner.Acquire(ctx)
}

func (l *signalingLock) Release() { l.inner.Release() }

type testEnv struct {
	adder *Adder
	store *memory.DataSourceStore
	pub   *recordingPublisher
	fs    afero.Fs
	locks LockProvider
}

func newTestEnv(t *testing.T, factory datasource.ProcessFactory, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/evidence/disk.raw", make([]byte, 2048), 0o644))

	env := &testEnv{
		store: memory.NewDataSourceStore(),
		pub:   new(recordingPublisher),
		fs:    fs,
		locks: NewCaseLocks(),
	}
	deps := Deps{
		Factory:   factory,
		Locks:     env.locks,
		Database:  env.store,
		Publisher: env.pub,
		Sizes:     NewSizeVerifier(fs),
		Logger:    logger.Noop(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	env.locks = deps.Locks

	adder, err := NewAdder(testCaseID, deps, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	env.adder = adder
	return env
}

func validDetails() datasource.ImageDetails {
	return datasource.ImageDetails{
		DeviceID:   "dev-1",
		Paths:      []string{"/evidence/disk.raw"},
		SectorSize: 512,
		TimeZone:   "UTC",
	}
}
