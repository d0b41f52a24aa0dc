package collaboration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
)

type indicatorCall struct {
	op     string
	status string
}

type fakeIndicator struct {
	mu    sync.Mutex
	host  string
	calls []indicatorCall
	panic bool
}

func (i *fakeIndicator) record(op, status string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, indicatorCall{op: op, status: status})
}

func (i *fakeIndicator) Start(status string) {
	i.record("start", status)
	if i.panic {
		panic("renderer gone")
	}
}

func (i *fakeIndicator) Progress(status string) { i.record("progress", status) }
func (i *fakeIndicator) Finish()                { i.record("finish", "") }

func (i *fakeIndicator) count(op string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	var n int
	for _, c := range i.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (i *fakeIndicator) last() indicatorCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls[len(i.calls)-1]
}

type fakeIndicatorFactory struct {
	mu         sync.Mutex
	indicators []*fakeIndicator
	panicky    bool
}

func (f *fakeIndicatorFactory) NewIndicator(host string) collaboration.ProgressIndicator {
	f.mu.Lock()
	defer f.mu.Unlock()
	ind := &fakeIndicator{host: host, panic: f.panicky}
	f.indicators = append(f.indicators, ind)
	return ind
}

func (f *fakeIndicatorFactory) all() []*fakeIndicator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeIndicator(nil), f.indicators...)
}

func (f *fakeIndicatorFactory) open() int {
	var n int
	for _, ind := range f.all() {
		if ind.count("finish") == 0 {
			n++
		}
	}
	return n
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []collaboration.TaskSnapshot
}

func (r *snapshotRecorder) publish(_ context.Context, tasks collaboration.TaskSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, tasks.Clone())
}

func (r *snapshotRecorder) last() collaboration.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func noopMetrics(t *testing.T) Metrics {
	t.Helper()
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

var testTracer = tracenoop.NewTracerProvider().Tracer("test")
