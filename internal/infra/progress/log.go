package progress

import (
	"context"
	"sync/atomic"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

var _ collaboration.IndicatorFactory = (*LogIndicatorFactory)(nil)

// LogIndicatorFactory renders remote tasks into the log. Headless examiner
// nodes use it in place of a UI.
type LogIndicatorFactory struct {
	log    *logger.Logger
	nextID atomic.Int64
}

// NewLogIndicatorFactory returns a factory writing to log.
func NewLogIndicatorFactory(log *logger.Logger) *LogIndicatorFactory {
	return &LogIndicatorFactory{log: log.With("component", "remote_task_indicator")}
}

// NewIndicator implements collaboration.IndicatorFactory.
func (f *LogIndicatorFactory) NewIndicator(hostName string) collaboration.ProgressIndicator {
	return &logIndicator{log: f.log.With("host", hostName, "indicator_id", f.nextID.Add(1))}
}

type logIndicator struct{ log *logger.Logger }

func (l *logIndicator) Start(status string) {
	l.log.Info(context.Background(), "Remote task started", "status", status)
}

func (l *logIndicator) Progress(status string) {
	l.log.Debug(context.Background(), "Remote task progressed", "status", status)
}

func (l *logIndicator) Finish() {
	l.log.Info(context.Background(), "Remote task finished")
}
