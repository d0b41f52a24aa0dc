package collaboration

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/caseflow/internal/domain/events"
)

// ProgressIndicator renders one remote task to the local user.
type ProgressIndicator interface {
	Start(status string)
	Progress(status string)
	Finish()
}

// IndicatorFactory creates indicators for tasks running on hostName.
type IndicatorFactory interface {
	NewIndicator(hostName string) ProgressIndicator
}

// ChannelOpener opens a named publish/subscribe channel shared by every node
// working on the same case.
type ChannelOpener interface {
	OpenChannel(ctx context.Context, name string) (events.EventBus, error)
}

// ServiceChecker probes the availability of a service the collaboration
// features depend on.
type ServiceChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// ErrMonitorClosed is returned by operations on a monitor that has been shut down.
var ErrMonitorClosed = errors.New("collaboration monitor closed")

// MonitorError reports a failure while opening the collaboration monitor.
type MonitorError struct {
	Op  string
	Err error
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("collaboration monitor: %s: %v", e.Op, e.Err)
}

func (e *MonitorError) Unwrap() error { return e.Err }
