package datasource

import (
	"time"

	"github.com/google/uuid"
)

// Result classifies the overall outcome of an add operation.
type Result int

const (
	// NoErrors means the add completed without any recorded message.
	NoErrors Result = iota
	// NonCriticalErrors means warnings were recorded but nothing forced a revert.
	NonCriticalErrors
	// CriticalErrors means the add was reverted or could not be finalized.
	CriticalErrors
)

func (r Result) String() string {
	switch r {
	case NoErrors:
		return "NO_ERRORS"
	case NonCriticalErrors:
		return "NONCRITICAL_ERRORS"
	case CriticalErrors:
		return "CRITICAL_ERRORS"
	default:
		return "UNKNOWN"
	}
}

// Classify derives the Result from the task's error state. A critical error
// always dominates any number of non-critical messages.
func Classify(critical bool, errs []string) Result {
	switch {
	case critical:
		return CriticalErrors
	case len(errs) > 0:
		return NonCriticalErrors
	default:
		return NoErrors
	}
}

// Callback receives the outcome of an add operation. Done is invoked exactly
// once per task.
type Callback interface {
	Done(result Result, errs []string, newDataSources []DataSource)
}

// CallbackFunc adapts a function to the Callback interface.
type CallbackFunc func(result Result, errs []string, newDataSources []DataSource)

// Done calls f.
func (f CallbackFunc) Done(result Result, errs []string, newDataSources []DataSource) {
	f(result, errs, newDataSources)
}

// DataSource is a data source that has been committed to a case.
type DataSource struct {
	ID         uuid.UUID
	ObjectID   int64
	CaseID     string
	Name       string
	DeviceID   string
	Paths      []string
	TimeZone   string
	SectorSize int
	Size       int64
	AddedAt    time.Time
}
