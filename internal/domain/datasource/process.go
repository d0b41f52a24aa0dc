package datasource

import (
	"errors"
	"fmt"
)

// ErrNoObjectID is a critical failure: the engine reported a successful commit
// but did not hand back the id of the new image object.
var ErrNoObjectID = errors.New("commit returned no object id")

// NativeAddProcess is the handle to one run of the native image-parsing engine.
// Run blocks until the engine finishes or notices a Stop request; Stop only
// sets a flag the engine checks between its own processing steps.
type NativeAddProcess interface {
	Run(deviceID string, paths []string, sectorSize int) error
	Stop() error
	Commit() (int64, error)
	Revert() error
	CurrentDirectory() string
}

// ProcessFactory creates a NativeAddProcess configured for one add operation.
type ProcessFactory interface {
	NewAddProcess(details ImageDetails) (NativeAddProcess, error)
}

// CoreError is an engine-core failure. It invalidates the in-progress add and
// forces a revert.
type CoreError struct{ Err error }

func (e *CoreError) Error() string { return fmt.Sprintf("core error: %v", e.Err) }

func (e *CoreError) Unwrap() error { return e.Err }

// DataError is a data-integrity warning raised by the engine. The add can
// still be committed.
type DataError struct{ Err error }

func (e *DataError) Error() string { return fmt.Sprintf("data error: %v", e.Err) }

func (e *DataError) Unwrap() error { return e.Err }

// IsCritical reports whether an engine error must abort the add. Anything
// that is not explicitly a DataError is treated as critical.
func IsCritical(err error) bool {
	if err == nil {
		return false
	}
	var dataErr *DataError
	return !errors.As(err, &dataErr)
}

// ErrAlreadyStarted is returned when Run is invoked more than once on the same task.
var ErrAlreadyStarted = errors.New("add task already started")
