package datasource

import (
	"context"
	"fmt"
)

// LocalFilesDetails configures adding a set of loose files and folders as one
// logical data source.
type LocalFilesDetails struct {
	DeviceID    string   `validate:"required"`
	DisplayName string
	TimeZone    string
	Paths       []string `validate:"required,min=1,dive,required"`
}

// Validate checks the details before any files are added.
func (d LocalFilesDetails) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImageDetails, err)
	}
	return nil
}

// FileManager adds logical files to the case. fileAdded is invoked for every
// file as it is added. A logical-files add cannot be reverted; files added
// before an error or cancellation stay in the case.
type FileManager interface {
	AddLocalFiles(ctx context.Context, details LocalFilesDetails, fileAdded func(path string)) (int64, error)
}
