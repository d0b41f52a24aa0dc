// Package datasource models adding a forensic data source to a case database:
// the immutable request (ImageDetails), the native engine that performs the
// add, the outcome classification, and the case lifecycle events raised along
// the way.
package datasource

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidImageDetails is returned by ImageDetails.Validate.
var ErrInvalidImageDetails = errors.New("invalid image details")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ImageWriterSettings configures the optional copy of the image the engine
// writes while it reads the source device.
type ImageWriterSettings struct {
	Path         string `validate:"required"`
	UpdateHashes bool
}

// ImageDetails is the immutable configuration for one add operation.
type ImageDetails struct {
	DeviceID             string   `validate:"required"`
	Paths                []string `validate:"required,min=1,dive,required"`
	SectorSize           int      `validate:"oneof=0 512 1024 2048 4096"`
	TimeZone             string
	IgnoreFatOrphanFiles bool
	ImageWriterSettings  *ImageWriterSettings `validate:"omitempty"`
}

// Path returns the primary image path, the first segment.
func (d ImageDetails) Path() string {
	if len(d.Paths) == 0 {
		return ""
	}
	return d.Paths[0]
}

// Validate checks the details before any engine work is attempted.
func (d ImageDetails) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", ErrInvalidImageDetails, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidImageDetails, err)
	}
	return nil
}
