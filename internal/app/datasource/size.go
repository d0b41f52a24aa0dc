package datasource

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/ahrav/caseflow/internal/domain/datasource"
)

// SizeVerifier checks the image segments of a committed data source on disk.
type SizeVerifier struct{ fs afero.Fs }

// NewSizeVerifier returns a verifier reading from fs.
func NewSizeVerifier(fs afero.Fs) *SizeVerifier { return &SizeVerifier{fs: fs} }

// Verify sums the segment sizes. Each problem found is returned as a warning;
// none of them invalidate the add.
func (v *SizeVerifier) Verify(details datasource.ImageDetails) (int64, []string) {
	var (
		total    int64
		warnings []string
	)
	for _, path := range details.Paths {
		info, err := v.fs.Stat(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not read size of image segment %s: %v", path, err))
			continue
		}
		if info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("image segment %s is a directory", path))
			continue
		}
		if info.Size() == 0 {
			warnings = append(warnings, fmt.Sprintf("image segment %s is empty", path))
		}
		total += info.Size()
	}

	if details.SectorSize > 0 && total%int64(details.SectorSize) != 0 {
		warnings = append(warnings, fmt.Sprintf(
			"image size %d is not a multiple of the sector size %d", total, details.SectorSize))
	}
	return total, warnings
}
