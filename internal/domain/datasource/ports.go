package datasource

import (
	"context"
	"errors"
)

// CaseDatabase records committed data sources for a case.
type CaseDatabase interface {
	RegisterDataSource(ctx context.Context, ds DataSource) error
	ListDataSources(ctx context.Context, caseID string) ([]DataSource, error)
}

// ErrDuplicateDataSource is returned when a case already holds a data source
// with the same object id.
var ErrDuplicateDataSource = errors.New("data source already registered")
