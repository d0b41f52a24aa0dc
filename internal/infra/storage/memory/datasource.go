// Package memory provides an in-memory case database for tests and
// single-node runs without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/caseflow/internal/domain/datasource"
)

var _ datasource.CaseDatabase = (*DataSourceStore)(nil)

type caseObject struct {
	caseID   string
	objectID int64
}

// DataSourceStore keeps data sources per case in insertion order.
type DataSourceStore struct {
	mu      sync.RWMutex
	byCase  map[string][]datasource.DataSource
	objects map[caseObject]struct{}
}

// NewDataSourceStore creates an empty store.
func NewDataSourceStore() *DataSourceStore {
	return &DataSourceStore{
		byCase:  make(map[string][]datasource.DataSource),
		objects: make(map[caseObject]struct{}),
	}
}

// RegisterDataSource records ds, rejecting a repeated object id within a case.
func (s *DataSourceStore) RegisterDataSource(ctx context.Context, ds datasource.DataSource) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := caseObject{caseID: ds.CaseID, objectID: ds.ObjectID}
	if _, ok := s.objects[key]; ok {
		return fmt.Errorf("%w: case %s object %d", datasource.ErrDuplicateDataSource, ds.CaseID, ds.ObjectID)
	}
	s.objects[key] = struct{}{}

	ds.Paths = slices.Clone(ds.Paths)
	s.byCase[ds.CaseID] = append(s.byCase[ds.CaseID], ds)
	return nil
}

// ListDataSources returns a copy of the case's data sources.
func (s *DataSourceStore) ListDataSources(ctx context.Context, caseID string) ([]datasource.DataSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byCase[caseID]), nil
}
