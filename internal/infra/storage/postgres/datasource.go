// Package postgres implements the case database on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const uniqueViolation = "23505"

var _ datasource.CaseDatabase = (*DataSourceStore)(nil)

// DataSourceStore persists committed data sources.
type DataSourceStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewDataSourceStore creates a PostgreSQL-backed case database with tracing.
func NewDataSourceStore(pool *pgxpool.Pool, tracer trace.Tracer) *DataSourceStore {
	return &DataSourceStore{db: pool, tracer: tracer}
}

const insertDataSource = `
INSERT INTO data_sources (
    id, object_id, case_id, name, device_id, paths, time_zone, sector_size, size_bytes, added_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// RegisterDataSource records a committed data source.
func (s *DataSourceStore) RegisterDataSource(ctx context.Context, ds datasource.DataSource) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("data_source_id", ds.ID.String()),
		attribute.String("case_id", ds.CaseID),
		attribute.Int64("object_id", ds.ObjectID),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.register_data_source", dbAttrs, func(ctx context.Context) error {
		addedAt := ds.AddedAt
		if addedAt.IsZero() {
			addedAt = time.Now().UTC()
		}
		paths := ds.Paths
		if paths == nil {
			paths = []string{}
		}

		_, err := s.db.Exec(ctx, insertDataSource,
			ds.ID, ds.ObjectID, ds.CaseID, ds.Name, ds.DeviceID,
			paths, ds.TimeZone, ds.SectorSize, ds.Size, addedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: case %s object %d", datasource.ErrDuplicateDataSource, ds.CaseID, ds.ObjectID)
			}
			return fmt.Errorf("failed to insert data source: %w", err)
		}
		return nil
	})
}

const listDataSources = `
SELECT id, object_id, case_id, name, device_id, paths, time_zone, sector_size, size_bytes, added_at
FROM data_sources
WHERE case_id = $1
ORDER BY added_at, object_id`

// ListDataSources returns every data source of a case in the order they were added.
func (s *DataSourceStore) ListDataSources(ctx context.Context, caseID string) ([]datasource.DataSource, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("case_id", caseID))

	var out []datasource.DataSource
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_data_sources", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, listDataSources, caseID)
		if err != nil {
			return fmt.Errorf("failed to query data sources: %w", err)
		}

		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (datasource.DataSource, error) {
			var ds datasource.DataSource
			err := row.Scan(
				&ds.ID, &ds.ObjectID, &ds.CaseID, &ds.Name, &ds.DeviceID,
				&ds.Paths, &ds.TimeZone, &ds.SectorSize, &ds.Size, &ds.AddedAt,
			)
			ds.AddedAt = ds.AddedAt.UTC()
			return ds, err
		})
		if err != nil {
			return fmt.Errorf("failed to scan data sources: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
