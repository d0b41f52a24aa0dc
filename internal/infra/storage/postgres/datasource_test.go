package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/internal/infra/storage"
)

// setupDataSourceTest connects to a test database container with migrations already applied.
func setupDataSourceTest(t *testing.T) (context.Context, *pgxpool.Pool, *DataSourceStore, func()) {
	t.Helper()

	ctx := context.Background()
	pool, containerCleanup := storage.SetupTestContainer(t)
	store := NewDataSourceStore(pool, storage.NoOpTracer())

	cleanup := func() {
		if _, err := pool.Exec(ctx, "DELETE FROM data_sources"); err != nil {
			t.Logf("Failed to clean up data_sources table: %v", err)
		}
		containerCleanup()
	}
	return ctx, pool, store, cleanup
}

func newTestDataSource(caseID string, objectID int64, addedAt time.Time) datasource.DataSource {
	return datasource.DataSource{
		ID:         uuid.New(),
		ObjectID:   objectID,
		CaseID:     caseID,
		Name:       "disk.E01",
		DeviceID:   "dev-" + uuid.NewString(),
		Paths:      []string{"/evidence/disk.E01", "/evidence/disk.E02"},
		TimeZone:   "America/New_York",
		SectorSize: 512,
		Size:       4096,
		AddedAt:    addedAt,
	}
}

func TestDataSourceStore_RegisterAndList(t *testing.T) {
	t.Parallel()

	ctx, _, store, cleanup := setupDataSourceTest(t)
	defer cleanup()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	first := newTestDataSource("case-1", 10, base)
	second := newTestDataSource("case-1", 20, base.Add(time.Minute))
	other := newTestDataSource("case-2", 10, base)

	require.NoError(t, store.RegisterDataSource(ctx, second))
	require.NoError(t, store.RegisterDataSource(ctx, first))
	require.NoError(t, store.RegisterDataSource(ctx, other))

	got, err := store.ListDataSources(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestDataSourceStore_DuplicateObjectID(t *testing.T) {
	t.Parallel()

	ctx, _, store, cleanup := setupDataSourceTest(t)
	defer cleanup()

	ds := newTestDataSource("case-1", 7, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, store.RegisterDataSource(ctx, ds))

	dup := newTestDataSource("case-1", 7, ds.AddedAt)
	err := store.RegisterDataSource(ctx, dup)
	assert.ErrorIs(t, err, datasource.ErrDuplicateDataSource)
}

func TestDataSourceStore_ListEmptyCase(t *testing.T) {
	t.Parallel()

	ctx, _, store, cleanup := setupDataSourceTest(t)
	defer cleanup()

	got, err := store.ListDataSources(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHealthChecker(t *testing.T) {
	t.Parallel()

	ctx, pool, _, cleanup := setupDataSourceTest(t)
	defer cleanup()

	checker := NewHealthChecker(pool)
	assert.Equal(t, "postgres", checker.Name())
	assert.NoError(t, checker.Check(ctx))
}
