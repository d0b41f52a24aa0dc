package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
)

var _ collaboration.ServiceChecker = (*HealthChecker)(nil)

// HealthChecker pings the case database.
type HealthChecker struct{ pool *pgxpool.Pool }

// NewHealthChecker returns a checker over pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker { return &HealthChecker{pool: pool} }

// Name implements collaboration.ServiceChecker.
func (h *HealthChecker) Name() string { return "postgres" }

// Check pings the database.
func (h *HealthChecker) Check(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
