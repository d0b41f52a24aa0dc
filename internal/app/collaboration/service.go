package collaboration

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

const defaultCheckTimeout = 10 * time.Second

// ServiceMonitor periodically probes the services collaboration depends on
// and reports gaps in service. Only transitions are logged.
type ServiceMonitor struct {
	checkers []collaboration.ServiceChecker
	timeout  time.Duration

	mu sync.Mutex
	up map[string]bool

	metrics Metrics
	logger  *logger.Logger
}

// NewServiceMonitor creates a monitor over checkers.
func NewServiceMonitor(checkers []collaboration.ServiceChecker, metrics Metrics, log *logger.Logger) *ServiceMonitor {
	return &ServiceMonitor{
		checkers: checkers,
		timeout:  defaultCheckTimeout,
		up:       make(map[string]bool),
		metrics:  metrics,
		logger:   log.With("component", "service_monitor"),
	}
}

// CheckAll probes every service once and returns the failures by name.
func (s *ServiceMonitor) CheckAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, c := range s.checkers {
		name := c.Name()

		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := c.Check(checkCtx)
		cancel()

		if err != nil {
			failures[name] = err
		}
		s.record(ctx, name, err)
	}
	return failures
}

func (s *ServiceMonitor) record(ctx context.Context, name string, err error) {
	up := err == nil
	s.metrics.RecordServiceStatus(ctx, name, up)

	s.mu.Lock()
	prev, seen := s.up[name]
	s.up[name] = up
	s.mu.Unlock()

	switch {
	case !up && (!seen || prev):
		s.logger.Warn(ctx, "Collaboration service unavailable", "service", name, "error", err)
	case up && seen && !prev:
		s.logger.Info(ctx, "Collaboration service restored", "service", name)
	}
}

// Status reports the last observed availability of each checked service.
func (s *ServiceMonitor) Status() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Clone(s.up)
}
