package datasource

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WriteLocker is the case-wide single-writer lock. Acquire blocks until the
// lock is held or ctx is done.
type WriteLocker interface {
	Acquire(ctx context.Context) error
	Release()
}

// LockProvider hands out the write lock for a case.
type LockProvider interface {
	WriteLock(caseID string) WriteLocker
}

var _ LockProvider = (*CaseLocks)(nil)

// CaseLocks keeps one write lock per case for the lifetime of the process.
// Every add, commit and revert for a case runs while holding it.
type CaseLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewCaseLocks creates an empty lock table.
func NewCaseLocks() *CaseLocks {
	return &CaseLocks{locks: make(map[string]*semaphore.Weighted)}
}

// WriteLock returns the write lock for caseID, creating it on first use.
func (c *CaseLocks) WriteLock(caseID string) WriteLocker {
	c.mu.Lock()
	defer c.mu.Unlock()

	sem, ok := c.locks[caseID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		c.locks[caseID] = sem
	}
	return writeLock{sem: sem}
}

type writeLock struct{ sem *semaphore.Weighted }

func (l writeLock) Acquire(ctx context.Context) error { return l.sem.Acquire(ctx, 1) }

func (l writeLock) Release() { l.sem.Release(1) }
