package scan

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Permit serializes scan, connect, reassociate and user-scan operations.
// It is acquired by whoever starts the operation and released by the event
// loop once the operation's scan has been handled.
type Permit struct {
	sem      *semaphore.Weighted
	acquired atomic.Uint64
	released atomic.Uint64
}

// NewPermit creates an unheld permit
func NewPermit() *Permit {
	return &Permit{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the permit is free or ctx is done
func (p *Permit) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.acquired.Add(1)
	return nil
}

// TryAcquire takes the permit without blocking
func (p *Permit) TryAcquire() bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.acquired.Add(1)
	return true
}

// Release returns the permit. Releasing an unheld permit panics.
func (p *Permit) Release() {
	p.sem.Release(1)
	p.released.Add(1)
}

// Held reports whether some operation owns the permit
func (p *Permit) Held() bool {
	return p.acquired.Load() != p.released.Load()
}

// Counts returns the lifetime acquire and release totals
func (p *Permit) Counts() (acquired, released uint64) {
	return p.acquired.Load(), p.released.Load()
}
