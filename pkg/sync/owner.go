package sync

import (
	"context"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
)

// Owner identifies a single logical thread of control. It records the
// locks held on its behalf, so that reentrant acquisitions can be
// detected and nested acquisitions can be made non-blocking.
//
// An Owner may only be used by one goroutine at a time.
type Owner struct {
	locks   LockPile
	retries int
}

type ownerKey struct{}

// NewOwnerContext returns a context that carries a new Owner.
// Operations invoked with contexts derived from it are considered to
// be performed by the same logical thread.
func NewOwnerContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, &Owner{})
}

// OwnerFromContext returns the Owner stored in a context, if any.
func OwnerFromContext(ctx context.Context) (*Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(*Owner)
	return o, ok
}

// EnsureOwner returns the Owner stored in a context. If the context
// does not carry one, a new Owner is created, together with a context
// carrying it.
func EnsureOwner(ctx context.Context) (context.Context, *Owner) {
	if o, ok := OwnerFromContext(ctx); ok {
		return ctx, o
	}
	o := &Owner{}
	return context.WithValue(ctx, ownerKey{}, o), o
}

// Lock acquires a mutex on behalf of the owner. See LockPile.Acquire()
// for the semantics of nested acquisitions.
func (o *Owner) Lock(m *TimedRWMutex, exclusive bool, clock clock.Clock, timeout time.Duration) AcquireResult {
	return o.locks.Acquire(m, exclusive, clock, timeout)
}

// Unlock releases a mutex acquired through Lock().
func (o *Owner) Unlock(m *TimedRWMutex) {
	o.locks.Release(m)
}

// HoldsAnyLock returns whether the owner holds at least one lock. If
// it does, any further acquisition is nested.
func (o *Owner) HoldsAnyLock() bool {
	return len(o.locks) > 0
}

// HoldsOtherLocks returns whether the owner holds any lock other than
// the one provided.
func (o *Owner) HoldsOtherLocks(m *TimedRWMutex) bool {
	held, _ := o.locks.IsHeld(m)
	if held {
		return len(o.locks) > 1
	}
	return len(o.locks) > 0
}

// IsHolding returns whether the owner holds a mutex, and whether it
// holds it exclusively.
func (o *Owner) IsHolding(m *TimedRWMutex) (held, exclusive bool) {
	return o.locks.IsHeld(m)
}

// Suspend temporarily releases a mutex held by the owner. The returned
// function must be called to reacquire it. See LockPile.Suspend() for
// the semantics of reacquisition.
func (o *Owner) Suspend(m *TimedRWMutex, clock clock.Clock, timeout time.Duration) func() bool {
	return o.locks.Suspend(m, clock, timeout)
}

// RecordRetry increments the number of times the owner had to back
// off and retry an operation, returning the new count.
func (o *Owner) RecordRetry() int {
	o.retries++
	return o.retries
}

// Retries returns the number of times the owner had to back off and
// retry an operation.
func (o *Owner) Retries() int {
	return o.retries
}
