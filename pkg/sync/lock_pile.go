package sync

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
)

type lockHandle struct {
	mutex     *TimedRWMutex
	exclusive bool
	recursion int
}

// AcquireResult is returned by LockPile.Acquire() to indicate whether
// a lock was obtained and, if not, why.
type AcquireResult int

const (
	// Acquired indicates that the lock is now held by the pile.
	Acquired AcquireResult = iota
	// WouldUpgrade indicates that the exclusive lock was requested
	// while the pile only holds the shared lock. Upgrading in place
	// deadlocks as soon as two owners attempt it at the same time, so
	// the caller must release the shared lock first.
	WouldUpgrade
	// TimedOut indicates that the lock could not be obtained within
	// the bounded wait that applies to nested acquisitions.
	TimedOut
)

// LockPile is a list to keep track of locks held by an Owner. For
// every lock, it keeps track of a recursion count, allowing locks that
// don't support recursion to be acquired multiple times. The
// underlying lock will only be unlocked if the recursion count reaches
// zero.
//
// LockPile avoids deadlocks between owners that acquire the same locks
// in opposite order by making every acquisition that is nested beneath
// another lock a bounded one. Only the first lock of a pile is acquired
// by blocking. When a nested acquisition fails, the caller is expected
// to release everything it holds, back off and retry the operation
// from scratch.
type LockPile []lockHandle

func (lp LockPile) find(m *TimedRWMutex) int {
	for i := range lp {
		if lp[i].mutex == m {
			return i
		}
	}
	return -1
}

// Acquire a lock, adding it to the LockPile. Locks that are already
// part of the pile have their recursion count increased. Requesting
// shared access to a lock that is held exclusively is permitted, as
// exclusive access implies shared access.
func (lp *LockPile) Acquire(m *TimedRWMutex, exclusive bool, clock clock.Clock, timeout time.Duration) AcquireResult {
	if i := lp.find(m); i >= 0 {
		lh := &(*lp)[i]
		if exclusive && !lh.exclusive {
			return WouldUpgrade
		}
		lh.recursion++
		return Acquired
	}

	if len(*lp) == 0 {
		// Initial lock. It's fine to block.
		if exclusive {
			m.Lock()
		} else {
			m.RLock()
		}
	} else {
		// Blocking would allow deadlocks against owners acquiring
		// the same locks in opposite order.
		var acquired bool
		if exclusive {
			acquired = m.TryLockTimeout(clock, timeout)
		} else {
			acquired = m.TryRLockTimeout(clock, timeout)
		}
		if !acquired {
			return TimedOut
		}
	}
	*lp = append(*lp, lockHandle{mutex: m, exclusive: exclusive})
	return Acquired
}

// Release a lock, removing it from the LockPile once its recursion
// count drops to zero.
func (lp *LockPile) Release(m *TimedRWMutex) {
	i := lp.find(m)
	if i < 0 {
		panic("Attempted to release a lock that is not part of the lock pile")
	}

	// When locked recursively, just decrement the recursion count.
	lh := &(*lp)[i]
	if lh.recursion > 0 {
		lh.recursion--
		return
	}

	lh.unlock()
	copy((*lp)[i:], (*lp)[i+1:])
	*lp = (*lp)[:len(*lp)-1]
}

// IsHeld returns whether the lock is part of the pile, and whether it
// is held exclusively.
func (lp LockPile) IsHeld(m *TimedRWMutex) (held, exclusive bool) {
	if i := lp.find(m); i >= 0 {
		return true, lp[i].exclusive
	}
	return false, false
}

// Suspend entirely drops a lock, regardless of its recursion count.
// The returned function reacquires it and restores the recursion
// count. Just like Acquire(), reacquisition only blocks if the pile
// holds no other locks at that point. Otherwise it is bounded by the
// provided timeout. If the lock could not be reacquired, false is
// returned and the lock is no longer part of the pile.
func (lp *LockPile) Suspend(m *TimedRWMutex, clock clock.Clock, timeout time.Duration) func() bool {
	i := lp.find(m)
	if i < 0 {
		panic("Attempted to suspend a lock that is not part of the lock pile")
	}
	lh := (*lp)[i]
	lh.unlock()
	copy((*lp)[i:], (*lp)[i+1:])
	*lp = (*lp)[:len(*lp)-1]

	return func() bool {
		if len(*lp) == 0 {
			if lh.exclusive {
				m.Lock()
			} else {
				m.RLock()
			}
		} else {
			var acquired bool
			if lh.exclusive {
				acquired = m.TryLockTimeout(clock, timeout)
			} else {
				acquired = m.TryRLockTimeout(clock, timeout)
			}
			if !acquired {
				return false
			}
		}
		*lp = append(*lp, lh)
		return true
	}
}

// UnlockAll unlocks all locks associated with a LockPile. Calling this
// function using 'defer' ensures that no locks remain acquired after
// the calling function returns.
func (lp *LockPile) UnlockAll() {
	// Release all locks contained in the pile exactly once.
	for _, lockHandle := range *lp {
		lockHandle.unlock()
	}
	*lp = nil
}

func (lh *lockHandle) unlock() {
	if lh.exclusive {
		lh.mutex.Unlock()
	} else {
		lh.mutex.RUnlock()
	}
}
