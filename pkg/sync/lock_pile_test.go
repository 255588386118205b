package sync_test

import (
	"testing"
	"time"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/stretchr/testify/require"
)

func TestLockPile(t *testing.T) {
	t.Run("Recursion", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		lockPile := afs_sync.LockPile{}

		// The initial acquisition blocks. Subsequent ones only
		// increase the recursion count.
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m, true, clock.SystemClock, time.Second))
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m, true, clock.SystemClock, time.Second))
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m, false, clock.SystemClock, time.Second))
		held, exclusive := lockPile.IsHeld(&m)
		require.True(t, held)
		require.True(t, exclusive)

		lockPile.Release(&m)
		lockPile.Release(&m)
		require.False(t, m.TryLockTimeout(clock.SystemClock, 0))
		lockPile.Release(&m)
		held, _ = lockPile.IsHeld(&m)
		require.False(t, held)
		require.True(t, m.TryLockTimeout(clock.SystemClock, 0))
		m.Unlock()
	})

	t.Run("NoUpgrade", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		lockPile := afs_sync.LockPile{}

		// Holding the shared lock must never lead to an
		// in-place upgrade.
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m, false, clock.SystemClock, time.Second))
		require.Equal(t, afs_sync.WouldUpgrade, lockPile.Acquire(&m, true, clock.SystemClock, time.Second))
		lockPile.UnlockAll()
		require.True(t, m.TryLockTimeout(clock.SystemClock, 0))
		m.Unlock()
	})

	t.Run("NestedTimeout", func(t *testing.T) {
		var m1, m2 afs_sync.TimedRWMutex
		m2.Lock()

		// Acquisitions nested beneath another lock must not
		// block indefinitely.
		lockPile := afs_sync.LockPile{}
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m1, true, clock.SystemClock, time.Second))
		require.Equal(t, afs_sync.TimedOut, lockPile.Acquire(&m2, false, clock.SystemClock, 10*time.Millisecond))
		held, _ := lockPile.IsHeld(&m2)
		require.False(t, held)

		m2.Unlock()
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m2, false, clock.SystemClock, time.Second))
		lockPile.UnlockAll()
	})

	t.Run("Suspend", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		lockPile := afs_sync.LockPile{}
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m, true, clock.SystemClock, time.Second))
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m, true, clock.SystemClock, time.Second))

		// While suspended, other owners may take the lock.
		resume := lockPile.Suspend(&m, clock.SystemClock, time.Second)
		require.True(t, m.TryLockTimeout(clock.SystemClock, 0))
		m.Unlock()
		require.True(t, resume())

		// The recursion count must have been restored.
		lockPile.Release(&m)
		held, exclusive := lockPile.IsHeld(&m)
		require.True(t, held)
		require.True(t, exclusive)
		lockPile.Release(&m)
		require.True(t, m.TryLockTimeout(clock.SystemClock, 0))
		m.Unlock()
	})

	t.Run("SuspendNestedTimeout", func(t *testing.T) {
		var m1, m2 afs_sync.TimedRWMutex
		lockPile := afs_sync.LockPile{}
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m1, true, clock.SystemClock, time.Second))
		require.Equal(t, afs_sync.Acquired, lockPile.Acquire(&m2, true, clock.SystemClock, time.Second))

		// While other locks are held, reacquisition is bounded.
		resume := lockPile.Suspend(&m2, clock.SystemClock, 10*time.Millisecond)
		m2.Lock()
		require.False(t, resume())
		held, _ := lockPile.IsHeld(&m2)
		require.False(t, held)
		m2.Unlock()

		lockPile.UnlockAll()
		require.True(t, m1.TryLockTimeout(clock.SystemClock, 0))
		m1.Unlock()
	})
}
