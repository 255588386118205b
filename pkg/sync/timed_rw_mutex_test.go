package sync_test

import (
	"testing"
	"time"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/stretchr/testify/require"
)

func TestTimedRWMutex(t *testing.T) {
	t.Run("SharedReaders", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		m.RLock()
		require.True(t, m.TryRLockTimeout(clock.SystemClock, 0))
		require.False(t, m.TryLockTimeout(clock.SystemClock, 10*time.Millisecond))
		m.RUnlock()
		m.RUnlock()
		require.True(t, m.TryLockTimeout(clock.SystemClock, 0))
		m.Unlock()
	})

	t.Run("WriterExcludesReaders", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		m.Lock()
		require.False(t, m.TryRLockTimeout(clock.SystemClock, 10*time.Millisecond))
		m.Unlock()
		require.True(t, m.TryRLockTimeout(clock.SystemClock, 0))
		m.RUnlock()
	})

	t.Run("WaitingWriterBlocksNewReaders", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		m.RLock()

		acquired := make(chan struct{})
		go func() {
			m.Lock()
			close(acquired)
		}()

		// Wait for the writer to queue up. New readers should
		// then be turned away.
		require.Eventually(t, func() bool {
			if m.TryRLockTimeout(clock.SystemClock, 0) {
				m.RUnlock()
				return false
			}
			return true
		}, 5*time.Second, time.Millisecond)

		m.RUnlock()
		<-acquired
		m.Unlock()
	})

	t.Run("WakeupOnRelease", func(t *testing.T) {
		var m afs_sync.TimedRWMutex
		m.Lock()
		done := make(chan bool)
		go func() {
			done <- m.TryLockTimeout(clock.SystemClock, 10*time.Second)
		}()
		time.Sleep(10 * time.Millisecond)
		m.Unlock()
		require.True(t, <-done)
		m.Unlock()
	})
}
