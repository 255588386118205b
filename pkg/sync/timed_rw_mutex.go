package sync

import (
	"sync"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
)

// TimedRWMutex is a reader/writer lock that, in addition to blocking
// acquisition, permits acquisition with a bounded wait. Writers that
// are waiting prevent new readers from entering, so that a steady
// stream of readers cannot starve a writer.
//
// Unlike sync.RWMutex, ownership is not tracked by TimedRWMutex
// itself. Reentrancy is provided by LockPile, which only calls into
// TimedRWMutex when an Owner acquires the lock for the first time.
type TimedRWMutex struct {
	lock           sync.Mutex
	readers        int
	writer         bool
	writersWaiting int
	wakeup         chan struct{}
}

func (m *TimedRWMutex) tryLockLocked(exclusive bool) bool {
	if exclusive {
		if m.writer || m.readers > 0 {
			return false
		}
		m.writer = true
		return true
	}
	if m.writer || m.writersWaiting > 0 {
		return false
	}
	m.readers++
	return true
}

func (m *TimedRWMutex) broadcastLocked() {
	if m.wakeup != nil {
		close(m.wakeup)
		m.wakeup = nil
	}
}

// acquire the lock. A nil timeout channel causes it to block
// indefinitely.
func (m *TimedRWMutex) acquire(exclusive bool, timeout <-chan time.Time) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	if exclusive {
		m.writersWaiting++
	}
	for !m.tryLockLocked(exclusive) {
		if m.wakeup == nil {
			m.wakeup = make(chan struct{})
		}
		wakeup := m.wakeup
		m.lock.Unlock()
		select {
		case <-wakeup:
			m.lock.Lock()
		case <-timeout:
			m.lock.Lock()
			acquired := m.tryLockLocked(exclusive)
			if exclusive {
				m.writersWaiting--
				if !acquired {
					// Readers may have been held back by us.
					m.broadcastLocked()
				}
			}
			return acquired
		}
	}
	if exclusive {
		m.writersWaiting--
	}
	return true
}

func (m *TimedRWMutex) acquireWithTimeout(exclusive bool, clock clock.Clock, timeout time.Duration) bool {
	// Only create a timer if the lock is contended.
	m.lock.Lock()
	acquired := m.tryLockLocked(exclusive)
	m.lock.Unlock()
	if acquired || timeout <= 0 {
		return acquired
	}
	timer, t := clock.NewTimer(timeout)
	acquired = m.acquire(exclusive, t)
	timer.Stop()
	return acquired
}

// Lock the mutex exclusively, blocking until it is available.
func (m *TimedRWMutex) Lock() {
	m.acquire(true, nil)
}

// RLock locks the mutex for reading, blocking until it is available.
func (m *TimedRWMutex) RLock() {
	m.acquire(false, nil)
}

// TryLockTimeout attempts to lock the mutex exclusively, giving up
// after the provided amount of time has passed.
func (m *TimedRWMutex) TryLockTimeout(clock clock.Clock, timeout time.Duration) bool {
	return m.acquireWithTimeout(true, clock, timeout)
}

// TryRLockTimeout attempts to lock the mutex for reading, giving up
// after the provided amount of time has passed.
func (m *TimedRWMutex) TryRLockTimeout(clock clock.Clock, timeout time.Duration) bool {
	return m.acquireWithTimeout(false, clock, timeout)
}

// Unlock a mutex that was locked exclusively.
func (m *TimedRWMutex) Unlock() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.writer {
		panic("Attempted to unlock a mutex that is not locked exclusively")
	}
	m.writer = false
	m.broadcastLocked()
}

// RUnlock unlocks a mutex that was locked for reading.
func (m *TimedRWMutex) RUnlock() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.readers == 0 {
		panic("Attempted to unlock a mutex that is not locked for reading")
	}
	m.readers--
	if m.readers == 0 {
		m.broadcastLocked()
	}
}
