package vfs

import (
	"context"
	"sync/atomic"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
)

// Model holds the state of a file system that is shared by all
// controllers of its chain: the mount point, the lock that serializes
// access to the chain and whether the file system has pending changes.
type Model struct {
	mountPoint *MountPoint
	parent     *Model
	mutex      afs_sync.TimedRWMutex
	touched    atomic.Bool
	references atomic.Int64
	registrar  func() error
}

// NewModel creates the model of a file system.
func NewModel(mountPoint *MountPoint, parent *Model) *Model {
	return &Model{
		mountPoint: mountPoint,
		parent:     parent,
	}
}

// MountPoint of the file system.
func (m *Model) MountPoint() *MountPoint {
	return m.mountPoint
}

// Parent returns the model of the file system containing this one.
func (m *Model) Parent() *Model {
	return m.parent
}

// Mutex returns the lock that serializes access to the file system.
func (m *Model) Mutex() *afs_sync.TimedRWMutex {
	return &m.mutex
}

// Touched returns whether the file system has changes that have not
// been written to the backing store.
func (m *Model) Touched() bool {
	return m.touched.Load()
}

// SetTouched alters the touched flag.
func (m *Model) SetTouched(touched bool) {
	m.touched.Store(touched)
}

// Retain marks the file system as being in use, preventing it from
// being evicted by its manager until Release is called.
func (m *Model) Retain() {
	m.references.Add(1)
}

// Release undoes a previous call to Retain.
func (m *Model) Release() {
	if m.references.Add(-1) < 0 {
		panic("Released a file system that was not retained")
	}
}

// InUse returns whether Retain has been called more often than
// Release.
func (m *Model) InUse() bool {
	return m.references.Load() > 0
}

// SetRegistrar sets the function that is called by EnsureRegistered.
// It must be called before the model is shared.
func (m *Model) SetRegistrar(registrar func() error) {
	m.registrar = registrar
}

// EnsureRegistered is called before a file system is modified. It
// gives the manager of the file system the opportunity to register it
// again, if it was evicted while still being referenced.
func (m *Model) EnsureRegistered() error {
	if m.registrar == nil {
		return nil
	}
	return m.registrar()
}

// IsWriteLockedByOwner returns whether the owner stored in the context
// holds the lock of the file system exclusively.
func (m *Model) IsWriteLockedByOwner(ctx context.Context) bool {
	owner, ok := afs_sync.OwnerFromContext(ctx)
	if !ok {
		return false
	}
	_, exclusive := owner.IsHolding(&m.mutex)
	return exclusive
}

// CheckWriteLockedByOwner returns the NeedsWriteLock signal if the
// owner stored in the context does not hold the lock of the file
// system exclusively.
func (m *Model) CheckWriteLockedByOwner(ctx context.Context) error {
	if m.IsWriteLockedByOwner(ctx) {
		return nil
	}
	return NeedsWriteLock()
}
