package vfs

import (
	"context"
	"io"
	"time"
)

// InputSocket is a lazily evaluated source of the content of an entry.
// No work is performed until Open() is called.
type InputSocket interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// InputSocketFunc is a function that implements InputSocket.
type InputSocketFunc func(ctx context.Context) (io.ReadCloser, error)

// Open calls the function.
func (f InputSocketFunc) Open(ctx context.Context) (io.ReadCloser, error) {
	return f(ctx)
}

// OutputSocket is a lazily evaluated sink for the content of an entry.
// No work is performed until Open() is called.
type OutputSocket interface {
	Open(ctx context.Context) (io.WriteCloser, error)
}

// OutputSocketFunc is a function that implements OutputSocket.
type OutputSocketFunc func(ctx context.Context) (io.WriteCloser, error)

// Open calls the function.
func (f OutputSocketFunc) Open(ctx context.Context) (io.WriteCloser, error) {
	return f(ctx)
}

// Controller provides access to the entries of a single file system,
// identified by a mount point. Archive file systems are implemented as
// a chain of decorating controllers, each adding a single concern.
//
// Operations may be invoked concurrently. The identity of the caller,
// used for lock reentrancy and resource accounting, is obtained from
// the context (see sync.NewOwnerContext()).
type Controller interface {
	Model() *Model
	// Parent returns the controller of the file system containing
	// this one, or nil for root file systems.
	Parent() Controller

	// Stat returns a snapshot of an entry. A NotFound error is
	// returned if the entry does not exist.
	Stat(ctx context.Context, options AccessOptions, name EntryName) (*Node, error)
	CheckAccess(ctx context.Context, options AccessOptions, name EntryName, types AccessTypes) error
	SetReadOnly(ctx context.Context, options AccessOptions, name EntryName) error
	SetTime(ctx context.Context, options AccessOptions, name EntryName, times map[AccessType]time.Time) error

	Input(options AccessOptions, name EntryName) InputSocket
	// Output returns a sink for the content of an entry. If
	// template is not nil, its properties are copied into the newly
	// created entry.
	Output(options AccessOptions, name EntryName, template Entry) OutputSocket

	Mknod(ctx context.Context, options AccessOptions, name EntryName, entryType EntryType, template Entry) error
	Unlink(ctx context.Context, options AccessOptions, name EntryName) error

	// Sync writes pending changes of the file system to its backing
	// store, releasing any resources held. Errors are of type
	// *SyncError.
	Sync(ctx context.Context, options SyncOptions) error
}
