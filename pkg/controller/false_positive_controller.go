package controller

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
)

type falsePositiveController struct {
	base   vfs.Controller
	parent vfs.Controller

	lock sync.Mutex
	// Cause of the most recent persistent false positive, if any.
	// While set, all operations are routed to the parent file
	// system directly.
	persistentCause error
}

// NewFalsePositiveController creates a decorator for Controller that
// handles archive files that turn out not to be valid archives. If the
// underlying controller raises the FalsePositive signal, the operation
// is performed on the parent file system instead, treating the archive
// file as a regular entry.
//
// Persistent false positives are remembered until the file system is
// synchronized, so that mounting is not reattempted for every
// operation.
func NewFalsePositiveController(base, parent vfs.Controller) vfs.Controller {
	return &falsePositiveController{
		base:   base,
		parent: parent,
	}
}

func (c *falsePositiveController) Model() *vfs.Model {
	return c.base.Model()
}

func (c *falsePositiveController) Parent() vfs.Controller {
	return c.parent
}

func (c *falsePositiveController) getPersistentCause() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.persistentCause
}

func (c *falsePositiveController) setPersistentCause(cause error) {
	c.lock.Lock()
	c.persistentCause = cause
	c.lock.Unlock()
}

// run performs an operation on the archive file system, falling back
// to performing it on the parent file system.
func (c *falsePositiveController) run(name vfs.EntryName, op func(controller vfs.Controller, name vfs.EntryName) error) error {
	if cause := c.getPersistentCause(); cause != nil {
		return c.useParent(cause, name, op)
	}
	err := op(c.base, name)
	s, ok := vfs.AsSignal(err)
	if !ok {
		return err
	}
	switch s.Kind() {
	case vfs.FalsePositiveSignal:
		if s.Persistent() {
			c.setPersistentCause(s.Cause())
		}
		return c.useParent(s.Cause(), name, op)
	case vfs.NeedsWriteLockSignal, vfs.NeedsLockRetrySignal, vfs.NeedsSyncSignal:
		return err
	}
	return err
}

// useParent performs an operation on the parent file system. As the
// archive file system is what the caller intended to access, failures
// are reported using the cause of the false positive.
func (c *falsePositiveController) useParent(cause error, name vfs.EntryName, op func(controller vfs.Controller, name vfs.EntryName) error) error {
	err := op(c.parent, c.Model().MountPoint().EntryInParent().Join(name))
	if err == nil {
		return nil
	}
	if s, ok := vfs.AsSignal(err); ok {
		switch s.Kind() {
		case vfs.NeedsWriteLockSignal, vfs.NeedsLockRetrySignal, vfs.NeedsSyncSignal, vfs.FalsePositiveSignal:
			return err
		}
	}
	return cause
}

func (c *falsePositiveController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (node *vfs.Node, err error) {
	err = c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
		node, err = controller.Stat(ctx, options, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (c *falsePositiveController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
		return controller.CheckAccess(ctx, options, name, types)
	})
}

func (c *falsePositiveController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
		return controller.SetReadOnly(ctx, options, name)
	})
}

func (c *falsePositiveController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	return c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
		return controller.SetTime(ctx, options, name, times)
	})
}

func (c *falsePositiveController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (r io.ReadCloser, err error) {
		err = c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
			r, err = controller.Input(options, name).Open(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}

func (c *falsePositiveController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (w io.WriteCloser, err error) {
		err = c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
			w, err = controller.Output(options, name, template).Open(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

func (c *falsePositiveController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	return c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
		return controller.Mknod(ctx, options, name, entryType, template)
	})
}

func (c *falsePositiveController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.run(name, func(controller vfs.Controller, name vfs.EntryName) error {
		return controller.Unlink(ctx, options, name)
	})
}

// Sync is always performed on the archive file system. Regardless of
// its outcome, mounting is reattempted by subsequent operations.
func (c *falsePositiveController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	c.setPersistentCause(nil)
	return c.base.Sync(ctx, options)
}
