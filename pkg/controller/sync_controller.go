package controller

import (
	"context"
	"io"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/util"
)

type syncController struct {
	base        vfs.Controller
	errorLogger util.ErrorLogger
}

// NewSyncController creates a decorator for Controller that performs
// synchronizations on demand. If an operation fails with the NeedsSync
// signal, the file system is synchronized, after which the operation
// is retried.
func NewSyncController(base vfs.Controller, errorLogger util.ErrorLogger) vfs.Controller {
	return &syncController{
		base:        base,
		errorLogger: errorLogger,
	}
}

func (c *syncController) Model() *vfs.Model {
	return c.base.Model()
}

func (c *syncController) Parent() vfs.Controller {
	return c.base.Parent()
}

// syncOnDemand synchronizes the file system. Warnings are logged, as
// the operation that triggered the synchronization may proceed.
func (c *syncController) syncOnDemand(ctx context.Context) error {
	if err := c.base.Sync(ctx, vfs.SyncOnDemand); err != nil {
		if !isSyncWarning(err) {
			return err
		}
		c.errorLogger.Log(err)
	}
	return nil
}

// retry calls a function until it no longer fails with the NeedsSync
// signal.
func (c *syncController) retry(ctx context.Context, op func() error) error {
	for {
		err := op()
		if !vfs.IsSignal(err, vfs.NeedsSyncSignal) {
			return err
		}
		if err := c.syncOnDemand(ctx); err != nil {
			return err
		}
	}
}

func (c *syncController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (node *vfs.Node, err error) {
	err = c.retry(ctx, func() error {
		node, err = c.base.Stat(ctx, options, name)
		return err
	})
	return
}

func (c *syncController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return c.retry(ctx, func() error {
		return c.base.CheckAccess(ctx, options, name, types)
	})
}

func (c *syncController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.retry(ctx, func() error {
		return c.base.SetReadOnly(ctx, options, name)
	})
}

func (c *syncController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	return c.retry(ctx, func() error {
		return c.base.SetTime(ctx, options, name, times)
	})
}

func (c *syncController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	socket := c.base.Input(options, name)
	return vfs.InputSocketFunc(func(ctx context.Context) (r io.ReadCloser, err error) {
		err = c.retry(ctx, func() error {
			r, err = socket.Open(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &syncReader{ReadCloser: r, controller: c, ctx: ctx}, nil
	})
}

func (c *syncController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	socket := c.base.Output(options, name, template)
	return vfs.OutputSocketFunc(func(ctx context.Context) (w io.WriteCloser, err error) {
		err = c.retry(ctx, func() error {
			w, err = socket.Open(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &syncWriter{WriteCloser: w, controller: c, ctx: ctx}, nil
	})
}

func (c *syncController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	return c.retry(ctx, func() error {
		return c.base.Mknod(ctx, options, name, entryType, template)
	})
}

func (c *syncController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.retry(ctx, func() error {
		return c.base.Unlink(ctx, options, name)
	})
}

func (c *syncController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	return c.base.Sync(ctx, options)
}

// closeStream closes a stream. If closing fails with the NeedsSync
// signal, the stream has been closed, but its effects can only be
// applied by synchronizing.
func (c *syncController) closeStream(ctx context.Context, closer io.Closer) error {
	if err := closer.Close(); !vfs.IsSignal(err, vfs.NeedsSyncSignal) {
		return err
	}
	return c.syncOnDemand(ctx)
}

type syncReader struct {
	io.ReadCloser
	controller *syncController
	ctx        context.Context
}

func (r *syncReader) Close() error {
	return r.controller.closeStream(r.ctx, r.ReadCloser)
}

type syncWriter struct {
	io.WriteCloser
	controller *syncController
	ctx        context.Context
}

func (w *syncWriter) Close() error {
	return w.controller.closeStream(w.ctx, w.WriteCloser)
}
