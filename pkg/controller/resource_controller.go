package controller

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/resource"
	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
)

type resourceController struct {
	base               vfs.Controller
	accountant         *resource.Accountant
	clock              clock.Clock
	lockTimeout        time.Duration
	foreignWaitTimeout time.Duration
	errorLogger        util.ErrorLogger
}

// NewResourceController creates a decorator for Controller that keeps
// track of the streams that are open. Upon synchronization, it waits
// for streams of other owners to be closed, or closes them forcefully
// if requested.
func NewResourceController(base vfs.Controller, accountant *resource.Accountant, clock clock.Clock, lockTimeout, foreignWaitTimeout time.Duration, errorLogger util.ErrorLogger) vfs.Controller {
	return &resourceController{
		base:               base,
		accountant:         accountant,
		clock:              clock,
		lockTimeout:        lockTimeout,
		foreignWaitTimeout: foreignWaitTimeout,
		errorLogger:        errorLogger,
	}
}

func (c *resourceController) Model() *vfs.Model {
	return c.base.Model()
}

func (c *resourceController) Parent() vfs.Controller {
	return c.base.Parent()
}

func (c *resourceController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
	return c.base.Stat(ctx, options, name)
}

func (c *resourceController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return c.base.CheckAccess(ctx, options, name, types)
}

func (c *resourceController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.base.SetReadOnly(ctx, options, name)
}

func (c *resourceController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	return c.base.SetTime(ctx, options, name, times)
}

func (c *resourceController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	socket := c.base.Input(options, name)
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		r, err := socket.Open(ctx)
		if err != nil {
			return nil, err
		}
		_, owner := afs_sync.EnsureOwner(ctx)
		s := &accountedStream{closer: r}
		s.resource = c.accountant.StartAccounting(owner, resource.InputKind, forceCloser{s})
		return &accountedReader{accountedStream: s, reader: r}, nil
	})
}

func (c *resourceController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	socket := c.base.Output(options, name, template)
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		w, err := socket.Open(ctx)
		if err != nil {
			return nil, err
		}
		_, owner := afs_sync.EnsureOwner(ctx)
		s := &accountedStream{closer: w}
		s.resource = c.accountant.StartAccounting(owner, resource.OutputKind, forceCloser{s})
		return &accountedWriter{accountedStream: s, writer: w}, nil
	})
}

func (c *resourceController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	return c.base.Mknod(ctx, options, name, entryType, template)
}

func (c *resourceController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.base.Unlink(ctx, options, name)
}

func (c *resourceController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	ctx, owner := afs_sync.EnsureOwner(ctx)
	mountPoint := c.Model().MountPoint()
	builder := vfs.NewSyncErrorBuilder()

	// Streams of the calling owner can never be closed by waiting.
	var forced []resource.Kind
	for _, k := range []struct {
		kind   resource.Kind
		option vfs.SyncOptions
	}{
		{resource.InputKind, vfs.ForceCloseInput},
		{resource.OutputKind, vfs.ForceCloseOutput},
	} {
		if options.Has(k.option) {
			forced = append(forced, k.kind)
		} else if total, local := c.accountant.Counts(owner, k.kind); local > 0 {
			return builder.Fail(vfs.NewSyncFailure(mountPoint, vfs.NewResourceOpenError(local, total)))
		}
	}

	if total, local := c.accountant.Counts(owner); total > local {
		mutex := c.Model().Mutex()
		nested := owner.HoldsOtherLocks(mutex)
		timeout := c.foreignWaitTimeout
		if nested {
			// Waiting indefinitely while holding locks of
			// other file systems may cause deadlocks.
			timeout = c.lockTimeout
		} else if options.Has(vfs.WaitCloseIO) {
			timeout = 0
		}
		reacquired := true
		suspend := func() func() {
			if held, _ := owner.IsHolding(mutex); !held {
				return func() {}
			}
			resume := owner.Suspend(mutex, c.clock, c.lockTimeout)
			return func() { reacquired = resume() }
		}
		total, local = c.accountant.AwaitForeignResources(ctx, owner, suspend, timeout)
		if !reacquired || (total > local && nested && options.Has(vfs.WaitCloseIO)) {
			return vfs.NeedsLockRetry()
		}
	}

	if total, local := c.accountant.Counts(owner); total > 0 {
		remaining, _ := c.accountant.Counts(owner, forced...)
		if len(forced) == 0 || remaining < total {
			return builder.Fail(vfs.NewSyncFailure(mountPoint, vfs.NewResourceOpenError(local, total)))
		}
		c.accountant.CloseAllResources(c.errorLogger, forced...)
		builder.Warn(vfs.NewSyncWarning(mountPoint, vfs.NewResourceOpenError(local, total)))
	}

	if err := c.base.Sync(ctx, options); err != nil {
		if _, ok := vfs.AsSignal(err); ok {
			return err
		}
		builder.Warn(vfs.AsSyncError(mountPoint, err))
	}
	return builder.Check()
}

// accountedStream holds the state shared by the reading and writing
// side of streams that are registered with an Accountant.
type accountedStream struct {
	lock     sync.Mutex
	closer   io.Closer
	resource *resource.Resource
	closed   bool
}

// close closes the underlying stream. Streams that are closed
// forcefully become defunct.
func (s *accountedStream) close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	err := s.closer.Close()
	if _, ok := vfs.AsSignal(err); ok {
		return err
	}
	s.closed = true
	s.resource.StopAccounting()
	return err
}

func (s *accountedStream) checkOpen() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return vfs.NewResourceClosedError()
	}
	return nil
}

func (s *accountedStream) Close() error {
	return s.close()
}

type forceCloser struct {
	stream *accountedStream
}

func (fc forceCloser) Close() error {
	return fc.stream.close()
}

type accountedReader struct {
	*accountedStream
	reader io.Reader
}

func (r *accountedReader) Read(p []byte) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}

type accountedWriter struct {
	*accountedStream
	writer io.Writer
}

func (w *accountedWriter) Write(p []byte) (int, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	return w.writer.Write(p)
}
