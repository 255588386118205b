package controller

import (
	"context"
	"io"
	"sync"
	"time"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	lockControllerPrometheusMetrics sync.Once

	lockControllerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "archivefs",
			Name:      "lock_controller_retries_total",
			Help:      "Number of times an operation was retried after backing off, due to lock contention between nested file systems.",
		})
)

type lockController struct {
	base            vfs.Controller
	clock           clock.Clock
	randomGenerator random.ThreadSafeGenerator
	lockTimeout     time.Duration
	maximumBackoff  time.Duration
}

// NewLockController creates a decorator for Controller that serializes
// access to the file system using the model's lock.
//
// The first lock acquired by an owner is acquired by blocking. Any lock
// acquired while already holding another is acquired with a timeout.
// If the timeout expires, the NeedsLockRetry signal is raised, which
// causes the outermost lock controller to release its lock, back off
// for a random amount of time and retry the operation from scratch.
// This prevents deadlocks between owners accessing nested file systems
// in opposite order.
func NewLockController(base vfs.Controller, clock clock.Clock, randomGenerator random.ThreadSafeGenerator, lockTimeout, maximumBackoff time.Duration) vfs.Controller {
	lockControllerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(lockControllerRetries)
	})

	return &lockController{
		base:            base,
		clock:           clock,
		randomGenerator: randomGenerator,
		lockTimeout:     lockTimeout,
		maximumBackoff:  maximumBackoff,
	}
}

func (c *lockController) Model() *vfs.Model {
	return c.base.Model()
}

func (c *lockController) Parent() vfs.Controller {
	return c.base.Parent()
}

func (c *lockController) backOff(ctx context.Context, owner *afs_sync.Owner) error {
	owner.RecordRetry()
	lockControllerRetries.Inc()
	delay := time.Millisecond
	if c.maximumBackoff > delay {
		delay += time.Duration(c.randomGenerator.Int64N(int64(c.maximumBackoff - delay)))
	}
	timer, t := c.clock.NewTimer(delay)
	select {
	case <-t:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return util.StatusFromContext(ctx)
	}
}

// locked runs an operation while holding the model's lock.
func (c *lockController) locked(ctx context.Context, exclusive bool, op func(ctx context.Context) error) error {
	ctx, owner := afs_sync.EnsureOwner(ctx)
	mutex := c.Model().Mutex()
	outermost := !owner.HoldsAnyLock()
	for {
		var err error
		switch owner.Lock(mutex, exclusive, c.clock, c.lockTimeout) {
		case afs_sync.Acquired:
			err = op(ctx)
			// The lock is lost if it was suspended by the
			// operation and could not be reacquired.
			if held, _ := owner.IsHolding(mutex); held {
				owner.Unlock(mutex)
			}
		case afs_sync.WouldUpgrade:
			return vfs.NeedsWriteLock()
		case afs_sync.TimedOut:
			err = vfs.NeedsLockRetry()
		}

		s, ok := vfs.AsSignal(err)
		if !ok {
			return err
		}
		switch s.Kind() {
		case vfs.NeedsLockRetrySignal:
			if !outermost {
				return err
			}
			if err := c.backOff(ctx, owner); err != nil {
				return err
			}
		case vfs.NeedsWriteLockSignal, vfs.NeedsSyncSignal, vfs.FalsePositiveSignal:
			return err
		}
	}
}

func (c *lockController) writeLocked(ctx context.Context, op func(ctx context.Context) error) error {
	return c.locked(ctx, true, op)
}

// readOrWriteLocked runs an operation while holding the model's lock
// shared. If the operation turns out to require the lock to be held
// exclusively, it is retried while holding the lock exclusively. As
// locks cannot be upgraded, this is only possible if the owner did not
// already hold the lock shared.
func (c *lockController) readOrWriteLocked(ctx context.Context, op func(ctx context.Context) error) error {
	ctx, owner := afs_sync.EnsureOwner(ctx)
	held, _ := owner.IsHolding(c.Model().Mutex())
	err := c.locked(ctx, false, op)
	if !held && vfs.IsSignal(err, vfs.NeedsWriteLockSignal) {
		return c.writeLocked(ctx, op)
	}
	return err
}

func (c *lockController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (node *vfs.Node, err error) {
	err = c.readOrWriteLocked(ctx, func(ctx context.Context) error {
		node, err = c.base.Stat(ctx, options, name)
		return err
	})
	return
}

func (c *lockController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return c.readOrWriteLocked(ctx, func(ctx context.Context) error {
		return c.base.CheckAccess(ctx, options, name, types)
	})
}

func (c *lockController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.writeLocked(ctx, func(ctx context.Context) error {
		return c.base.SetReadOnly(ctx, options, name)
	})
}

func (c *lockController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	return c.writeLocked(ctx, func(ctx context.Context) error {
		return c.base.SetTime(ctx, options, name, times)
	})
}

func (c *lockController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	socket := c.base.Input(options, name)
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		ctx, _ = afs_sync.EnsureOwner(ctx)
		var r io.ReadCloser
		if err := c.readOrWriteLocked(ctx, func(ctx context.Context) (err error) {
			r, err = socket.Open(ctx)
			return
		}); err != nil {
			return nil, err
		}
		return &lockedReader{lockedStream: lockedStream{controller: c, ctx: ctx, closer: r}, reader: r}, nil
	})
}

func (c *lockController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	socket := c.base.Output(options, name, template)
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		ctx, _ = afs_sync.EnsureOwner(ctx)
		var w io.WriteCloser
		if err := c.writeLocked(ctx, func(ctx context.Context) (err error) {
			w, err = socket.Open(ctx)
			return
		}); err != nil {
			return nil, err
		}
		return &lockedWriter{lockedStream: lockedStream{controller: c, ctx: ctx, closer: w}, writer: w}, nil
	})
}

func (c *lockController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	return c.writeLocked(ctx, func(ctx context.Context) error {
		return c.base.Mknod(ctx, options, name, entryType, template)
	})
}

func (c *lockController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.writeLocked(ctx, func(ctx context.Context) error {
		return c.base.Unlink(ctx, options, name)
	})
}

func (c *lockController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	return c.writeLocked(ctx, func(ctx context.Context) error {
		return c.base.Sync(ctx, options)
	})
}

// lockedStream holds the state shared by readers and writers returned
// by the lock controller. All operations on the stream are performed
// while holding the model's lock exclusively, on behalf of the owner
// that opened the stream.
//
// If an operation on the stream needs to be retried due to lock
// contention, it is rerun in its entirety. This is safe as long as the
// operation failed before having any effect, which is the case for
// contention on locks of parent file systems.
type lockedStream struct {
	controller *lockController
	ctx        context.Context
	closer     io.Closer
}

func (s *lockedStream) Close() error {
	return s.closeWithContext(s.ctx)
}

// closeWithContext closes the stream on behalf of the owner stored in
// the provided context.
func (s *lockedStream) closeWithContext(ctx context.Context) error {
	return s.controller.writeLocked(ctx, func(ctx context.Context) error {
		return s.closer.Close()
	})
}

type lockedReader struct {
	lockedStream
	reader io.Reader
}

func (r *lockedReader) Read(p []byte) (n int, err error) {
	err = r.controller.writeLocked(r.ctx, func(ctx context.Context) error {
		n, err = r.reader.Read(p)
		return err
	})
	return
}

type lockedWriter struct {
	lockedStream
	writer io.Writer
}

func (w *lockedWriter) Write(p []byte) (n int, err error) {
	err = w.controller.writeLocked(w.ctx, func(ctx context.Context) error {
		n, err = w.writer.Write(p)
		return err
	})
	return
}
