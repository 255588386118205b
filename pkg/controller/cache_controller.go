package controller

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/cache"
	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/util"
)

type cacheController struct {
	base        vfs.Controller
	filePool    pool.FilePool
	strategy    cache.Strategy
	errorLogger util.ErrorLogger

	// Only mutated while holding the model's lock exclusively.
	caches map[vfs.EntryName]*cache.Cache
}

// NewCacheController creates a decorator for Controller that caches
// the content of entries in pooled buffers. A cache is only created
// for an entry if the Cache access option is provided, but once
// created it is used for all subsequent access to the entry, until the
// file system is synchronized with the ClearCache option.
func NewCacheController(base vfs.Controller, filePool pool.FilePool, strategy cache.Strategy, errorLogger util.ErrorLogger) vfs.Controller {
	return &cacheController{
		base:        base,
		filePool:    filePool,
		strategy:    strategy,
		errorLogger: errorLogger,
		caches:      map[vfs.EntryName]*cache.Cache{},
	}
}

func (c *cacheController) Model() *vfs.Model {
	return c.base.Model()
}

func (c *cacheController) Parent() vfs.Controller {
	return c.base.Parent()
}

func (c *cacheController) getCache(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) *cache.Cache {
	ec, ok := c.caches[name]
	if !ok {
		ec = cache.NewCache(c.strategy, c.filePool).
			ConfigureInput(c.base.Input(options&^vfs.Cache, name)).
			ConfigureOutput(c.base.Output(options&^(vfs.Cache|vfs.Append|vfs.Exclusive), name, template))
		c.caches[name] = ec
	}
	return ec
}

func (c *cacheController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
	node, err := c.base.Stat(ctx, options, name)
	if err != nil {
		return nil, err
	}
	if ec, ok := c.caches[name]; ok && node.IsType(vfs.FileEntry) {
		if size, ok := ec.Size(); ok {
			overlaid := *node
			overlaid.DataSize = size
			return &overlaid, nil
		}
	}
	return node, nil
}

func (c *cacheController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return c.base.CheckAccess(ctx, options, name, types)
}

func (c *cacheController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.base.SetReadOnly(ctx, options, name)
}

func (c *cacheController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	return c.base.SetTime(ctx, options, name, times)
}

func (c *cacheController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		if _, ok := c.caches[name]; !ok && !options.Has(vfs.Cache) {
			return c.base.Input(options, name).Open(ctx)
		}
		if err := c.Model().CheckWriteLockedByOwner(ctx); err != nil {
			return nil, err
		}
		return c.getCache(options, name, nil).Input().Open(ctx)
	})
}

func (c *cacheController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		ec, ok := c.caches[name]
		if !ok && !options.Has(vfs.Cache) {
			return c.base.Output(options, name, template).Open(ctx)
		}
		if err := c.Model().CheckWriteLockedByOwner(ctx); err != nil {
			return nil, err
		}
		if c.strategy == cache.ReadOnly {
			// Write around the cache, discarding its content.
			if ok && !ec.InUse() {
				ec.Clear()
				delete(c.caches, name)
			}
			return c.base.Output(options&^vfs.Cache, name, template).Open(ctx)
		}
		if options.Has(vfs.Exclusive) {
			if _, err := c.Stat(ctx, options, name); err == nil {
				return nil, vfs.NewAlreadyExistsError(name)
			} else if _, ok := vfs.AsSignal(err); ok {
				return nil, err
			}
		}

		ec = c.getCache(options, name, template)
		w, err := ec.Output(options.Has(vfs.Append)).Open(ctx)
		if err != nil {
			return nil, err
		}
		return &cacheWriter{
			WriteCloser: w,
			controller:  c,
			cache:       ec,
			ctx:         ctx,
			options:     options,
			name:        name,
			template:    template,
		}, nil
	})
}

// syncAndRetry performs a nested synchronization of the file system
// if an operation failed with the NeedsSync signal, followed by a
// single retry of the operation.
func (c *cacheController) syncAndRetry(ctx context.Context, options vfs.SyncOptions, err error, retry func() error) error {
	if !vfs.IsSignal(err, vfs.NeedsSyncSignal) {
		return err
	}
	if err := c.base.Sync(ctx, options); err != nil {
		if !isSyncWarning(err) {
			return err
		}
		c.errorLogger.Log(err)
	}
	return retry()
}

// makeEntry registers an entry whose content is only held by the
// cache in the underlying file system.
func (c *cacheController) makeEntry(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) error {
	mknod := func() error {
		return c.base.Mknod(ctx, options&^(vfs.Cache|vfs.Exclusive|vfs.Append), name, vfs.FileEntry, template)
	}
	return c.syncAndRetry(ctx, vfs.SyncOnDemand, mknod(), mknod)
}

type cacheWriter struct {
	io.WriteCloser
	controller *cacheController
	cache      *cache.Cache
	ctx        context.Context
	options    vfs.AccessOptions
	name       vfs.EntryName
	template   vfs.Entry
}

func (w *cacheWriter) Close() error {
	c := w.controller
	err := w.WriteCloser.Close()
	switch w.cache.Strategy() {
	case cache.WriteThrough:
		return c.syncAndRetry(w.ctx, vfs.SyncOnDemand, err, func() error {
			return w.cache.Flush(w.ctx)
		})
	case cache.WriteBack:
		if err != nil {
			return err
		}
		return c.makeEntry(w.ctx, w.options, w.name, w.template)
	default:
		return err
	}
}

func (c *cacheController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	return c.base.Mknod(ctx, options, name, entryType, template)
}

func (c *cacheController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	if err := c.base.Unlink(ctx, options, name); err != nil {
		return err
	}
	if ec, ok := c.caches[name]; ok {
		ec.Clear()
		delete(c.caches, name)
	}
	return nil
}

func (c *cacheController) sortedNames() []vfs.EntryName {
	names := make([]vfs.EntryName, 0, len(c.caches))
	for name := range c.caches {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})
	return names
}

func (c *cacheController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	mountPoint := c.Model().MountPoint()
	builder := vfs.NewSyncErrorBuilder()
	if !options.Has(vfs.AbortChanges) {
		for _, name := range c.sortedNames() {
			ec := c.caches[name]
			if err := c.syncAndRetry(ctx, options&^vfs.ClearCache, ec.Flush(ctx), func() error { return ec.Flush(ctx) }); err != nil {
				if _, ok := vfs.AsSignal(err); ok {
					return err
				}
				return builder.Fail(vfs.AsSyncError(mountPoint, util.StatusWrapf(err, "Failed to flush cached entry %#v", name.String())))
			}
		}
	}

	if err := c.base.Sync(ctx, options); err != nil {
		if _, ok := vfs.AsSignal(err); ok {
			return err
		}
		builder.Warn(vfs.AsSyncError(mountPoint, err))
	}
	if options.Has(vfs.ClearCache) || options.Has(vfs.AbortChanges) {
		for name, ec := range c.caches {
			if !ec.InUse() {
				ec.Clear()
				delete(c.caches, name)
			}
		}
	}
	return builder.Check()
}
