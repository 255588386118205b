package cache

import (
	"context"
	"io"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Strategy determines when data written into a cache is copied to its
// backing sink.
type Strategy int

const (
	// ReadOnly caches only permit reading.
	ReadOnly Strategy = iota
	// WriteThrough caches copy a buffer to the backing sink as soon
	// as it is closed for writing.
	WriteThrough
	// WriteBack caches only copy the current buffer to the backing
	// sink upon Flush() or Close().
	WriteBack
)

func (s Strategy) String() string {
	switch s {
	case ReadOnly:
		return "READ_ONLY"
	case WriteThrough:
		return "WRITE_THROUGH"
	case WriteBack:
		return "WRITE_BACK"
	default:
		return "UNKNOWN"
	}
}

// Cache holds the content of a single entry in a file obtained from a
// FilePool. The entire content of the backing source is copied into the
// buffer upon first access.
//
// Cache is not safe for concurrent use. Callers are responsible for
// serializing access, including access through streams returned by the
// sockets.
type Cache struct {
	strategy Strategy
	pool     pool.FilePool
	source   vfs.InputSocket
	sink     vfs.OutputSocket
	current  *buffer
	streams  int
}

// NewCache creates a Cache that allocates buffers from a FilePool.
func NewCache(strategy Strategy, filePool pool.FilePool) *Cache {
	return &Cache{
		strategy: strategy,
		pool:     filePool,
	}
}

// Strategy returns the strategy with which the cache was created.
func (c *Cache) Strategy() Strategy {
	return c.strategy
}

// ConfigureInput sets the socket from which the buffer is populated
// upon first access.
func (c *Cache) ConfigureInput(source vfs.InputSocket) *Cache {
	c.source = source
	return c
}

// ConfigureOutput sets the socket to which dirty buffers are written.
func (c *Cache) ConfigureOutput(sink vfs.OutputSocket) *Cache {
	c.sink = sink
	return c
}

// Size returns the size of the data held by the cache, if any.
func (c *Cache) Size() (int64, bool) {
	if c.current == nil {
		return 0, false
	}
	return c.current.size, true
}

// InUse returns whether streams returned by the cache's sockets are
// still open.
func (c *Cache) InUse() bool {
	return c.streams > 0
}

// IsDirty returns whether the cache holds data that has not been
// written to the backing sink.
func (c *Cache) IsDirty() bool {
	return c.current != nil && c.current.dirty
}

// Input returns a socket for reading the cached content.
func (c *Cache) Input() vfs.InputSocket {
	return vfs.InputSocketFunc(c.openForRead)
}

// Output returns a socket for replacing the cached content. If
// appending, the new buffer starts out with the current content.
func (c *Cache) Output(appending bool) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		return c.openForWrite(ctx, appending)
	})
}

func (c *Cache) load(ctx context.Context) (*buffer, error) {
	if c.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "Cache has no input configured")
	}
	r, err := c.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	file, err := c.pool.NewFile()
	if err != nil {
		r.Close()
		return nil, err
	}
	appender := pool.NewFileAppender(file, 0)
	if _, err := io.Copy(appender, r); err != nil {
		r.Close()
		file.Close()
		return nil, err
	}
	if err := r.Close(); err != nil {
		file.Close()
		return nil, err
	}
	return &buffer{
		cache: c,
		file:  file,
		size:  appender.Size(),
	}, nil
}

func (c *Cache) openForRead(ctx context.Context) (io.ReadCloser, error) {
	if c.current == nil {
		b, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.setBuffer(b)
	}
	b := c.current
	b.readers++
	c.streams++
	return &bufferReader{
		buffer: b,
		reader: io.NewSectionReader(b.file, 0, b.size),
	}, nil
}

func (c *Cache) openForWrite(ctx context.Context, appending bool) (io.WriteCloser, error) {
	if c.strategy == ReadOnly {
		return nil, status.Error(codes.PermissionDenied, "Cache is read-only")
	}
	if c.sink == nil {
		return nil, status.Error(codes.FailedPrecondition, "Cache has no output configured")
	}
	file, err := c.pool.NewFile()
	if err != nil {
		return nil, err
	}
	b := &buffer{
		cache: c,
		file:  file,
	}
	if appending {
		if c.current == nil && c.source != nil {
			// Seed the cache with the existing content, if any.
			if loaded, err := c.load(ctx); err == nil {
				c.setBuffer(loaded)
			} else if status.Code(err) != codes.NotFound {
				file.Close()
				return nil, err
			}
		}
		if current := c.current; current != nil {
			if _, err := io.Copy(pool.NewFileAppender(file, 0), io.NewSectionReader(current.file, 0, current.size)); err != nil {
				file.Close()
				return nil, util.StatusWrap(err, "Failed to copy cached content")
			}
			b.size = current.size
		}
	}
	b.writers++
	c.streams++
	return &bufferWriter{
		ctx:      ctx,
		buffer:   b,
		appender: pool.NewFileAppender(file, b.size),
	}, nil
}

// setBuffer replaces the current buffer. The previous buffer is
// released if no streams are using it. Its content is not written,
// as it has been superseded.
func (c *Cache) setBuffer(b *buffer) {
	if old := c.current; old != b {
		c.current = b
		if old != nil {
			old.maybeRelease()
		}
	}
}

// Flush writes the current buffer to the backing sink if it contains
// data that has not been written yet.
func (c *Cache) Flush(ctx context.Context) error {
	b := c.current
	if b == nil || !b.dirty {
		return nil
	}
	w, err := c.sink.Open(ctx)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, io.NewSectionReader(b.file, 0, b.size)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

// Clear discards the content of the cache without writing it.
func (c *Cache) Clear() {
	c.setBuffer(nil)
}

// Close flushes and clears the cache. The cache is only cleared if
// flushing succeeds.
func (c *Cache) Close(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	c.Clear()
	return nil
}

type buffer struct {
	cache   *Cache
	file    filesystem.FileReadWriter
	size    int64
	readers int
	writers int
	dirty   bool
}

// maybeRelease returns the buffer's file to the pool if it is no
// longer referenced.
func (b *buffer) maybeRelease() {
	if b.readers == 0 && b.writers == 0 && b.cache.current != b && b.file != nil {
		b.file.Close()
		b.file = nil
	}
}

type bufferReader struct {
	buffer *buffer
	reader *io.SectionReader
}

func (r *bufferReader) Read(p []byte) (int, error) {
	if r.buffer == nil {
		return 0, vfs.NewResourceClosedError()
	}
	return r.reader.Read(p)
}

func (r *bufferReader) Close() error {
	b := r.buffer
	if b == nil {
		return vfs.NewResourceClosedError()
	}
	r.buffer = nil
	b.cache.streams--
	b.readers--
	b.maybeRelease()
	return nil
}

type bufferWriter struct {
	ctx      context.Context
	buffer   *buffer
	appender *pool.FileAppender
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.buffer == nil {
		return 0, vfs.NewResourceClosedError()
	}
	n, err := w.appender.Write(p)
	if size := w.appender.Size(); size > w.buffer.size {
		w.buffer.size = size
	}
	return n, err
}

// Close makes the written buffer the current buffer of the cache. If
// the cache uses the WriteThrough strategy, it is subsequently written
// to the backing sink.
func (w *bufferWriter) Close() error {
	b := w.buffer
	if b == nil {
		return vfs.NewResourceClosedError()
	}
	w.buffer = nil
	b.cache.streams--
	b.writers--
	b.dirty = true
	c := b.cache
	c.setBuffer(b)
	if c.strategy == WriteThrough {
		return c.Flush(w.ctx)
	}
	return nil
}
