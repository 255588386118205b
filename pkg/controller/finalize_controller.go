package controller

import (
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/util"
)

type finalizeController struct {
	base        vfs.Controller
	errorLogger util.ErrorLogger
}

// NewFinalizeController creates a decorator for Controller that closes
// streams that are garbage collected without having been closed. As
// these streams may hold locks and pooled buffers, failing to close
// them would prevent the file system from being synchronized.
//
// The model of the file system is retained while streams are open,
// which prevents the manager from evicting it.
func NewFinalizeController(base vfs.Controller, errorLogger util.ErrorLogger) vfs.Controller {
	return &finalizeController{
		base:        base,
		errorLogger: errorLogger,
	}
}

func (c *finalizeController) Model() *vfs.Model {
	return c.base.Model()
}

func (c *finalizeController) Parent() vfs.Controller {
	return c.base.Parent()
}

func (c *finalizeController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
	return c.base.Stat(ctx, options, name)
}

func (c *finalizeController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return c.base.CheckAccess(ctx, options, name, types)
}

func (c *finalizeController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.base.SetReadOnly(ctx, options, name)
}

func (c *finalizeController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	return c.base.SetTime(ctx, options, name, times)
}

func (c *finalizeController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	socket := c.base.Input(options, name)
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		model := c.base.Model()
		model.Retain()
		r, err := socket.Open(ctx)
		if err != nil {
			model.Release()
			return nil, err
		}
		fr := &finalizedReader{
			finalizedStream: finalizedStream{state: &finalizeState{closer: r, model: model}},
			reader:          r,
		}
		runtime.AddCleanup(fr, c.finalize, fr.state)
		return fr, nil
	})
}

func (c *finalizeController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	socket := c.base.Output(options, name, template)
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		model := c.base.Model()
		model.Retain()
		w, err := socket.Open(ctx)
		if err != nil {
			model.Release()
			return nil, err
		}
		fw := &finalizedWriter{
			finalizedStream: finalizedStream{state: &finalizeState{closer: w, model: model}},
			writer:          w,
		}
		runtime.AddCleanup(fw, c.finalize, fw.state)
		return fw, nil
	})
}

func (c *finalizeController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	return c.base.Mknod(ctx, options, name, entryType, template)
}

func (c *finalizeController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	return c.base.Unlink(ctx, options, name)
}

func (c *finalizeController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	return c.base.Sync(ctx, options)
}

// contextCloser is implemented by streams that can be closed on behalf
// of an owner other than the one that opened them.
type contextCloser interface {
	closeWithContext(ctx context.Context) error
}

// finalize closes a stream that has become unreachable. This happens on
// a goroutine of the runtime, meaning the owner that opened the stream
// may be in use concurrently. The stream is therefore closed on behalf
// of a new owner.
func (c *finalizeController) finalize(state *finalizeState) {
	state.lock.Lock()
	defer state.lock.Unlock()
	if state.closed {
		return
	}
	state.markClosed()

	var err error
	if cc, ok := state.closer.(contextCloser); ok {
		err = cc.closeWithContext(afs_sync.NewOwnerContext(context.Background()))
	} else {
		err = state.closer.Close()
	}
	if err != nil {
		c.errorLogger.Log(util.StatusWrap(err, "Failed to close unreachable stream"))
	}
}

// finalizeState is kept separate from the stream returned to the
// caller, as the cleanup function may not reference the stream.
type finalizeState struct {
	lock   sync.Mutex
	closer io.Closer
	model  *vfs.Model
	closed bool
}

// markClosed must be called with the lock held. The file system
// remains retained for as long as the stream is open.
func (s *finalizeState) markClosed() {
	s.closed = true
	s.model.Release()
}

type finalizedStream struct {
	state *finalizeState
}

func (s *finalizedStream) Close() error {
	state := s.state
	state.lock.Lock()
	defer state.lock.Unlock()
	if state.closed {
		return vfs.NewResourceClosedError()
	}
	err := state.closer.Close()
	if _, ok := vfs.AsSignal(err); !ok {
		state.markClosed()
	}
	return err
}

type finalizedReader struct {
	finalizedStream
	reader io.Reader
}

func (r *finalizedReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

type finalizedWriter struct {
	finalizedStream
	writer io.Writer
}

func (w *finalizedWriter) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}
