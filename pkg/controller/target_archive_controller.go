package controller

import (
	"context"
	"io"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/archive"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Options that are meaningful when accessing the archive file in the
// parent file system.
const parentOutputOptionsMask = vfs.CreateParents | vfs.Store | vfs.Compress

type targetArchiveController struct {
	model  *vfs.Model
	parent vfs.Controller
	driver vfs.ArchiveDriver
	clock  clock.Clock

	// Mount state. The file system is nil if the archive is not
	// mounted. The input session is nil for archives that did not
	// exist upon mounting, or whose input has been closed by an
	// interrupted synchronization.
	fs           *archive.FileSystem
	input        vfs.InputSession
	output       vfs.OutputSession
	mountOptions vfs.AccessOptions
}

// NewTargetArchiveController creates the innermost controller of an
// archive file system. It mounts the archive stored in the parent file
// system upon first access, provides access to its entries and writes
// a new archive to the parent file system upon synchronization.
//
// This controller is not safe for concurrent use. It requires that
// mutating operations are performed while holding the model's lock
// exclusively, which it verifies.
func NewTargetArchiveController(model *vfs.Model, parent vfs.Controller, driver vfs.ArchiveDriver, clock clock.Clock) vfs.Controller {
	return &targetArchiveController{
		model:  model,
		parent: parent,
		driver: driver,
		clock:  clock,
	}
}

func (c *targetArchiveController) Model() *vfs.Model {
	return c.model
}

func (c *targetArchiveController) Parent() vfs.Controller {
	return c.parent
}

func (c *targetArchiveController) nameInParent() vfs.EntryName {
	return c.model.MountPoint().EntryInParent()
}

func (c *targetArchiveController) autoMount(ctx context.Context, options vfs.AccessOptions, autoCreate bool) (*archive.FileSystem, error) {
	if c.fs != nil {
		return c.fs, nil
	}
	if err := c.model.CheckWriteLockedByOwner(ctx); err != nil {
		return nil, err
	}
	return c.mount(ctx, options, autoCreate)
}

func (c *targetArchiveController) mount(ctx context.Context, options vfs.AccessOptions, autoCreate bool) (*archive.FileSystem, error) {
	name := c.nameInParent()
	parentOptions := options & parentOutputOptionsMask
	pn, err := c.parent.Stat(ctx, parentOptions, name)
	if err != nil {
		if _, ok := vfs.AsSignal(err); ok {
			return nil, err
		}
		if status.Code(err) != codes.NotFound {
			return nil, vfs.FalsePositive(err, false)
		}
		if !autoCreate {
			return nil, vfs.FalsePositive(err, false)
		}

		// Register the archive file in the parent file system,
		// so that its parent directories are created and
		// write access is validated early.
		if err := c.parent.Mknod(ctx, parentOptions, name, vfs.FileEntry, nil); err != nil {
			return nil, err
		}
		fs, err := archive.NewEmptyFileSystem(c.driver, c.clock, nil)
		if err != nil {
			return nil, err
		}
		c.setFileSystem(fs, nil, options)
		return fs, nil
	}

	if pn.Type != vfs.FileEntry {
		// Special entries are reported as transient, as a
		// subsequent attempt might find a regular file.
		return nil, vfs.FalsePositive(vfs.NewNotFileError(name), pn.Type == vfs.DirectoryEntry)
	}
	readOnly := false
	if err := c.parent.CheckAccess(ctx, parentOptions, name, vfs.NewAccessTypes(vfs.WriteAccess)); err != nil {
		if _, ok := vfs.AsSignal(err); ok {
			return nil, err
		}
		readOnly = true
	}
	input, err := c.driver.NewInput(ctx, c.model, options, c.parent.Input(parentOptions, name))
	if err != nil {
		if _, ok := vfs.AsSignal(err); ok {
			return nil, err
		}
		// Archives that are malformed will remain so until
		// the parent file system is modified.
		return nil, vfs.FalsePositive(err, status.Code(err) == codes.InvalidArgument)
	}
	fs, err := archive.NewPopulatedFileSystem(c.driver, c.clock, input, pn.AsEntry(), readOnly)
	if err != nil {
		input.Close()
		return nil, vfs.FalsePositive(err, true)
	}
	c.setFileSystem(fs, input, options)
	return fs, nil
}

func (c *targetArchiveController) setFileSystem(fs *archive.FileSystem, input vfs.InputSession, options vfs.AccessOptions) {
	fs.SetTouchListener((*targetTouchListener)(c))
	c.fs = fs
	c.input = input
	c.mountOptions = options
}

// makeOutput creates the output session to which modified entries are
// written. The new archive is only written to the parent file system
// upon synchronization.
func (c *targetArchiveController) makeOutput() (vfs.OutputSession, error) {
	if c.output == nil {
		output, err := c.driver.NewOutput(
			c.model,
			c.mountOptions,
			c.parent.Output(c.mountOptions&parentOutputOptionsMask, c.nameInParent(), nil),
			c.input)
		if err != nil {
			return nil, err
		}
		c.output = output
	}
	return c.output, nil
}

type targetTouchListener targetArchiveController

func (l *targetTouchListener) BeforeTouch() error {
	// The file system must already be marked touched when checking
	// its registration, as touched file systems are not evicted.
	l.model.SetTouched(true)
	if err := l.model.EnsureRegistered(); err != nil {
		l.model.SetTouched(false)
		return err
	}
	if _, err := (*targetArchiveController)(l).makeOutput(); err != nil {
		l.model.SetTouched(false)
		return err
	}
	return nil
}

func (l *targetTouchListener) AfterTouch() {
	l.model.SetTouched(true)
}

// entryName returns the name under which an entry is stored in the
// archive.
func (c *targetArchiveController) entryName(name vfs.EntryName, entryType vfs.EntryType) (string, error) {
	if ce := c.fs.Lookup(name); ce != nil {
		if e := ce.Get(entryType); e != nil {
			return e.Name(), nil
		}
	}
	e, err := c.driver.NewEntry(name, entryType, nil)
	if err != nil {
		return "", err
	}
	return e.Name(), nil
}

// checkSyncForWrite returns the NeedsSync signal if an entry that is
// about to be written has already been written to the output session.
func (c *targetArchiveController) checkSyncForWrite(options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType) error {
	if c.output == nil {
		return nil
	}
	entryName, err := c.entryName(name, entryType)
	if err != nil {
		return err
	}
	if c.output.Entry(entryName) == nil {
		return nil
	}
	if options.Has(vfs.Grow) && c.driver.RedundantContentSupported() && c.driver.RedundantMetadataSupported() {
		return nil
	}
	return vfs.NeedsSync()
}

// checkSyncForRead returns the NeedsSync signal if the content of an
// entry cannot be read from the input session, either because it has
// been written to the output session, or because it was created after
// mounting.
func (c *targetArchiveController) checkSyncForRead(ce *archive.CovariantEntry) (vfs.ArchiveEntry, error) {
	head := ce.Get(vfs.FileEntry)
	if c.output != nil && c.output.Entry(head.Name()) != nil {
		return nil, vfs.NeedsSync()
	}
	if c.input == nil || c.input.Entry(head.Name()) != head {
		return nil, vfs.NeedsSync()
	}
	return head, nil
}

func (c *targetArchiveController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
	fs, err := c.autoMount(ctx, options, false)
	if err != nil {
		return nil, err
	}
	return fs.Stat(name)
}

func (c *targetArchiveController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	fs, err := c.autoMount(ctx, options, false)
	if err != nil {
		return err
	}
	return fs.CheckAccess(name, types)
}

func (c *targetArchiveController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	fs, err := c.autoMount(ctx, options, false)
	if err != nil {
		return err
	}
	return fs.SetReadOnly(name)
}

func (c *targetArchiveController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	if err := c.model.CheckWriteLockedByOwner(ctx); err != nil {
		return err
	}
	fs, err := c.autoMount(ctx, options, false)
	if err != nil {
		return err
	}
	return fs.SetTime(name, times)
}

func (c *targetArchiveController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		fs, err := c.autoMount(ctx, options, false)
		if err != nil {
			return nil, err
		}
		ce := fs.Lookup(name)
		if ce == nil {
			return nil, vfs.NewNotFoundError(name)
		}
		if !ce.IsType(vfs.FileEntry) {
			return nil, vfs.NewNotFileError(name)
		}
		head, err := c.checkSyncForRead(ce)
		if err != nil {
			return nil, err
		}
		return c.input.Input(head.Name()).Open(ctx)
	})
}

func (c *targetArchiveController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		if err := c.model.CheckWriteLockedByOwner(ctx); err != nil {
			return nil, err
		}
		fs, err := c.autoMount(ctx, options, options.Has(vfs.CreateParents))
		if err != nil {
			return nil, err
		}
		if err := c.checkSyncForWrite(options, name, vfs.FileEntry); err != nil {
			return nil, err
		}

		// Obtain the existing content before replacing the entry.
		var appendSource vfs.InputSocket
		if options.Has(vfs.Append) {
			if ce := fs.Lookup(name); ce != nil && ce.IsType(vfs.FileEntry) {
				if c.input != nil && c.input.Entry(ce.Get(vfs.FileEntry).Name()) == ce.Get(vfs.FileEntry) {
					appendSource = c.input.Input(ce.Get(vfs.FileEntry).Name())
				}
			}
		}

		link, err := fs.Mknod(name, vfs.FileEntry, options, template)
		if err != nil {
			return nil, err
		}
		output, err := c.makeOutput()
		if err != nil {
			return nil, err
		}
		w, err := output.Output(link.Entry()).Open(ctx)
		if err != nil {
			return nil, err
		}
		// Entries that are not linked into the file system must
		// not end up in the archive.
		if appendSource != nil {
			if err := copyFromSocket(ctx, w, appendSource); err != nil {
				w.Close()
				output.Discard(link.Entry())
				return nil, util.StatusWrapf(err, "Failed to copy existing content of entry %#v", name.String())
			}
		}
		if err := link.Commit(); err != nil {
			w.Close()
			output.Discard(link.Entry())
			return nil, err
		}
		return w, nil
	})
}

func copyFromSocket(ctx context.Context, w io.Writer, source vfs.InputSocket) error {
	r, err := source.Open(ctx)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	if closeErr := r.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (c *targetArchiveController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	if err := c.model.CheckWriteLockedByOwner(ctx); err != nil {
		return err
	}
	if name.IsRoot() {
		// Creating the root directory creates the archive, if it
		// does not exist already.
		if _, err := c.autoMount(ctx, options, false); err != nil {
			s, ok := vfs.AsSignal(err)
			if !ok || s.Kind() != vfs.FalsePositiveSignal || entryType != vfs.DirectoryEntry {
				return err
			}
			fs, err := c.autoMount(ctx, options, true)
			if err != nil {
				return err
			}
			return fs.Touch()
		}
		return vfs.NewAlreadyExistsError(name)
	}

	fs, err := c.autoMount(ctx, options, options.Has(vfs.CreateParents))
	if err != nil {
		return err
	}
	if err := c.checkSyncForWrite(options, name, entryType); err != nil {
		return err
	}
	link, err := fs.Mknod(name, entryType, options, template)
	if err != nil {
		return err
	}
	return link.Commit()
}

func (c *targetArchiveController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	if err := c.model.CheckWriteLockedByOwner(ctx); err != nil {
		return err
	}
	fs, err := c.autoMount(ctx, options, false)
	if err != nil {
		return err
	}
	if err := fs.Unlink(name); err != nil {
		return err
	}
	if !name.IsRoot() {
		return nil
	}

	// Removing the root directory of an empty archive removes the
	// archive file itself. All pending changes are discarded.
	if c.input != nil {
		c.input.Close()
	}
	if c.output != nil {
		c.output.Abort()
	}
	c.reset()
	return c.parent.Unlink(ctx, options&parentOutputOptionsMask, c.nameInParent())
}

func (c *targetArchiveController) reset() {
	if c.fs != nil {
		c.fs.SetTouchListener(nil)
	}
	c.fs = nil
	c.input = nil
	c.output = nil
	c.model.SetTouched(false)
}

// readErrorTracker records errors returned by a reader, so that
// failures to read from the input session can be distinguished from
// failures to write to the output session.
type readErrorTracker struct {
	r   io.Reader
	err error
}

func (t *readErrorTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// copyEntry copies an entry from the input session to the output
// session. Errors reading from the input are returned separately, as
// they are survivable.
func (c *targetArchiveController) copyEntry(ctx context.Context, e vfs.ArchiveEntry) (inputErr, outputErr error) {
	r, err := c.input.Input(e.Name()).Open(ctx)
	if err != nil {
		return err, nil
	}
	defer r.Close()
	w, err := c.output.Output(e).Open(ctx)
	if err != nil {
		return nil, err
	}
	tracker := readErrorTracker{r: r}
	if _, err := io.Copy(w, &tracker); err != nil {
		w.Close()
		if tracker.err != nil {
			return tracker.err, nil
		}
		return nil, err
	}
	return nil, w.Close()
}

func (c *targetArchiveController) writeEmptyEntry(ctx context.Context, e vfs.ArchiveEntry) error {
	w, err := c.output.Output(e).Open(ctx)
	if err != nil {
		return err
	}
	return w.Close()
}

// copyEntries writes all entries that have not been written to the
// output session yet.
func (c *targetArchiveController) copyEntries(ctx context.Context, builder *vfs.SyncErrorBuilder) error {
	mountPoint := c.model.MountPoint()
	var inputErr error
	for _, ce := range c.fs.Slots() {
		for _, e := range ce.Entries() {
			if c.output.Entry(e.Name()) != nil {
				continue
			}
			var outputErr error
			switch e.Type() {
			case vfs.DirectoryEntry:
				if ce.Name().IsRoot() || e.Time(vfs.WriteAccess).IsZero() {
					// Root and ghost directories are
					// not stored.
					continue
				}
				outputErr = c.writeEmptyEntry(ctx, e)
			case vfs.FileEntry:
				if c.input != nil && c.input.Entry(e.Name()) == e {
					var err error
					err, outputErr = c.copyEntry(ctx, e)
					if err != nil && inputErr == nil {
						inputErr = util.StatusWrapf(err, "Failed to copy entry %#v", e.Name())
					}
				} else {
					// Entries created without writing
					// any content are stored as empty.
					e.SetSize(vfs.DataSize, vfs.UnknownSize)
					e.SetSize(vfs.StorageSize, vfs.UnknownSize)
					outputErr = c.writeEmptyEntry(ctx, e)
				}
			}
			if outputErr != nil {
				if _, ok := vfs.AsSignal(outputErr); ok {
					return outputErr
				}
				return builder.Fail(vfs.NewSyncFailure(mountPoint, util.StatusWrapf(outputErr, "Failed to write entry %#v", e.Name())))
			}
		}
	}
	for _, e := range c.fs.Passthrough() {
		if c.output.Entry(e.Name()) != nil {
			continue
		}
		err, outputErr := c.copyEntry(ctx, e)
		if err != nil && inputErr == nil {
			inputErr = util.StatusWrapf(err, "Failed to copy entry %#v", e.Name())
		}
		if outputErr != nil {
			if _, ok := vfs.AsSignal(outputErr); ok {
				return outputErr
			}
			return builder.Fail(vfs.NewSyncFailure(mountPoint, util.StatusWrapf(outputErr, "Failed to write entry %#v", e.Name())))
		}
	}
	if inputErr != nil {
		builder.Warn(vfs.NewSyncWarning(mountPoint, inputErr))
	}
	return nil
}

func (c *targetArchiveController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	if c.fs == nil && c.input == nil && c.output == nil {
		return nil
	}
	if err := c.model.CheckWriteLockedByOwner(ctx); err != nil {
		return err
	}

	mountPoint := c.model.MountPoint()
	builder := vfs.NewSyncErrorBuilder()
	if c.output != nil && c.fs != nil && !options.Has(vfs.AbortChanges) {
		if err := c.copyEntries(ctx, builder); err != nil {
			return err
		}
	}

	if c.input != nil {
		if err := c.input.Close(); err != nil {
			builder.Warn(vfs.NewSyncWarning(mountPoint, util.StatusWrap(err, "Failed to close input")))
		}
		c.input = nil
	}
	if c.output != nil {
		if options.Has(vfs.AbortChanges) {
			c.output.Abort()
		} else if err := c.output.Close(ctx); err != nil {
			if _, ok := vfs.AsSignal(err); ok {
				// Retain the output session, so that
				// closing can be retried.
				return err
			}
			// Pending changes are lost. The state is reset
			// nonetheless, as the output session is unusable.
			builder.Warn(vfs.NewSyncFailure(mountPoint, util.StatusWrap(err, "Failed to write archive")))
		}
	}
	c.reset()
	return builder.Check()
}
