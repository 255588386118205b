package federation

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/driver"
	"github.com/buildbarn/bb-archivefs/pkg/manager"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// FileSystem provides access to a tree of files in which archive files
// are presented as directories. Archives are recognized by the suffix
// of their name, and may be nested to any depth.
//
// Files with an archive suffix that turn out not to be valid archives
// are accessed as regular files.
type FileSystem struct {
	manager *manager.Manager
	root    vfs.Controller
	drivers *driver.Table
}

// NewFileSystem creates a FileSystem on top of a root file system.
// The root file system is registered with the Manager, which is used
// to create the controllers of all archives accessed.
func NewFileSystem(m *manager.Manager, root vfs.Controller, drivers *driver.Table) (*FileSystem, error) {
	if err := m.RegisterRoot(root); err != nil {
		return nil, err
	}
	return &FileSystem{
		manager: m,
		root:    root,
		drivers: drivers,
	}, nil
}

// resolve returns the controller of the innermost file system that
// contains an entry, and the name of the entry within that file
// system. Every path component carrying an archive suffix causes the
// entry to be looked up inside the archive. A path naming an archive
// file resolves to the root directory of the archive.
//
// The file system is prevented from being evicted until the returned
// release function is called.
func (fs *FileSystem) resolve(p string) (vfs.Controller, vfs.EntryName, vfs.EntryName, func(), error) {
	fullName, err := vfs.NewEntryName(p)
	if err != nil {
		return nil, vfs.EntryName{}, vfs.EntryName{}, nil, err
	}
	c := fs.root
	var handle *manager.Handle
	name := vfs.RootEntryName
	for _, component := range fullName.Components() {
		name = name.Append(component)
		if d, format := fs.drivers.Lookup(component); d != nil {
			child, err := fs.manager.Acquire(c.Model().MountPoint().NewChild(format, name), d)
			if handle != nil {
				handle.Release()
			}
			if err != nil {
				return nil, vfs.EntryName{}, vfs.EntryName{}, nil, util.StatusWrapf(err, "Failed to obtain file system for %#v", fullName.String())
			}
			handle = child
			c = handle.Controller()
			name = vfs.RootEntryName
		}
	}
	if handle == nil {
		return c, name, fullName, func() {}, nil
	}
	return c, name, fullName, handle.Release, nil
}

func (fs *FileSystem) stat(ctx context.Context, p string) (*vfs.Node, error) {
	c, name, fullName, release, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	defer release()
	node, err := c.Stat(ctx, 0, name)
	if err != nil {
		return nil, err
	}
	// Report the name relative to the root of the federation, as
	// opposed to the file system containing the entry.
	federated := *node
	federated.Name = fullName
	return &federated, nil
}

// Stat returns the properties of an entry. Archives are reported as
// directories.
func (fs *FileSystem) Stat(ctx context.Context, p string) (*vfs.Node, error) {
	return fs.stat(ctx, p)
}

// ReadDir returns the properties of all members of a directory, sorted
// by name.
func (fs *FileSystem) ReadDir(ctx context.Context, p string) ([]*vfs.Node, error) {
	node, err := fs.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if node.Type != vfs.DirectoryEntry {
		return nil, vfs.NewNotDirectoryError(node.Name)
	}
	members := make([]*vfs.Node, 0, len(node.Members))
	for _, member := range node.Members {
		memberName := node.Name.Append(member)
		memberNode, err := fs.stat(ctx, memberName.String())
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to obtain properties of %#v", memberName.String())
		}
		members = append(members, memberNode)
	}
	return members, nil
}

// releasingCloser releases the file system containing a stream once
// the stream is closed.
type releasingCloser struct {
	closer  io.Closer
	release sync.Once
	handle  func()
}

func (c *releasingCloser) Close() error {
	err := c.closer.Close()
	c.release.Do(c.handle)
	return err
}

type releasingReader struct {
	io.Reader
	releasingCloser
}

type releasingWriter struct {
	io.Writer
	releasingCloser
}

// Open a file for reading.
func (fs *FileSystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c, name, _, release, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	r, err := c.Input(0, name).Open(ctx)
	if err != nil {
		release()
		return nil, err
	}
	return &releasingReader{
		Reader:          r,
		releasingCloser: releasingCloser{closer: r, handle: release},
	}, nil
}

// Create a file for writing, replacing its existing content unless
// vfs.Append is provided.
func (fs *FileSystem) Create(ctx context.Context, p string, options vfs.AccessOptions) (io.WriteCloser, error) {
	c, name, _, release, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	w, err := c.Output(options, name, nil).Open(ctx)
	if err != nil {
		release()
		return nil, err
	}
	return &releasingWriter{
		Writer:          w,
		releasingCloser: releasingCloser{closer: w, handle: release},
	}, nil
}

// Mkdir creates a directory. Creating a directory whose name carries
// an archive suffix creates an empty archive.
func (fs *FileSystem) Mkdir(ctx context.Context, p string, options vfs.AccessOptions) error {
	c, name, _, release, err := fs.resolve(p)
	if err != nil {
		return err
	}
	defer release()
	return c.Mknod(ctx, options, name, vfs.DirectoryEntry, nil)
}

// Remove a file or an empty directory. Removing an empty archive
// removes the archive file.
func (fs *FileSystem) Remove(ctx context.Context, p string) error {
	c, name, _, release, err := fs.resolve(p)
	if err != nil {
		return err
	}
	defer release()
	return c.Unlink(ctx, 0, name)
}

// SetModificationTime alters the modification time of an entry.
func (fs *FileSystem) SetModificationTime(ctx context.Context, p string, t time.Time) error {
	c, name, _, release, err := fs.resolve(p)
	if err != nil {
		return err
	}
	defer release()
	return c.SetTime(ctx, 0, name, map[vfs.AccessType]time.Time{
		vfs.WriteAccess: t,
	})
}

// Sync writes pending changes of all archives to their parent file
// systems, nested archives first.
func (fs *FileSystem) Sync(ctx context.Context, options vfs.SyncOptions) error {
	return fs.manager.Sync(ctx, options, vfs.NewSyncErrorBuilder())
}

// Close writes all pending changes, forcefully closing streams that
// are still open, and unmounts all archives.
func (fs *FileSystem) Close(ctx context.Context) error {
	return fs.Sync(ctx, vfs.SyncUmount)
}
