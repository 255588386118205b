package rootfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type localController struct {
	model         *vfs.Model
	directory     filesystem.DirectoryCloser
	directoryPath string
}

// NewLocalController creates a Controller that provides access to a
// directory on the local file system. It acts as the root of a
// federation of archive file systems.
//
// Files are replaced atomically. Output is written to a temporary file
// in the same directory, which is renamed upon closure.
func NewLocalController(directoryPath string) (vfs.Controller, error) {
	absolutePath, err := filepath.Abs(directoryPath)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to resolve path %#v", directoryPath)
	}
	directory, err := filesystem.NewLocalDirectory(path.LocalFormat.NewParser(absolutePath))
	if err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.InvalidArgument, "Path %#v cannot be opened as a directory", absolutePath)
	}
	return &localController{
		model:         vfs.NewModel(vfs.NewRootMountPoint("file", filepath.ToSlash(absolutePath)), nil),
		directory:     directory,
		directoryPath: absolutePath,
	}, nil
}

func (c *localController) Model() *vfs.Model {
	return c.model
}

func (c *localController) Parent() vfs.Controller {
	return nil
}

// path returns the pathname of an entry, for the operations that the
// directory handle does not provide.
func (c *localController) path(name vfs.EntryName) string {
	return filepath.Join(c.directoryPath, filepath.FromSlash(name.String()))
}

func newComponent(name vfs.EntryName, component string) (path.Component, error) {
	pc, ok := path.NewComponent(component)
	if !ok {
		return path.Component{}, status.Errorf(codes.InvalidArgument, "Entry %#v has invalid filename %#v", name.String(), component)
	}
	return pc, nil
}

// enterParent opens the directory containing an entry, creating it and
// its ancestors if requested. The caller must close the directory.
func (c *localController) enterParent(name vfs.EntryName, createParents bool) (filesystem.DirectoryCloser, path.Component, error) {
	components := name.Components()
	d := filesystem.NopDirectoryCloser(c.directory)
	parentName := vfs.RootEntryName
	for _, component := range components[:len(components)-1] {
		parentName = parentName.Append(component)
		pc, err := newComponent(name, component)
		if err != nil {
			d.Close()
			return nil, path.Component{}, err
		}
		if createParents {
			if err := d.Mkdir(pc, 0o777); err != nil && !errors.Is(err, fs.ErrExist) {
				d.Close()
				return nil, path.Component{}, convertError(parentName, err, "create parent directory")
			}
		}
		child, err := d.EnterDirectory(pc)
		d.Close()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, path.Component{}, vfs.NewMissingParentError(name)
			}
			return nil, path.Component{}, convertError(parentName, err, "enter parent directory")
		}
		d = child
	}
	leaf, err := newComponent(name, components[len(components)-1])
	if err != nil {
		d.Close()
		return nil, path.Component{}, err
	}
	return d, leaf, nil
}

func entryTypeFromFileType(fileType filesystem.FileType) vfs.EntryType {
	switch fileType {
	case filesystem.FileTypeRegularFile:
		return vfs.FileEntry
	case filesystem.FileTypeDirectory:
		return vfs.DirectoryEntry
	case filesystem.FileTypeSymlink:
		return vfs.SymlinkEntry
	default:
		return vfs.SpecialEntry
	}
}

func readMembers(d filesystem.Directory) ([]string, error) {
	infos, err := d.ReadDir()
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(infos))
	for _, info := range infos {
		members = append(members, info.Name().String())
	}
	return members, nil
}

func (c *localController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
	node := &vfs.Node{
		Name:        name,
		Type:        vfs.DirectoryEntry,
		DataSize:    vfs.UnknownSize,
		StorageSize: vfs.UnknownSize,
	}
	if name.IsRoot() {
		members, err := readMembers(c.directory)
		if err != nil {
			return nil, convertError(name, err, "read directory")
		}
		node.Members = members
	} else {
		d, leaf, err := c.enterParent(name, false)
		if err != nil {
			return nil, err
		}
		defer d.Close()

		fi, err := d.Lstat(leaf)
		if err != nil {
			return nil, convertError(name, err, "stat entry")
		}
		node.Type = entryTypeFromFileType(fi.Type())
		switch node.Type {
		case vfs.FileEntry:
			f, err := d.OpenRead(leaf)
			if err != nil {
				return nil, convertError(name, err, "open entry")
			}
			size, err := f.Len()
			f.Close()
			if err != nil {
				return nil, convertError(name, err, "obtain size")
			}
			node.DataSize = size
			node.StorageSize = size
		case vfs.DirectoryEntry:
			child, err := d.EnterDirectory(leaf)
			if err != nil {
				return nil, convertError(name, err, "enter directory")
			}
			node.Members, err = readMembers(child)
			child.Close()
			if err != nil {
				return nil, convertError(name, err, "read directory")
			}
		}
	}
	node.Types = vfs.NewEntryTypes(node.Type)

	_, modificationTime, err := getTimes(c.path(name))
	if err != nil {
		return nil, convertError(name, err, "obtain times")
	}
	node.ModificationTime = modificationTime
	return node, nil
}

func (c *localController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	return checkAccess(name, c.path(name), types)
}

func (c *localController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	if err := setReadOnly(c.path(name)); err != nil {
		return convertError(name, err, "change permissions")
	}
	return nil
}

// chtimes sets the times of an entry. Zero times are left unchanged.
func (c *localController) chtimes(d filesystem.Directory, leaf path.Component, name vfs.EntryName, accessTime, modificationTime time.Time) error {
	if accessTime.IsZero() || modificationTime.IsZero() {
		currentAccessTime, currentModificationTime, err := getTimes(c.path(name))
		if err != nil {
			return convertError(name, err, "obtain times")
		}
		if accessTime.IsZero() {
			accessTime = currentAccessTime
		}
		if modificationTime.IsZero() {
			modificationTime = currentModificationTime
		}
	}
	if err := d.Chtimes(leaf, accessTime, modificationTime); err != nil {
		return convertError(name, err, "change times")
	}
	return nil
}

func (c *localController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	if _, ok := times[vfs.CreateAccess]; ok {
		return newCreationTimeError(name)
	}
	if name.IsRoot() {
		return status.Error(codes.InvalidArgument, "The times of the root directory of a file system cannot be altered")
	}
	d, leaf, err := c.enterParent(name, false)
	if err != nil {
		return err
	}
	defer d.Close()
	return c.chtimes(d, leaf, name, times[vfs.ReadAccess], times[vfs.WriteAccess])
}

// localReader reads a file through a handle that is opened for the
// lifetime of the stream.
type localReader struct {
	*io.SectionReader
	file filesystem.FileReader
}

func (r localReader) Close() error {
	return r.file.Close()
}

func (c *localController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		if name.IsRoot() {
			return nil, vfs.NewNotFileError(name)
		}
		d, leaf, err := c.enterParent(name, false)
		if err != nil {
			return nil, err
		}
		defer d.Close()

		fi, err := d.Lstat(leaf)
		if err != nil {
			return nil, convertError(name, err, "stat entry")
		}
		if fi.Type() != filesystem.FileTypeRegularFile {
			return nil, vfs.NewNotFileError(name)
		}
		f, err := d.OpenRead(leaf)
		if err != nil {
			return nil, convertError(name, err, "open entry")
		}
		size, err := f.Len()
		if err != nil {
			f.Close()
			return nil, convertError(name, err, "obtain size")
		}
		return localReader{
			SectionReader: io.NewSectionReader(f, 0, size),
			file:          f,
		}, nil
	})
}

func (c *localController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		if name.IsRoot() {
			return nil, vfs.NewNotFileError(name)
		}
		d, leaf, err := c.enterParent(name, options.Has(vfs.CreateParents))
		if err != nil {
			return nil, err
		}

		fi, err := d.Lstat(leaf)
		exists := err == nil
		if exists {
			if options.Has(vfs.Exclusive) {
				d.Close()
				return nil, vfs.NewAlreadyExistsError(name)
			}
			if fi.Type() != filesystem.FileTypeRegularFile {
				d.Close()
				return nil, vfs.NewNotFileError(name)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			d.Close()
			return nil, convertError(name, err, "stat entry")
		}

		tempName := path.MustNewComponent("." + leaf.String() + "." + uuid.Must(uuid.NewRandom()).String() + ".tmp")
		f, err := d.OpenWrite(tempName, filesystem.CreateExcl(0o666))
		if err != nil {
			d.Close()
			return nil, convertError(name, err, "create temporary file")
		}
		w := &localWriter{
			directory: d,
			file:      f,
			tempName:  tempName,
			name:      leaf,
		}
		if template != nil {
			w.modificationTime = template.Time(vfs.WriteAccess)
		}
		if options.Has(vfs.Append) && exists {
			if err := w.copyFrom(leaf); err != nil {
				w.abort()
				return nil, convertError(name, err, "copy existing content")
			}
		}
		return w, nil
	})
}

// localWriter writes to a temporary file that replaces the target file
// upon closure.
type localWriter struct {
	directory        filesystem.DirectoryCloser
	file             filesystem.FileWriter
	tempName         path.Component
	name             path.Component
	offset           int64
	modificationTime time.Time
	closed           bool
}

func (w *localWriter) copyFrom(name path.Component) error {
	f, err := w.directory.OpenRead(name)
	if err != nil {
		return err
	}
	defer f.Close()
	size, err := f.Len()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, io.NewSectionReader(f, 0, size))
	return err
}

func (w *localWriter) abort() {
	w.file.Close()
	w.directory.Remove(w.tempName)
	w.directory.Close()
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, vfs.NewResourceClosedError()
	}
	n, err := w.file.WriteAt(p, w.offset)
	w.offset += int64(n)
	return n, err
}

func (w *localWriter) Close() error {
	if w.closed {
		return vfs.NewResourceClosedError()
	}
	w.closed = true
	defer w.directory.Close()

	if err := w.file.Close(); err != nil {
		w.directory.Remove(w.tempName)
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to close temporary file")
	}
	if !w.modificationTime.IsZero() {
		// The file has only just been written, meaning its
		// access time carries no information.
		if err := w.directory.Chtimes(w.tempName, w.modificationTime, w.modificationTime); err != nil {
			w.directory.Remove(w.tempName)
			return util.StatusWrapWithCode(err, codes.Internal, "Failed to set modification time")
		}
	}
	if err := w.directory.Rename(w.tempName, w.directory, w.name); err != nil {
		w.directory.Remove(w.tempName)
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to rename temporary file")
	}
	return nil
}

func (c *localController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	if name.IsRoot() {
		return vfs.NewAlreadyExistsError(name)
	}
	d, leaf, err := c.enterParent(name, options.Has(vfs.CreateParents))
	if err != nil {
		return err
	}
	defer d.Close()

	switch entryType {
	case vfs.FileEntry:
		creationMode := filesystem.CreateExcl(0o666)
		if !options.Has(vfs.Exclusive) {
			if fi, err := d.Lstat(leaf); err == nil && fi.Type() != filesystem.FileTypeRegularFile {
				return vfs.NewAlreadyExistsError(name)
			}
			creationMode = filesystem.CreateReuse(0o666)
		}
		f, err := d.OpenWrite(leaf, creationMode)
		if err != nil {
			return convertError(name, err, "create file")
		}
		if err := f.Close(); err != nil {
			return convertError(name, err, "create file")
		}
	case vfs.DirectoryEntry:
		if err := d.Mkdir(leaf, 0o777); err != nil {
			return convertError(name, err, "create directory")
		}
	default:
		return vfs.NewUnsupportedEntryTypeError(name, entryType)
	}
	if template != nil {
		if t := template.Time(vfs.WriteAccess); !t.IsZero() {
			return c.chtimes(d, leaf, name, time.Time{}, t)
		}
	}
	return nil
}

func (c *localController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	if name.IsRoot() {
		return newRootRemovalError()
	}
	d, leaf, err := c.enterParent(name, false)
	if err != nil {
		return err
	}
	defer d.Close()

	fi, err := d.Lstat(leaf)
	if err != nil {
		return convertError(name, err, "stat entry")
	}
	if fi.Type() == filesystem.FileTypeDirectory {
		// Removal reports why a non-empty directory cannot be
		// removed inconsistently across platforms.
		child, err := d.EnterDirectory(leaf)
		if err != nil {
			return convertError(name, err, "enter directory")
		}
		members, err := readMembers(child)
		child.Close()
		if err != nil {
			return convertError(name, err, "read directory")
		}
		if len(members) > 0 {
			return vfs.NewDirectoryNotEmptyError(name)
		}
	}
	if err := d.Remove(leaf); err != nil {
		return convertError(name, err, "remove entry")
	}
	return nil
}

// Sync is a no-op, as all changes are applied immediately.
func (c *localController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	return nil
}
