package pool

import (
	"io"
	"os"
	"strconv"
	"sync/atomic"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/buildbarn/bb-storage/pkg/util"
)

type directoryBackedFilePool struct {
	directory   filesystem.Directory
	initializer afs_sync.Initializer

	nextID atomic.Uint64
}

// NewDirectoryBackedFilePool creates a FilePool that stores all data
// written to files into a single directory on disk. Files stored in the
// underlying directory are simply identified by an incrementing number.
//
// As many files may exist at a given point in time, this implementation
// does not keep any backing files open. This would exhaust the file
// descriptor table. Files are opened on demand.
//
// Whenever the pool goes from being unused to being used and back, the
// directory is emptied out, so that files leaked by a crashed process
// don't accumulate.
func NewDirectoryBackedFilePool(directory filesystem.Directory) FilePool {
	return &directoryBackedFilePool{
		directory: directory,
	}
}

func (fp *directoryBackedFilePool) removeAllChildren() error {
	if err := fp.directory.RemoveAllChildren(); err != nil {
		return util.StatusWrap(err, "Failed to empty out file pool directory")
	}
	return nil
}

func (fp *directoryBackedFilePool) NewFile() (filesystem.FileReadWriter, error) {
	if err := fp.initializer.Acquire(fp.removeAllChildren); err != nil {
		return nil, err
	}
	return &lazyOpeningSelfDeletingFile{
		pool: fp,
		name: path.MustNewComponent(strconv.FormatUint(fp.nextID.Add(1), 10)),
	}, nil
}

// lazyOpeningSelfDeletingFile is a file descriptor that forwards
// operations to a file that is opened on demand. Upon closure, the
// underlying file is unlinked.
type lazyOpeningSelfDeletingFile struct {
	pool *directoryBackedFilePool
	name path.Component
}

func (f *lazyOpeningSelfDeletingFile) Close() error {
	err := f.pool.directory.Remove(f.name)
	if os.IsNotExist(err) {
		err = nil
	}
	if releaseErr := f.pool.initializer.Release(f.pool.removeAllChildren); err == nil {
		err = releaseErr
	}
	return err
}

func (f *lazyOpeningSelfDeletingFile) GetNextRegionOffset(off int64, regionType filesystem.RegionType) (int64, error) {
	fh, err := f.pool.directory.OpenRead(f.name)
	if os.IsNotExist(err) {
		// Empty file that doesn't explicitly exist in the
		// backing store yet. It has no regions.
		return 0, io.EOF
	} else if err != nil {
		return 0, err
	}
	defer fh.Close()
	return fh.GetNextRegionOffset(off, regionType)
}

func (f *lazyOpeningSelfDeletingFile) Len() (int64, error) {
	fh, err := f.pool.directory.OpenRead(f.name)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	defer fh.Close()
	return fh.Len()
}

func (f *lazyOpeningSelfDeletingFile) ReadAt(p []byte, off int64) (int, error) {
	fh, err := f.pool.directory.OpenRead(f.name)
	if os.IsNotExist(err) {
		// Empty file that doesn't explicitly exist in the
		// backing store yet. Treat it as if it's a zero-length
		// file.
		return 0, io.EOF
	} else if err != nil {
		return 0, err
	}
	defer fh.Close()
	return fh.ReadAt(p, off)
}

func (f *lazyOpeningSelfDeletingFile) Sync() error {
	fh, err := f.pool.directory.OpenWrite(f.name, filesystem.DontCreate)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	defer fh.Close()
	return fh.Sync()
}

func (f *lazyOpeningSelfDeletingFile) Truncate(size int64) error {
	fh, err := f.pool.directory.OpenWrite(f.name, filesystem.CreateReuse(0o600))
	if err != nil {
		return err
	}
	defer fh.Close()
	return fh.Truncate(size)
}

func (f *lazyOpeningSelfDeletingFile) WriteAt(p []byte, off int64) (int, error) {
	fh, err := f.pool.directory.OpenWrite(f.name, filesystem.CreateReuse(0o600))
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	return fh.WriteAt(p, off)
}
