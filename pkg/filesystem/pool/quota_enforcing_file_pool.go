package pool

import (
	"sync"

	"github.com/buildbarn/bb-storage/pkg/filesystem"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// quota keeps track of the number of files and bytes that may still be
// allocated from a quotaEnforcingFilePool.
type quota struct {
	lock             sync.Mutex
	maximumFileCount int64
	maximumTotalSize int64
	files            int64
	bytes            int64
}

func (q *quota) allocate(files, bytes int64) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.files+files > q.maximumFileCount {
		return status.Errorf(codes.ResourceExhausted, "Buffer pool file count quota of %d reached", q.maximumFileCount)
	}
	if q.bytes+bytes > q.maximumTotalSize {
		return status.Errorf(codes.ResourceExhausted, "Buffer pool size quota of %d bytes reached", q.maximumTotalSize)
	}
	q.files += files
	q.bytes += bytes
	return nil
}

func (q *quota) release(files, bytes int64) {
	q.lock.Lock()
	q.files -= files
	q.bytes -= bytes
	q.lock.Unlock()
}

type quotaEnforcingFilePool struct {
	base  FilePool
	quota quota
}

// NewQuotaEnforcingFilePool creates a FilePool that limits the number
// of buffers that may be held at the same time, and their total size.
// Large archives may otherwise exhaust memory or disk space while being
// extracted or assembled. Space is reclaimed by truncating or closing
// files.
func NewQuotaEnforcingFilePool(base FilePool, maximumFileCount, maximumTotalSize int64) FilePool {
	return &quotaEnforcingFilePool{
		base: base,
		quota: quota{
			maximumFileCount: maximumFileCount,
			maximumTotalSize: maximumTotalSize,
		},
	}
}

func (fp *quotaEnforcingFilePool) NewFile() (filesystem.FileReadWriter, error) {
	if err := fp.quota.allocate(1, 0); err != nil {
		return nil, err
	}
	f, err := fp.base.NewFile()
	if err != nil {
		fp.quota.release(1, 0)
		return nil, err
	}
	return &quotaEnforcingFile{
		FileReadWriter: f,
		quota:          &fp.quota,
	}, nil
}

type quotaEnforcingFile struct {
	filesystem.FileReadWriter

	quota *quota
	size  int64
}

func (f *quotaEnforcingFile) Close() error {
	err := f.FileReadWriter.Close()
	f.FileReadWriter = nil
	f.quota.release(1, f.size)
	f.quota = nil
	return err
}

func (f *quotaEnforcingFile) Truncate(size int64) error {
	switch {
	case size < f.size:
		if err := f.FileReadWriter.Truncate(size); err != nil {
			return err
		}
		f.quota.release(0, f.size-size)
	case size > f.size:
		growth := size - f.size
		if err := f.quota.allocate(0, growth); err != nil {
			return err
		}
		if err := f.FileReadWriter.Truncate(size); err != nil {
			f.quota.release(0, growth)
			return err
		}
	}
	f.size = size
	return nil
}

func (f *quotaEnforcingFile) WriteAt(p []byte, off int64) (int, error) {
	desiredSize := off + int64(len(p))
	if desiredSize <= f.size {
		return f.FileReadWriter.WriteAt(p, off)
	}

	// Space is allocated up front. The part that was not written is
	// released afterwards.
	if err := f.quota.allocate(0, desiredSize-f.size); err != nil {
		return 0, err
	}
	n, err := f.FileReadWriter.WriteAt(p, off)
	actualSize := f.size
	if end := off + int64(n); n > 0 && end > actualSize {
		actualSize = end
	}
	f.quota.release(0, desiredSize-actualSize)
	f.size = actualSize
	return n, err
}
