package pool

import (
	"io"

	"github.com/buildbarn/bb-storage/pkg/filesystem"
)

// FileAppender is an io.Writer that appends data to a file obtained
// from a FilePool. It is used to materialize streams into pooled
// files, so that they can subsequently be read at random offsets.
type FileAppender struct {
	file filesystem.FileReadWriter
	size int64
}

// NewFileAppender creates a FileAppender that starts writing at a
// given offset.
func NewFileAppender(file filesystem.FileReadWriter, offset int64) *FileAppender {
	return &FileAppender{
		file: file,
		size: offset,
	}
}

func (a *FileAppender) Write(p []byte) (int, error) {
	n, err := a.file.WriteAt(p, a.size)
	a.size += int64(n)
	return n, err
}

// Size returns the offset at which the next write takes place.
func (a *FileAppender) Size() int64 {
	return a.size
}

// NewFileReader returns a reader of the first size bytes of a file.
func NewFileReader(file filesystem.FileReadWriter, size int64) io.Reader {
	return io.NewSectionReader(file, 0, size)
}
