package driver

import (
	"context"
	"io"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// materialize copies the content of an archive into a pooled file,
// so that its entries can be accessed at random offsets.
func materialize(ctx context.Context, filePool pool.FilePool, source vfs.InputSocket, decompress func(io.Reader) (io.ReadCloser, error)) (filesystem.FileReadWriter, int64, error) {
	r, err := source.Open(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var rd io.Reader = r
	if decompress != nil {
		dr, err := decompress(r)
		if err != nil {
			return nil, 0, err
		}
		defer dr.Close()
		rd = dr
	}

	file, err := filePool.NewFile()
	if err != nil {
		return nil, 0, util.StatusWrap(err, "Failed to create buffer for archive")
	}
	appender := pool.NewFileAppender(file, 0)
	if _, err := io.Copy(appender, rd); err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, appender.Size(), nil
}
