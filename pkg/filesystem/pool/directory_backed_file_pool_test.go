package pool_test

import (
	"io"
	"os"
	"testing"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/stretchr/testify/require"
)

func TestDirectoryBackedFilePool(t *testing.T) {
	directory, err := filesystem.NewLocalDirectory(path.LocalFormat.NewParser(t.TempDir()))
	require.NoError(t, err)
	defer directory.Close()
	fp := pool.NewDirectoryBackedFilePool(directory)

	t.Run("StaleFilesRemoved", func(t *testing.T) {
		// Files left behind by a previous process should be
		// removed as soon as the pool is used.
		stale, err := directory.OpenWrite(path.MustNewComponent("stale"), filesystem.CreateExcl(0o600))
		require.NoError(t, err)
		require.NoError(t, stale.Close())

		f, err := fp.NewFile()
		require.NoError(t, err)
		_, err = directory.Lstat(path.MustNewComponent("stale"))
		require.True(t, os.IsNotExist(err))
		require.NoError(t, f.Close())
	})

	t.Run("EmptyFile", func(t *testing.T) {
		f, err := fp.NewFile()
		require.NoError(t, err)

		// Files are only created on disk when written.
		var p [10]byte
		n, err := f.ReadAt(p[:], 0)
		require.Equal(t, 0, n)
		require.Equal(t, io.EOF, err)
		size, err := f.Len()
		require.NoError(t, err)
		require.Equal(t, int64(0), size)
		_, err = f.GetNextRegionOffset(0, filesystem.Data)
		require.Equal(t, io.EOF, err)
		entries, err := directory.ReadDir()
		require.NoError(t, err)
		require.Empty(t, entries)

		require.NoError(t, f.Sync())
		require.NoError(t, f.Close())
	})

	t.Run("NonEmptyFile", func(t *testing.T) {
		f, err := fp.NewFile()
		require.NoError(t, err)

		n, err := f.WriteAt([]byte("Hello, world"), 3)
		require.Equal(t, 12, n)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(8))
		require.NoError(t, f.Sync())

		var p [10]byte
		n, err = f.ReadAt(p[:], 0)
		require.Equal(t, 8, n)
		require.Equal(t, io.EOF, err)
		require.Equal(t, []byte("\x00\x00\x00Hello"), p[:n])
		size, err := f.Len()
		require.NoError(t, err)
		require.Equal(t, int64(8), size)

		entries, err := directory.ReadDir()
		require.NoError(t, err)
		require.Len(t, entries, 1)

		// Closing the file should remove it from disk.
		require.NoError(t, f.Close())
		entries, err = directory.ReadDir()
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}
