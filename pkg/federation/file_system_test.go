package federation_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/cache"
	"github.com/buildbarn/bb-archivefs/pkg/controller"
	"github.com/buildbarn/bb-archivefs/pkg/driver"
	"github.com/buildbarn/bb-archivefs/pkg/federation"
	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/manager"
	"github.com/buildbarn/bb-archivefs/pkg/rootfs"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newFileSystem(t *testing.T, root vfs.Controller) *federation.FileSystem {
	drivers, err := driver.NewTableFromConfiguration(pool.InMemoryFilePool, nil)
	require.NoError(t, err)
	m := manager.NewManager(&controller.ChainConfiguration{
		Clock:                      clock.SystemClock,
		RandomGenerator:            random.FastThreadSafeGenerator,
		ErrorLogger:                util.DefaultErrorLogger,
		FilePool:                   pool.InMemoryFilePool,
		CacheStrategy:              cache.WriteBack,
		LockTimeout:                10 * time.Millisecond,
		MaximumBackoff:             10 * time.Millisecond,
		ForeignResourceWaitTimeout: time.Second,
	}, 2, noop.NewTracerProvider())
	fs, err := federation.NewFileSystem(m, root, drivers)
	require.NoError(t, err)
	return fs
}

func writeFile(ctx context.Context, t *testing.T, fs *federation.FileSystem, options vfs.AccessOptions, p, content string) {
	w, err := fs.Create(ctx, p, options)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(ctx context.Context, t *testing.T, fs *federation.FileSystem, p string) string {
	r, err := fs.Open(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(data)
}

func TestFileSystemNestedArchives(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)

	fs := newFileSystem(t, root)
	writeFile(ctx, t, fs, vfs.CreateParents, "dir/a.zip/b.tar.gz/hello.txt", "Hello")
	require.NoError(t, fs.Mkdir(ctx, "dir/a.zip/c", 0))
	require.NoError(t, fs.Close(ctx))

	// Upon closing, all archives have been written to the root
	// file system.
	node, err := root.Stat(ctx, 0, vfs.MustNewEntryName("dir/a.zip"))
	require.NoError(t, err)
	require.Equal(t, vfs.FileEntry, node.Type)
	require.NotZero(t, node.DataSize)

	fs = newFileSystem(t, root)

	t.Run("Stat", func(t *testing.T) {
		node, err := fs.Stat(ctx, "dir/a.zip")
		require.NoError(t, err)
		require.Equal(t, vfs.MustNewEntryName("dir/a.zip"), node.Name)
		require.Equal(t, vfs.DirectoryEntry, node.Type)
		require.Equal(t, []string{"b.tar.gz", "c"}, node.Members)

		node, err = fs.Stat(ctx, "dir/a.zip/b.tar.gz/hello.txt")
		require.NoError(t, err)
		require.Equal(t, vfs.MustNewEntryName("dir/a.zip/b.tar.gz/hello.txt"), node.Name)
		require.Equal(t, vfs.FileEntry, node.Type)
		require.Equal(t, int64(5), node.DataSize)
	})

	t.Run("ReadDir", func(t *testing.T) {
		nodes, err := fs.ReadDir(ctx, "dir/a.zip")
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		require.Equal(t, vfs.MustNewEntryName("dir/a.zip/b.tar.gz"), nodes[0].Name)
		require.Equal(t, vfs.DirectoryEntry, nodes[0].Type)
		require.Equal(t, []string{"hello.txt"}, nodes[0].Members)
		require.Equal(t, vfs.MustNewEntryName("dir/a.zip/c"), nodes[1].Name)
		require.Equal(t, vfs.DirectoryEntry, nodes[1].Type)

		_, err = fs.ReadDir(ctx, "dir/a.zip/b.tar.gz/hello.txt")
		require.Equal(t, codes.FailedPrecondition, status.Code(err))
	})

	t.Run("Read", func(t *testing.T) {
		require.Equal(t, "Hello", readFile(ctx, t, fs, "dir/a.zip/b.tar.gz/hello.txt"))
	})

	t.Run("SetModificationTime", func(t *testing.T) {
		modificationTime := time.Unix(1600000000, 0)
		require.NoError(t, fs.SetModificationTime(ctx, "dir/a.zip/c", modificationTime))
		node, err := fs.Stat(ctx, "dir/a.zip/c")
		require.NoError(t, err)
		require.True(t, modificationTime.Equal(node.ModificationTime))
	})

	t.Run("Remove", func(t *testing.T) {
		// Nested archives can only be removed once empty.
		err := fs.Remove(ctx, "dir/a.zip/b.tar.gz")
		require.Equal(t, codes.FailedPrecondition, status.Code(err))

		require.NoError(t, fs.Remove(ctx, "dir/a.zip/b.tar.gz/hello.txt"))
		require.NoError(t, fs.Remove(ctx, "dir/a.zip/b.tar.gz"))
		_, err = fs.Stat(ctx, "dir/a.zip/b.tar.gz")
		require.Equal(t, codes.NotFound, status.Code(err))

		node, err := fs.Stat(ctx, "dir/a.zip")
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, node.Members)
	})

	require.NoError(t, fs.Close(ctx))
}

func TestFileSystemCreateArchive(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)
	fs := newFileSystem(t, root)

	// Creating a directory with an archive suffix creates an empty
	// archive file.
	require.NoError(t, fs.Mkdir(ctx, "x.zip", 0))
	node, err := fs.Stat(ctx, "x.zip")
	require.NoError(t, err)
	require.Equal(t, vfs.DirectoryEntry, node.Type)
	require.Empty(t, node.Members)
	require.NoError(t, fs.Sync(ctx, vfs.SyncUpdate))

	node, err = root.Stat(ctx, 0, vfs.MustNewEntryName("x.zip"))
	require.NoError(t, err)
	require.Equal(t, vfs.FileEntry, node.Type)
}

func TestFileSystemFalsePositive(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)
	w, err := root.Output(0, vfs.MustNewEntryName("junk.zip"), nil).Open(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("garbage"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Files with an archive suffix that are not archives are
	// accessed as regular files.
	fs := newFileSystem(t, root)
	node, err := fs.Stat(ctx, "junk.zip")
	require.NoError(t, err)
	require.Equal(t, vfs.FileEntry, node.Type)
	require.Equal(t, int64(7), node.DataSize)
	require.Equal(t, "garbage", readFile(ctx, t, fs, "junk.zip"))

	_, err = fs.ReadDir(ctx, "junk.zip")
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.NoError(t, fs.Close(ctx))
}

func TestFileSystemInvalidPath(t *testing.T) {
	ctx := context.Background()
	fs := newFileSystem(t, rootfs.NewMemoryController("/", clock.SystemClock))

	_, err := fs.Stat(ctx, "a.zip/../b")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = fs.Stat(ctx, "nonexistent.txt")
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestFileSystemAppend(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)

	fs := newFileSystem(t, root)
	writeFile(ctx, t, fs, vfs.CreateParents, "a.zip/log.txt", "Hello")
	// The entry has already been written to the pending archive, so
	// the archive is synchronized before its content is extended.
	writeFile(ctx, t, fs, vfs.Append, "a.zip/log.txt", ", world")
	require.Equal(t, "Hello, world", readFile(ctx, t, fs, "a.zip/log.txt"))
	require.NoError(t, fs.Close(ctx))

	fs = newFileSystem(t, root)
	writeFile(ctx, t, fs, vfs.Append, "a.zip/log.txt", "!")
	require.Equal(t, "Hello, world!", readFile(ctx, t, fs, "a.zip/log.txt"))
	writeFile(ctx, t, fs, 0, "a.zip/log.txt", "Replaced")
	require.Equal(t, "Replaced", readFile(ctx, t, fs, "a.zip/log.txt"))
	require.NoError(t, fs.Close(ctx))
}

func TestFileSystemGrow(t *testing.T) {
	ctx := context.Background()

	for _, p := range []string{"a.tar/f.txt", "a.zip/f.txt"} {
		t.Run(p, func(t *testing.T) {
			// TAR archives may hold multiple versions of the same
			// entry, so no intermediate synchronization is needed.
			// ZIP archives are synchronized in between. The last
			// version written is the one that is observed.
			root := rootfs.NewMemoryController("/", clock.SystemClock)
			fs := newFileSystem(t, root)
			writeFile(ctx, t, fs, vfs.CreateParents|vfs.Grow, p, "First")
			writeFile(ctx, t, fs, vfs.Grow, p, "Second")
			require.Equal(t, "Second", readFile(ctx, t, fs, p))
			require.NoError(t, fs.Close(ctx))

			fs = newFileSystem(t, root)
			node, err := fs.Stat(ctx, p)
			require.NoError(t, err)
			require.Equal(t, int64(6), node.DataSize)
			require.Equal(t, "Second", readFile(ctx, t, fs, p))
			require.NoError(t, fs.Close(ctx))
		})
	}
}

func TestFileSystemStreamOpenAcrossSync(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)

	// A cached stream that is still open when unmounting keeps
	// the archive registered, so that data written afterwards is
	// stored upon the next synchronization.
	fs := newFileSystem(t, root)
	w, err := fs.Create(ctx, "a.zip/x.txt", vfs.Cache|vfs.CreateParents)
	require.NoError(t, err)
	require.NoError(t, fs.Sync(ctx, vfs.SyncUmount))
	_, err = w.Write([]byte("Written late"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, fs.Close(ctx))

	fs = newFileSystem(t, root)
	require.Equal(t, "Written late", readFile(ctx, t, fs, "a.zip/x.txt"))
	require.NoError(t, fs.Close(ctx))
}
