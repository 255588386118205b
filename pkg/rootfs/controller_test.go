package rootfs_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/buildbarn/bb-archivefs/internal/mock"
	"github.com/buildbarn/bb-archivefs/pkg/rootfs"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func writeFile(t *testing.T, c vfs.Controller, options vfs.AccessOptions, name, content string) error {
	w, err := c.Output(options, vfs.MustNewEntryName(name), nil).Open(context.Background())
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	return w.Close()
}

func readFile(t *testing.T, c vfs.Controller, name string) string {
	r, err := c.Input(0, vfs.MustNewEntryName(name)).Open(context.Background())
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(data)
}

// testRootController exercises the behavior that all root controllers
// share.
func testRootController(t *testing.T, c vfs.Controller) {
	ctx := context.Background()
	require.Nil(t, c.Parent())
	require.Nil(t, c.Model().MountPoint().Parent())

	t.Run("MissingParent", func(t *testing.T) {
		err := writeFile(t, c, 0, "a/b/c.txt", "Hello")
		require.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("CreateParents", func(t *testing.T) {
		require.NoError(t, writeFile(t, c, vfs.CreateParents, "a/b/c.txt", "Hello"))
		require.Equal(t, "Hello", readFile(t, c, "a/b/c.txt"))

		node, err := c.Stat(ctx, 0, vfs.MustNewEntryName("a/b/c.txt"))
		require.NoError(t, err)
		require.Equal(t, vfs.FileEntry, node.Type)
		require.Equal(t, int64(5), node.DataSize)

		node, err = c.Stat(ctx, 0, vfs.MustNewEntryName("a"))
		require.NoError(t, err)
		require.Equal(t, vfs.DirectoryEntry, node.Type)
		require.Equal(t, []string{"b"}, node.Members)
	})

	t.Run("Append", func(t *testing.T) {
		require.NoError(t, writeFile(t, c, vfs.Append, "a/b/c.txt", ", world"))
		require.Equal(t, "Hello, world", readFile(t, c, "a/b/c.txt"))
	})

	t.Run("Replace", func(t *testing.T) {
		require.NoError(t, writeFile(t, c, 0, "a/b/c.txt", "Goodbye"))
		require.Equal(t, "Goodbye", readFile(t, c, "a/b/c.txt"))
	})

	t.Run("Exclusive", func(t *testing.T) {
		err := writeFile(t, c, vfs.Exclusive, "a/b/c.txt", "Again")
		testutil.RequireEqualStatus(t, status.Error(codes.AlreadyExists, "Entry \"a/b/c.txt\" already exists"), err)

		err = c.Mknod(ctx, vfs.Exclusive, vfs.MustNewEntryName("a/b/c.txt"), vfs.FileEntry, nil)
		testutil.RequireEqualStatus(t, status.Error(codes.AlreadyExists, "Entry \"a/b/c.txt\" already exists"), err)
	})

	t.Run("Mknod", func(t *testing.T) {
		// Creating an existing file non-exclusively retains it.
		require.NoError(t, c.Mknod(ctx, 0, vfs.MustNewEntryName("a/b/c.txt"), vfs.FileEntry, nil))
		require.Equal(t, "Goodbye", readFile(t, c, "a/b/c.txt"))

		require.NoError(t, c.Mknod(ctx, 0, vfs.MustNewEntryName("a/empty"), vfs.FileEntry, nil))
		require.Equal(t, "", readFile(t, c, "a/empty"))

		err := c.Mknod(ctx, 0, vfs.MustNewEntryName("a/b"), vfs.DirectoryEntry, nil)
		testutil.RequireEqualStatus(t, status.Error(codes.AlreadyExists, "Entry \"a/b\" already exists"), err)

		err = c.Mknod(ctx, 0, vfs.MustNewEntryName("a/link"), vfs.SymlinkEntry, nil)
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("InputOfDirectory", func(t *testing.T) {
		_, err := c.Input(0, vfs.MustNewEntryName("a")).Open(ctx)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Entry \"a\" is not a file"), err)
	})

	t.Run("SetTime", func(t *testing.T) {
		modified := time.Unix(1234567890, 0)
		require.NoError(t, c.SetTime(ctx, 0, vfs.MustNewEntryName("a/empty"), map[vfs.AccessType]time.Time{
			vfs.WriteAccess: modified,
		}))
		node, err := c.Stat(ctx, 0, vfs.MustNewEntryName("a/empty"))
		require.NoError(t, err)
		require.True(t, modified.Equal(node.ModificationTime))

		err = c.SetTime(ctx, 0, vfs.MustNewEntryName("a/empty"), map[vfs.AccessType]time.Time{
			vfs.CreateAccess: modified,
		})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Unlink", func(t *testing.T) {
		err := c.Unlink(ctx, 0, vfs.MustNewEntryName("a/b"))
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Directory \"a/b\" is not empty"), err)

		require.NoError(t, c.Unlink(ctx, 0, vfs.MustNewEntryName("a/b/c.txt")))
		require.NoError(t, c.Unlink(ctx, 0, vfs.MustNewEntryName("a/b")))

		_, err = c.Stat(ctx, 0, vfs.MustNewEntryName("a/b"))
		testutil.RequireEqualStatus(t, status.Error(codes.NotFound, "Entry \"a/b\" does not exist"), err)

		err = c.Unlink(ctx, 0, vfs.MustNewEntryName("a/b"))
		testutil.RequireEqualStatus(t, status.Error(codes.NotFound, "Entry \"a/b\" does not exist"), err)

		err = c.Unlink(ctx, 0, vfs.RootEntryName)
		require.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("DoubleClose", func(t *testing.T) {
		w, err := c.Output(0, vfs.MustNewEntryName("a/twice"), nil).Open(ctx)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		testutil.RequireEqualStatus(t, status.Error(codes.Canceled, "Stream has been closed"), w.Close())
	})

	require.NoError(t, c.Sync(ctx, vfs.SyncUmount))
}

func TestLocalController(t *testing.T) {
	c, err := rootfs.NewLocalController(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "file", c.Model().MountPoint().Scheme())
	testRootController(t, c)

	t.Run("NotADirectory", func(t *testing.T) {
		require.NoError(t, writeFile(t, c, 0, "file", "Hello"))
		_, err := rootfs.NewLocalController(c.Model().MountPoint().Resolve(vfs.MustNewEntryName("file")))
		testutil.RequirePrefixedStatus(t, status.Error(codes.InvalidArgument, "Path "), err)
	})

	t.Run("NoTemporaryFiles", func(t *testing.T) {
		// Files are written under a temporary name, which must
		// no longer be present after closure.
		node, err := c.Stat(context.Background(), 0, vfs.MustNewEntryName("a"))
		require.NoError(t, err)
		for _, member := range node.Members {
			require.False(t, strings.HasPrefix(member, "."), member)
		}
		require.NotEmpty(t, node.Members)
	})
}

func TestMemoryController(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Unix(1000, 0)).AnyTimes()
	c := rootfs.NewMemoryController("/", clock)
	require.Equal(t, "mem", c.Model().MountPoint().Scheme())
	testRootController(t, c)

	t.Run("ReadOnly", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, c.Mknod(ctx, 0, vfs.MustNewEntryName("frozen"), vfs.DirectoryEntry, nil))
		require.NoError(t, c.SetReadOnly(ctx, 0, vfs.MustNewEntryName("frozen")))

		err := c.CheckAccess(ctx, 0, vfs.MustNewEntryName("frozen"), vfs.NewAccessTypes(vfs.WriteAccess))
		require.Equal(t, codes.PermissionDenied, status.Code(err))
		err = writeFile(t, c, 0, "frozen/file", "Hello")
		testutil.RequireEqualStatus(t, status.Error(codes.PermissionDenied, "File system is read-only"), err)
	})
}
