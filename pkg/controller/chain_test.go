package controller_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/cache"
	"github.com/buildbarn/bb-archivefs/pkg/controller"
	"github.com/buildbarn/bb-archivefs/pkg/driver"
	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/rootfs"
	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var chainConfiguration = controller.ChainConfiguration{
	Clock:                      clock.SystemClock,
	RandomGenerator:            random.FastThreadSafeGenerator,
	ErrorLogger:                util.DefaultErrorLogger,
	FilePool:                   pool.InMemoryFilePool,
	CacheStrategy:              cache.WriteBack,
	LockTimeout:                10 * time.Millisecond,
	MaximumBackoff:             10 * time.Millisecond,
	ForeignResourceWaitTimeout: time.Second,
}

func newZIPChain(t *testing.T, root vfs.Controller, path string) vfs.Controller {
	d, err := driver.NewZIPDriver(pool.InMemoryFilePool, "")
	require.NoError(t, err)
	mountPoint := root.Model().MountPoint().NewChild("zip", vfs.MustNewEntryName(path))
	return controller.NewArchiveControllerChain(vfs.NewModel(mountPoint, root.Model()), root, d, &chainConfiguration)
}

func writeEntry(ctx context.Context, t *testing.T, c vfs.Controller, options vfs.AccessOptions, name, content string) {
	w, err := c.Output(options, vfs.MustNewEntryName(name), nil).Open(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readEntry(ctx context.Context, t *testing.T, c vfs.Controller, name string) string {
	r, err := c.Input(0, vfs.MustNewEntryName(name)).Open(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(data)
}

func TestArchiveControllerChainRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)

	modificationTime := time.Unix(1600000000, 0)
	c := newZIPChain(t, root, "dir/a.zip")
	writeEntry(ctx, t, c, vfs.CreateParents, "a/hello.txt", "Hello")
	require.NoError(t, c.Mknod(ctx, 0, vfs.MustNewEntryName("b"), vfs.DirectoryEntry, nil))
	require.NoError(t, c.SetTime(ctx, 0, vfs.MustNewEntryName("a/hello.txt"), map[vfs.AccessType]time.Time{
		vfs.WriteAccess: modificationTime,
	}))
	require.True(t, c.Model().Touched())

	var before []*vfs.Node
	for _, name := range []string{"", "a", "a/hello.txt", "b"} {
		node, err := c.Stat(ctx, 0, vfs.MustNewEntryName(name))
		require.NoError(t, err)
		before = append(before, node)
	}

	// The archive is only written to the parent file system upon
	// synchronization.
	node, err := root.Stat(ctx, 0, vfs.MustNewEntryName("dir/a.zip"))
	require.NoError(t, err)
	require.Equal(t, int64(0), node.DataSize)
	require.NoError(t, c.Sync(ctx, vfs.SyncUmount))
	require.False(t, c.Model().Touched())

	// Mounting the archive again must yield the same entries.
	c = newZIPChain(t, root, "dir/a.zip")
	for i, name := range []string{"", "a", "a/hello.txt", "b"} {
		node, err := c.Stat(ctx, 0, vfs.MustNewEntryName(name))
		require.NoError(t, err)
		require.Equal(t, before[i].Name, node.Name)
		require.Equal(t, before[i].Type, node.Type)
		require.Equal(t, before[i].Members, node.Members)
		if name != "" {
			// The root directory takes the timestamps of
			// the archive file.
			require.True(t, before[i].ModificationTime.Equal(node.ModificationTime), "%s: %s != %s", name, before[i].ModificationTime, node.ModificationTime)
		}
	}
	node, err = c.Stat(ctx, 0, vfs.MustNewEntryName("a/hello.txt"))
	require.NoError(t, err)
	require.Equal(t, int64(5), node.DataSize)
	require.True(t, modificationTime.Equal(node.ModificationTime))
	require.Equal(t, "Hello", readEntry(ctx, t, c, "a/hello.txt"))

	t.Run("Exclusive", func(t *testing.T) {
		err := c.Mknod(ctx, vfs.Exclusive, vfs.MustNewEntryName("a/hello.txt"), vfs.FileEntry, nil)
		require.Equal(t, codes.AlreadyExists, status.Code(err))
		err = c.Mknod(ctx, vfs.Exclusive, vfs.MustNewEntryName("b"), vfs.FileEntry, nil)
		require.Equal(t, codes.AlreadyExists, status.Code(err))

		// Files may be replaced if exclusive access is not
		// requested. Directories may not.
		require.NoError(t, c.Mknod(ctx, 0, vfs.MustNewEntryName("a/hello.txt"), vfs.FileEntry, nil))
		err = c.Mknod(ctx, 0, vfs.MustNewEntryName("a/hello.txt"), vfs.DirectoryEntry, nil)
		require.Equal(t, codes.AlreadyExists, status.Code(err))
	})

	t.Run("Cached", func(t *testing.T) {
		writeEntry(ctx, t, c, vfs.Cache, "b/cached.txt", "First")
		writeEntry(ctx, t, c, vfs.Cache, "b/cached.txt", "Second")
		require.Equal(t, "Second", readEntry(ctx, t, c, "b/cached.txt"))

		require.NoError(t, c.Sync(ctx, vfs.SyncUmount))
		c := newZIPChain(t, root, "dir/a.zip")
		require.Equal(t, "Second", readEntry(ctx, t, c, "b/cached.txt"))
	})

	t.Run("ForceCloseOutput", func(t *testing.T) {
		// Synchronizing while the calling owner has a stream
		// open fails, unless forcefully closing is requested.
		ownerCtx := afs_sync.NewOwnerContext(ctx)
		w, err := c.Output(0, vfs.MustNewEntryName("pending.txt"), nil).Open(ownerCtx)
		require.NoError(t, err)

		err = c.Sync(ownerCtx, vfs.SyncOnDemand)
		require.Equal(t, codes.FailedPrecondition, status.Code(err))

		err = c.Sync(ownerCtx, vfs.SyncUpdate)
		var syncErr *vfs.SyncError
		require.True(t, errors.As(err, &syncErr))
		require.True(t, syncErr.IsWarning())

		_, err = w.Write([]byte("Hello"))
		testutil.RequireEqualStatus(t, status.Error(codes.Canceled, "Stream has been closed"), err)
		require.NoError(t, w.Close())
	})
}

func TestArchiveControllerChainRoot(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)
	c := newZIPChain(t, root, "empty.zip")

	// Creating the root directory creates the archive.
	require.NoError(t, c.Mknod(ctx, 0, vfs.RootEntryName, vfs.DirectoryEntry, nil))
	err := c.Mknod(ctx, 0, vfs.RootEntryName, vfs.DirectoryEntry, nil)
	require.Equal(t, codes.AlreadyExists, status.Code(err))
	require.NoError(t, c.Sync(ctx, vfs.SyncUpdate))

	node, err := root.Stat(ctx, 0, vfs.MustNewEntryName("empty.zip"))
	require.NoError(t, err)
	require.Equal(t, vfs.FileEntry, node.Type)

	// Removing the root directory of an empty archive removes the
	// archive file.
	require.NoError(t, c.Unlink(ctx, 0, vfs.RootEntryName))
	_, err = root.Stat(ctx, 0, vfs.MustNewEntryName("empty.zip"))
	require.Equal(t, codes.NotFound, status.Code(err))
	err = c.Unlink(ctx, 0, vfs.RootEntryName)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestArchiveControllerChainFalsePositive(t *testing.T) {
	ctx := context.Background()
	root := rootfs.NewMemoryController("/", clock.SystemClock)
	writeEntry(ctx, t, root, 0, "plain.zip", "garbage")
	c := newZIPChain(t, root, "plain.zip")

	// Files that are not valid archives are accessed as regular
	// files of the parent file system.
	node, err := c.Stat(ctx, 0, vfs.RootEntryName)
	require.NoError(t, err)
	require.Equal(t, vfs.FileEntry, node.Type)
	require.Equal(t, int64(7), node.DataSize)
	require.Equal(t, "garbage", readEntry(ctx, t, c, ""))

	// Errors are reported using the reason why the file could not
	// be mounted.
	_, err = c.Output(0, vfs.MustNewEntryName("hello.txt"), nil).Open(ctx)
	testutil.RequirePrefixedStatus(t, status.Error(codes.InvalidArgument, "Not a valid ZIP archive: "), err)

	// Replacing the file with an archive makes it accessible after
	// synchronizing.
	require.NoError(t, root.Unlink(ctx, 0, vfs.MustNewEntryName("plain.zip")))
	other := newZIPChain(t, root, "other.zip")
	writeEntry(ctx, t, other, vfs.CreateParents, "hello.txt", "Hello")
	require.NoError(t, other.Sync(ctx, vfs.SyncUmount))
	writeEntry(ctx, t, root, 0, "plain.zip", readEntry(ctx, t, root, "other.zip"))

	require.NoError(t, c.Sync(ctx, vfs.SyncUmount))
	require.Equal(t, "Hello", readEntry(ctx, t, c, "hello.txt"))
}

// discardRecordingDriver keeps track of the entries that are discarded
// from output sessions.
type discardRecordingDriver struct {
	vfs.ArchiveDriver
	discarded *[]string
}

func (d discardRecordingDriver) NewOutput(model *vfs.Model, options vfs.AccessOptions, sink vfs.OutputSocket, input vfs.InputSession) (vfs.OutputSession, error) {
	s, err := d.ArchiveDriver.NewOutput(model, options, sink, input)
	if err != nil {
		return nil, err
	}
	return discardRecordingOutputSession{OutputSession: s, discarded: d.discarded}, nil
}

type discardRecordingOutputSession struct {
	vfs.OutputSession
	discarded *[]string
}

func (s discardRecordingOutputSession) Discard(entry vfs.ArchiveEntry) {
	*s.discarded = append(*s.discarded, entry.Name())
	s.OutputSession.Discard(entry)
}

func TestArchiveControllerChainAppendFailure(t *testing.T) {
	ctx := context.Background()

	// Create an archive whose entry fails checksum validation.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: "hello.txt", Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte("Hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	data := bytes.Replace(buf.Bytes(), []byte("Hello"), []byte("Jello"), 1)

	root := rootfs.NewMemoryController("/", clock.SystemClock)
	writeEntry(ctx, t, root, 0, "corrupt.zip", string(data))
	zipDriver, err := driver.NewZIPDriver(pool.InMemoryFilePool, "")
	require.NoError(t, err)
	var discarded []string
	mountPoint := root.Model().MountPoint().NewChild("zip", vfs.MustNewEntryName("corrupt.zip"))
	c := controller.NewArchiveControllerChain(
		vfs.NewModel(mountPoint, root.Model()),
		root,
		discardRecordingDriver{ArchiveDriver: zipDriver, discarded: &discarded},
		&chainConfiguration)

	// The replacement entry must not end up in the archive, as it
	// was never linked into the file system.
	_, err = c.Output(vfs.Append, vfs.MustNewEntryName("hello.txt"), nil).Open(ctx)
	require.Error(t, err)
	require.False(t, vfs.IsSignal(err, vfs.NeedsSyncSignal))
	require.Equal(t, []string{"hello.txt"}, discarded)

	node, err := c.Stat(ctx, 0, vfs.MustNewEntryName("hello.txt"))
	require.NoError(t, err)
	require.Equal(t, vfs.FileEntry, node.Type)
	require.Equal(t, int64(5), node.DataSize)
}
