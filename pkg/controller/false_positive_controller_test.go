package controller_test

import (
	"context"
	"testing"

	"github.com/buildbarn/bb-archivefs/internal/mock"
	"github.com/buildbarn/bb-archivefs/pkg/controller"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestFalsePositiveController(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	model := newTestModel("dir/a.zip")
	base := mock.NewMockController(ctrl)
	base.EXPECT().Model().Return(model).AnyTimes()
	parent := mock.NewMockController(ctrl)
	falsePositiveController := controller.NewFalsePositiveController(base, parent)

	name := vfs.MustNewEntryName("hello.txt")
	nameInParent := vfs.MustNewEntryName("dir/a.zip/hello.txt")
	node := &vfs.Node{Name: nameInParent, Type: vfs.FileEntry}
	cause := status.Error(codes.InvalidArgument, "Not a valid ZIP archive")

	t.Run("NoFalsePositive", func(t *testing.T) {
		base.EXPECT().Stat(ctx, vfs.AccessOptions(0), name).Return(node, nil)

		gotNode, err := falsePositiveController.Stat(ctx, 0, name)
		require.NoError(t, err)
		require.Equal(t, node, gotNode)
	})

	t.Run("Transient", func(t *testing.T) {
		// Transient false positives cause the operation to be
		// performed on the parent, but do not prevent the next
		// operation from using the archive file system.
		base.EXPECT().Stat(ctx, vfs.AccessOptions(0), name).Return(nil, vfs.FalsePositive(cause, false))
		parent.EXPECT().Stat(ctx, vfs.AccessOptions(0), nameInParent).Return(node, nil)

		gotNode, err := falsePositiveController.Stat(ctx, 0, name)
		require.NoError(t, err)
		require.Equal(t, node, gotNode)

		base.EXPECT().Unlink(ctx, vfs.AccessOptions(0), name)

		require.NoError(t, falsePositiveController.Unlink(ctx, 0, name))
	})

	t.Run("ParentFailure", func(t *testing.T) {
		// Failures of the parent are reported using the cause,
		// as the caller intended to access an archive.
		base.EXPECT().Unlink(ctx, vfs.AccessOptions(0), name).Return(vfs.FalsePositive(cause, false))
		parent.EXPECT().Unlink(ctx, vfs.AccessOptions(0), nameInParent).Return(status.Error(codes.NotFound, "Entry \"dir/a.zip/hello.txt\" does not exist"))

		testutil.RequireEqualStatus(t, cause, falsePositiveController.Unlink(ctx, 0, name))
	})

	t.Run("ParentSignal", func(t *testing.T) {
		base.EXPECT().Unlink(ctx, vfs.AccessOptions(0), name).Return(vfs.FalsePositive(cause, false))
		parent.EXPECT().Unlink(ctx, vfs.AccessOptions(0), nameInParent).Return(vfs.NeedsLockRetry())

		require.True(t, vfs.IsSignal(falsePositiveController.Unlink(ctx, 0, name), vfs.NeedsLockRetrySignal))
	})

	t.Run("OtherSignals", func(t *testing.T) {
		base.EXPECT().Mknod(ctx, vfs.AccessOptions(0), name, vfs.DirectoryEntry, nil).Return(vfs.NeedsSync())

		require.True(t, vfs.IsSignal(falsePositiveController.Mknod(ctx, 0, name, vfs.DirectoryEntry, nil), vfs.NeedsSyncSignal))
	})

	t.Run("Persistent", func(t *testing.T) {
		// Persistent false positives are remembered, meaning
		// mounting is not reattempted until the next
		// synchronization.
		base.EXPECT().Stat(ctx, vfs.AccessOptions(0), name).Return(nil, vfs.FalsePositive(cause, true))
		parent.EXPECT().Stat(ctx, vfs.AccessOptions(0), nameInParent).Return(node, nil).Times(2)

		for i := 0; i < 2; i++ {
			gotNode, err := falsePositiveController.Stat(ctx, 0, name)
			require.NoError(t, err)
			require.Equal(t, node, gotNode)
		}

		// Synchronizing is always performed on the archive file
		// system, and clears the false positive.
		base.EXPECT().Sync(ctx, vfs.SyncUpdate)

		require.NoError(t, falsePositiveController.Sync(ctx, vfs.SyncUpdate))

		base.EXPECT().Stat(ctx, vfs.AccessOptions(0), name).Return(node, nil)

		gotNode, err := falsePositiveController.Stat(ctx, 0, name)
		require.NoError(t, err)
		require.Equal(t, node, gotNode)
	})

	t.Run("ClearedByFailedSync", func(t *testing.T) {
		// Even a failed synchronization causes mounting to be
		// reattempted.
		base.EXPECT().SetReadOnly(ctx, vfs.AccessOptions(0), name).Return(vfs.FalsePositive(cause, true))
		parent.EXPECT().SetReadOnly(ctx, vfs.AccessOptions(0), nameInParent)

		require.NoError(t, falsePositiveController.SetReadOnly(ctx, 0, name))

		syncErr := vfs.NewSyncFailure(model.MountPoint(), status.Error(codes.Internal, "Disk on fire"))
		base.EXPECT().Sync(ctx, vfs.SyncUpdate).Return(syncErr)

		require.Equal(t, syncErr, falsePositiveController.Sync(ctx, vfs.SyncUpdate))

		base.EXPECT().SetReadOnly(ctx, vfs.AccessOptions(0), name)

		require.NoError(t, falsePositiveController.SetReadOnly(ctx, 0, name))
	})

	t.Run("Root", func(t *testing.T) {
		// The root directory of the archive file system
		// corresponds to the archive file itself.
		base.EXPECT().Stat(ctx, vfs.AccessOptions(0), vfs.RootEntryName).Return(nil, vfs.FalsePositive(cause, false))
		parent.EXPECT().Stat(ctx, vfs.AccessOptions(0), vfs.MustNewEntryName("dir/a.zip")).Return(node, nil)

		_, err := falsePositiveController.Stat(ctx, 0, vfs.RootEntryName)
		require.NoError(t, err)
	})
}
