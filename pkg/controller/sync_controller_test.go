package controller_test

import (
	"context"
	"testing"

	"github.com/buildbarn/bb-archivefs/internal/mock"
	"github.com/buildbarn/bb-archivefs/pkg/controller"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestSyncController(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	model := newTestModel("a.zip")
	base := mock.NewMockController(ctrl)
	base.EXPECT().Model().Return(model).AnyTimes()
	errorLogger := mock.NewMockErrorLogger(ctrl)
	syncController := controller.NewSyncController(base, errorLogger)

	name := vfs.MustNewEntryName("hello.txt")

	t.Run("SyncAndRetry", func(t *testing.T) {
		gomock.InOrder(
			base.EXPECT().Mknod(ctx, vfs.AccessOptions(0), name, vfs.FileEntry, nil).Return(vfs.NeedsSync()),
			base.EXPECT().Sync(ctx, vfs.SyncOnDemand),
			base.EXPECT().Mknod(ctx, vfs.AccessOptions(0), name, vfs.FileEntry, nil))

		require.NoError(t, syncController.Mknod(ctx, 0, name, vfs.FileEntry, nil))
	})

	t.Run("SyncWarning", func(t *testing.T) {
		// Warnings are logged, as the synchronization did
		// complete.
		warning := vfs.NewSyncWarning(model.MountPoint(), vfs.NewResourceOpenError(0, 1))
		gomock.InOrder(
			base.EXPECT().Unlink(ctx, vfs.AccessOptions(0), name).Return(vfs.NeedsSync()),
			base.EXPECT().Sync(ctx, vfs.SyncOnDemand).Return(warning),
			errorLogger.EXPECT().Log(warning),
			base.EXPECT().Unlink(ctx, vfs.AccessOptions(0), name))

		require.NoError(t, syncController.Unlink(ctx, 0, name))
	})

	t.Run("SyncFailure", func(t *testing.T) {
		failure := vfs.NewSyncFailure(model.MountPoint(), status.Error(codes.Internal, "Disk on fire"))
		gomock.InOrder(
			base.EXPECT().SetReadOnly(ctx, vfs.AccessOptions(0), name).Return(vfs.NeedsSync()),
			base.EXPECT().Sync(ctx, vfs.SyncOnDemand).Return(failure))

		require.Equal(t, failure, syncController.SetReadOnly(ctx, 0, name))
	})

	t.Run("CloseNeedsSync", func(t *testing.T) {
		// A stream whose effects can only be applied by
		// synchronizing triggers a synchronization when closed.
		socket := mock.NewMockOutputSocket(ctrl)
		base.EXPECT().Output(vfs.AccessOptions(0), name, nil).Return(socket)
		writer := mock.NewMockWriteCloser(ctrl)
		socket.EXPECT().Open(ctx).Return(writer, nil)

		w, err := syncController.Output(0, name, nil).Open(ctx)
		require.NoError(t, err)

		gomock.InOrder(
			writer.EXPECT().Write([]byte("Hello")).Return(5, nil),
			writer.EXPECT().Close().Return(vfs.NeedsSync()),
			base.EXPECT().Sync(ctx, vfs.SyncOnDemand))

		n, err := w.Write([]byte("Hello"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.NoError(t, w.Close())
	})

	t.Run("OtherErrors", func(t *testing.T) {
		base.EXPECT().Stat(ctx, vfs.AccessOptions(0), name).Return(nil, vfs.NewNotFoundError(name))

		_, err := syncController.Stat(ctx, 0, name)
		require.Equal(t, codes.NotFound, status.Code(err))
	})
}
