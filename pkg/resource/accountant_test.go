package resource_test

import (
	"context"
	"testing"
	"time"

	"github.com/buildbarn/bb-archivefs/internal/mock"
	"github.com/buildbarn/bb-archivefs/pkg/resource"
	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAccountantCounts(t *testing.T) {
	ctrl := gomock.NewController(t)

	accountant := resource.NewAccountant(mock.NewMockClock(ctrl))
	_, owner1 := afs_sync.EnsureOwner(context.Background())
	_, owner2 := afs_sync.EnsureOwner(context.Background())

	r1 := accountant.StartAccounting(owner1, resource.InputKind, mock.NewMockReadCloser(ctrl))
	accountant.StartAccounting(owner1, resource.OutputKind, mock.NewMockWriteCloser(ctrl))
	accountant.StartAccounting(owner2, resource.OutputKind, mock.NewMockWriteCloser(ctrl))

	total, local := accountant.Counts(owner1)
	require.Equal(t, 3, total)
	require.Equal(t, 2, local)

	total, local = accountant.Counts(owner1, resource.OutputKind)
	require.Equal(t, 2, total)
	require.Equal(t, 1, local)

	r1.StopAccounting()
	r1.StopAccounting()
	total, local = accountant.Counts(owner1, resource.InputKind)
	require.Equal(t, 0, total)
	require.Equal(t, 0, local)
}

func TestAccountantAwaitForeignResources(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	accountant := resource.NewAccountant(clock)
	ctx := context.Background()
	_, owner1 := afs_sync.EnsureOwner(ctx)
	_, owner2 := afs_sync.EnsureOwner(ctx)

	t.Run("OnlyLocal", func(t *testing.T) {
		r := accountant.StartAccounting(owner1, resource.OutputKind, mock.NewMockWriteCloser(ctrl))
		defer r.StopAccounting()

		// There is no need to wait, meaning that locks are
		// not released.
		total, local := accountant.AwaitForeignResources(ctx, owner1, func() func() {
			t.Fatal("Suspend should not be called")
			return nil
		}, 0)
		require.Equal(t, 1, total)
		require.Equal(t, 1, local)
	})

	t.Run("ForeignClosed", func(t *testing.T) {
		r := accountant.StartAccounting(owner2, resource.InputKind, mock.NewMockReadCloser(ctrl))
		suspended, resumed := false, false
		total, local := accountant.AwaitForeignResources(ctx, owner1, func() func() {
			suspended = true
			go r.StopAccounting()
			return func() { resumed = true }
		}, 0)
		require.Equal(t, 0, total)
		require.Equal(t, 0, local)
		require.True(t, suspended)
		require.True(t, resumed)
	})

	t.Run("Timeout", func(t *testing.T) {
		r := accountant.StartAccounting(owner2, resource.InputKind, mock.NewMockReadCloser(ctrl))
		defer r.StopAccounting()

		timer := mock.NewMockTimer(ctrl)
		timeout := make(chan time.Time, 1)
		timeout <- time.Unix(1000, 0)
		clock.EXPECT().NewTimer(time.Second).Return(timer, timeout)
		timer.EXPECT().Stop()

		total, local := accountant.AwaitForeignResources(ctx, owner1, func() func() { return func() {} }, time.Second)
		require.Equal(t, 1, total)
		require.Equal(t, 0, local)
	})
}

func TestAccountantCloseAllResources(t *testing.T) {
	ctrl := gomock.NewController(t)

	accountant := resource.NewAccountant(mock.NewMockClock(ctrl))
	_, owner := afs_sync.EnsureOwner(context.Background())

	input := mock.NewMockReadCloser(ctrl)
	accountant.StartAccounting(owner, resource.InputKind, input)
	output := mock.NewMockWriteCloser(ctrl)
	accountant.StartAccounting(owner, resource.OutputKind, output)

	errorLogger := mock.NewMockErrorLogger(ctrl)
	output.EXPECT().Close().Return(status.Error(codes.Internal, "Disk on fire"))
	errorLogger.EXPECT().Log(gomock.Any()).Do(func(err error) {
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Failed to forcefully close stream: Disk on fire"), err)
	})
	require.Equal(t, 1, accountant.CloseAllResources(errorLogger, resource.OutputKind))

	total, _ := accountant.Counts(owner)
	require.Equal(t, 1, total)

	input.EXPECT().Close()
	require.Equal(t, 1, accountant.CloseAllResources(errorLogger))
	total, _ = accountant.Counts(owner)
	require.Equal(t, 0, total)
}
