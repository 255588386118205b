package controller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/buildbarn/bb-archivefs/internal/mock"
	"github.com/buildbarn/bb-archivefs/pkg/controller"
	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestModel(path string) *vfs.Model {
	return vfs.NewModel(vfs.NewRootMountPoint("mem", "/").NewChild("zip", vfs.MustNewEntryName(path)), nil)
}

func TestLockController(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	model := newTestModel("a.zip")
	base := mock.NewMockController(ctrl)
	base.EXPECT().Model().Return(model).AnyTimes()
	mockClock := mock.NewMockClock(ctrl)
	lockController := controller.NewLockController(base, mockClock, random.FastThreadSafeGenerator, time.Second, 5*time.Millisecond)
	name := vfs.MustNewEntryName("hello.txt")

	t.Run("WriteLockHeld", func(t *testing.T) {
		base.EXPECT().Mknod(gomock.Any(), vfs.AccessOptions(0), name, vfs.FileEntry, nil).DoAndReturn(
			func(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
				require.True(t, model.IsWriteLockedByOwner(ctx))
				return nil
			})

		require.NoError(t, lockController.Mknod(ctx, 0, name, vfs.FileEntry, nil))
	})

	t.Run("ReadLockUpgrade", func(t *testing.T) {
		// Operations that turn out to modify the file system are
		// rerun while holding the lock exclusively.
		node := &vfs.Node{Name: name, Type: vfs.FileEntry}
		gomock.InOrder(
			base.EXPECT().Stat(gomock.Any(), vfs.AccessOptions(0), name).DoAndReturn(
				func(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
					require.False(t, model.IsWriteLockedByOwner(ctx))
					return nil, model.CheckWriteLockedByOwner(ctx)
				}),
			base.EXPECT().Stat(gomock.Any(), vfs.AccessOptions(0), name).DoAndReturn(
				func(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
					require.NoError(t, model.CheckWriteLockedByOwner(ctx))
					return node, nil
				}))

		gotNode, err := lockController.Stat(ctx, 0, name)
		require.NoError(t, err)
		require.Equal(t, node, gotNode)
	})

	t.Run("NoUpgradeWhileHeldShared", func(t *testing.T) {
		// An owner that already holds the lock shared cannot
		// upgrade it. The signal is propagated to whoever
		// acquired the shared lock.
		ownerCtx := afs_sync.NewOwnerContext(ctx)
		owner, _ := afs_sync.OwnerFromContext(ownerCtx)
		require.Equal(t, afs_sync.Acquired, owner.Lock(model.Mutex(), false, mockClock, 0))
		defer owner.Unlock(model.Mutex())

		err := lockController.Mknod(ownerCtx, 0, name, vfs.FileEntry, nil)
		require.True(t, vfs.IsSignal(err, vfs.NeedsWriteLockSignal))
	})

	t.Run("BackOffWhenOutermost", func(t *testing.T) {
		gomock.InOrder(
			base.EXPECT().Unlink(gomock.Any(), vfs.AccessOptions(0), name).Return(vfs.NeedsLockRetry()),
			base.EXPECT().Unlink(gomock.Any(), vfs.AccessOptions(0), name).Return(nil))
		timer := mock.NewMockTimer(ctrl)
		mockClock.EXPECT().NewTimer(gomock.Any()).DoAndReturn(func(d time.Duration) (clock.Timer, <-chan time.Time) {
			require.GreaterOrEqual(t, d, time.Millisecond)
			require.LessOrEqual(t, d, 5*time.Millisecond)
			ch := make(chan time.Time, 1)
			ch <- time.Unix(1000, 0)
			return timer, ch
		})

		ownerCtx := afs_sync.NewOwnerContext(ctx)
		require.NoError(t, lockController.Unlink(ownerCtx, 0, name))
		owner, _ := afs_sync.OwnerFromContext(ownerCtx)
		require.Equal(t, 1, owner.Retries())
		require.False(t, owner.HoldsAnyLock())
	})

	t.Run("PropagateRetryWhenNested", func(t *testing.T) {
		// Only the outermost lock controller may back off, as
		// the locks of the enclosing file systems need to be
		// released as well.
		base.EXPECT().Unlink(gomock.Any(), vfs.AccessOptions(0), name).Return(vfs.NeedsLockRetry())

		ownerCtx := afs_sync.NewOwnerContext(ctx)
		owner, _ := afs_sync.OwnerFromContext(ownerCtx)
		var other afs_sync.TimedRWMutex
		require.Equal(t, afs_sync.Acquired, owner.Lock(&other, true, mockClock, 0))
		defer owner.Unlock(&other)

		err := lockController.Unlink(ownerCtx, 0, name)
		require.True(t, vfs.IsSignal(err, vfs.NeedsLockRetrySignal))
		require.Equal(t, 0, owner.Retries())
	})

	t.Run("LockLostByOperation", func(t *testing.T) {
		// Operations may suspend the lock and fail to reacquire
		// it, in which case it must not be released again.
		base.EXPECT().Unlink(gomock.Any(), vfs.AccessOptions(0), name).DoAndReturn(
			func(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
				owner, _ := afs_sync.OwnerFromContext(ctx)
				owner.Suspend(model.Mutex(), mockClock, time.Second)
				return vfs.NeedsWriteLock()
			})

		ownerCtx := afs_sync.NewOwnerContext(ctx)
		err := lockController.Unlink(ownerCtx, 0, name)
		require.True(t, vfs.IsSignal(err, vfs.NeedsWriteLockSignal))
		owner, _ := afs_sync.OwnerFromContext(ownerCtx)
		require.False(t, owner.HoldsAnyLock())
		require.True(t, model.Mutex().TryLockTimeout(mockClock, 0))
		model.Mutex().Unlock()
	})

	t.Run("NestedAcquisitionTimesOut", func(t *testing.T) {
		// Another owner holds the lock of the file system, while
		// the caller holds the lock of another file system.
		model.Mutex().Lock()
		defer model.Mutex().Unlock()

		timer := mock.NewMockTimer(ctrl)
		mockClock.EXPECT().NewTimer(time.Second).DoAndReturn(func(d time.Duration) (clock.Timer, <-chan time.Time) {
			ch := make(chan time.Time, 1)
			ch <- time.Unix(1000, 0)
			return timer, ch
		})
		timer.EXPECT().Stop()

		ownerCtx := afs_sync.NewOwnerContext(ctx)
		owner, _ := afs_sync.OwnerFromContext(ownerCtx)
		var other afs_sync.TimedRWMutex
		require.Equal(t, afs_sync.Acquired, owner.Lock(&other, true, mockClock, 0))
		defer owner.Unlock(&other)

		err := lockController.Mknod(ownerCtx, 0, name, vfs.FileEntry, nil)
		require.True(t, vfs.IsSignal(err, vfs.NeedsLockRetrySignal))
	})

	t.Run("OtherSignals", func(t *testing.T) {
		base.EXPECT().Sync(gomock.Any(), vfs.SyncUpdate).Return(vfs.NeedsSync())

		err := lockController.Sync(ctx, vfs.SyncUpdate)
		require.True(t, vfs.IsSignal(err, vfs.NeedsSyncSignal))
	})
}

// TestLockControllerLiveness lets two owners access a pair of file
// systems in opposite order. Without backing off, this would deadlock.
func TestLockControllerLiveness(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	models := []*vfs.Model{newTestModel("a.zip"), newTestModel("b.zip")}
	bases := []*mock.MockController{mock.NewMockController(ctrl), mock.NewMockController(ctrl)}
	var lockControllers []vfs.Controller
	for i, base := range bases {
		base.EXPECT().Model().Return(models[i]).AnyTimes()
		lockControllers = append(lockControllers, controller.NewLockController(base, clock.SystemClock, random.FastThreadSafeGenerator, time.Millisecond, 5*time.Millisecond))
	}

	name := vfs.MustNewEntryName("x")
	for i, base := range bases {
		other := lockControllers[1-i]
		base.EXPECT().Mknod(gomock.Any(), vfs.AccessOptions(0), name, vfs.FileEntry, nil).DoAndReturn(
			func(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
				// Hold on to the lock for a while, so that the
				// other owner is likely to acquire its outer
				// lock in the meantime.
				time.Sleep(100 * time.Microsecond)
				_, err := other.Stat(ctx, 0, name)
				return err
			}).AnyTimes()
		base.EXPECT().Stat(gomock.Any(), vfs.AccessOptions(0), name).Return(&vfs.Node{Name: name, Type: vfs.FileEntry}, nil).AnyTimes()
	}

	var wg sync.WaitGroup
	for i := range lockControllers {
		wg.Add(1)
		go func(c vfs.Controller) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, c.Mknod(afs_sync.NewOwnerContext(ctx), 0, name, vfs.FileEntry, nil))
			}
		}(lockControllers[i])
	}
	wg.Wait()
}
