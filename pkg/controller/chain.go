package controller

import (
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/cache"
	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/resource"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// ChainConfiguration contains the parameters that are shared by all
// controllers of an archive file system.
type ChainConfiguration struct {
	Clock           clock.Clock
	RandomGenerator random.ThreadSafeGenerator
	ErrorLogger     util.ErrorLogger
	FilePool        pool.FilePool
	CacheStrategy   cache.Strategy

	// Maximum amount of time to wait for a lock while already
	// holding another.
	LockTimeout time.Duration
	// Upper bound of the random delay before retrying an operation
	// that failed due to lock contention.
	MaximumBackoff time.Duration
	// Maximum amount of time a synchronization waits for streams of
	// other owners to be closed, unless WaitCloseIO is provided.
	ForeignResourceWaitTimeout time.Duration
}

// NewArchiveControllerChain creates the chain of controllers that
// provides access to an archive file system, stored as an entry in the
// parent file system.
func NewArchiveControllerChain(model *vfs.Model, parent vfs.Controller, driver vfs.ArchiveDriver, configuration *ChainConfiguration) vfs.Controller {
	return NewFalsePositiveController(
		NewFinalizeController(
			NewLockController(
				NewSyncController(
					NewCacheController(
						NewResourceController(
							NewTargetArchiveController(model, parent, driver, configuration.Clock),
							resource.NewAccountant(configuration.Clock),
							configuration.Clock,
							configuration.LockTimeout,
							configuration.ForeignResourceWaitTimeout,
							configuration.ErrorLogger),
						configuration.FilePool,
						configuration.CacheStrategy,
						configuration.ErrorLogger),
					configuration.ErrorLogger),
				configuration.Clock,
				configuration.RandomGenerator,
				configuration.LockTimeout,
				configuration.MaximumBackoff),
			configuration.ErrorLogger),
		parent)
}
