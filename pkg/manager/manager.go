package manager

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-archivefs/pkg/controller"
	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/btree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	managerPrometheusMetrics sync.Once

	managerControllers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildbarn",
			Subsystem: "archivefs",
			Name:      "manager_controllers",
			Help:      "Number of archive file systems that are registered with the manager.",
		})
	managerControllersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "archivefs",
			Name:      "manager_controllers_evicted_total",
			Help:      "Number of archive file systems that were removed from the manager after being unmounted.",
		})
	managerSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "archivefs",
			Name:      "manager_syncs_total",
			Help:      "Number of times an archive file system was synchronized by the manager, by outcome.",
		},
		[]string{"outcome"})
	managerSyncsSuccess = managerSyncs.WithLabelValues("Success")
	managerSyncsWarning = managerSyncs.WithLabelValues("Warning")
	managerSyncsFailure = managerSyncs.WithLabelValues("Failure")

	managerSyncDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "archivefs",
			Name:      "manager_sync_duration_seconds",
			Help:      "Amount of time spent synchronizing all file systems registered with the manager, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		})
)

type registeredController struct {
	controller vfs.Controller
	mountPoint *vfs.MountPoint
	// Root controllers are provided by the caller and are never
	// evicted.
	isRoot bool
}

// Manager owns the controllers of all file systems of a federation,
// keyed by mount point. It creates the controller chain of an archive
// file system upon first use, synchronizes file systems in an order
// that respects their nesting, and forgets about file systems that
// have been unmounted and are no longer in use.
type Manager struct {
	chainConfiguration *controller.ChainConfiguration
	syncConcurrency    int
	clock              clock.Clock
	tracer             trace.Tracer

	lock        sync.Mutex
	controllers *btree.Map[string, *registeredController]
	// Drivers of all chains created, keyed by scheme. These are
	// used to recreate evicted file systems containing the one
	// requested.
	drivers map[string]vfs.ArchiveDriver
}

// NewManager creates a Manager that does not have any file systems
// registered. Synchronization of file systems at the same depth is
// performed concurrently, limited by syncConcurrency.
func NewManager(chainConfiguration *controller.ChainConfiguration, syncConcurrency int, tracerProvider trace.TracerProvider) *Manager {
	managerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(managerControllers)
		prometheus.MustRegister(managerControllersEvicted)
		prometheus.MustRegister(managerSyncs)
		prometheus.MustRegister(managerSyncDurationSeconds)
	})

	if syncConcurrency <= 0 {
		syncConcurrency = 1
	}
	return &Manager{
		chainConfiguration: chainConfiguration,
		syncConcurrency:    syncConcurrency,
		clock:              chainConfiguration.Clock,
		tracer:             tracerProvider.Tracer("github.com/buildbarn/bb-archivefs/pkg/manager"),
		controllers:        btree.NewMap[string, *registeredController](0),
		drivers:            map[string]vfs.ArchiveDriver{},
	}
}

// RegisterRoot registers the controller of a file system that is not
// stored in an archive, such as a directory on the local file system.
func (m *Manager) RegisterRoot(c vfs.Controller) error {
	mountPoint := c.Model().MountPoint()
	if mountPoint.Parent() != nil {
		return status.Errorf(codes.InvalidArgument, "Mount point %s is not a root mount point", mountPoint)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.controllers.Get(mountPoint.Key()); ok {
		return status.Errorf(codes.AlreadyExists, "Mount point %s is already registered", mountPoint)
	}
	m.controllers.Set(mountPoint.Key(), &registeredController{
		controller: c,
		mountPoint: mountPoint,
		isRoot:     true,
	})
	return nil
}

// Controller returns the controller of the archive file system at a
// given mount point, creating it if needed. File systems containing
// the archive that were evicted are created as well, using the driver
// last used for their scheme. The root file system must be registered.
//
// The file system may be evicted as soon as it is synchronized with
// ClearCache. Use Acquire to prevent that.
func (m *Manager) Controller(mountPoint *vfs.MountPoint, driver vfs.ArchiveDriver) (vfs.Controller, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	rc, err := m.getOrCreateLocked(mountPoint, driver)
	if err != nil {
		return nil, err
	}
	return rc.controller, nil
}

func (m *Manager) getOrCreateLocked(mountPoint *vfs.MountPoint, driver vfs.ArchiveDriver) (*registeredController, error) {
	if rc, ok := m.controllers.Get(mountPoint.Key()); ok {
		return rc, nil
	}
	parentMountPoint := mountPoint.Parent()
	if parentMountPoint == nil {
		return nil, status.Errorf(codes.NotFound, "Root mount point %s is not registered", mountPoint)
	}
	parent, ok := m.controllers.Get(parentMountPoint.Key())
	if !ok {
		if parentMountPoint.Parent() == nil {
			return nil, status.Errorf(codes.NotFound, "Root mount point %s is not registered", parentMountPoint)
		}
		parentDriver, ok := m.drivers[parentMountPoint.Scheme()]
		if !ok {
			if parentMountPoint.Scheme() != mountPoint.Scheme() {
				return nil, status.Errorf(codes.NotFound, "Parent mount point %s is not registered, and no driver for scheme %#v is known", parentMountPoint, parentMountPoint.Scheme())
			}
			parentDriver = driver
		}
		var err error
		if parent, err = m.getOrCreateLocked(parentMountPoint, parentDriver); err != nil {
			return nil, err
		}
	}

	model := vfs.NewModel(mountPoint, parent.controller.Model())
	rc := &registeredController{
		controller: controller.NewArchiveControllerChain(model, parent.controller, driver, m.chainConfiguration),
		mountPoint: mountPoint,
	}
	model.SetRegistrar(func() error { return m.reregister(rc) })
	m.controllers.Set(mountPoint.Key(), rc)
	m.drivers[mountPoint.Scheme()] = driver
	managerControllers.Inc()
	return rc, nil
}

// reregister is called before a file system is modified. If the file
// system was evicted in the meantime, it is registered again, together
// with the file systems containing it. This fails if another
// controller has been created for the same mount point since.
func (m *Manager) reregister(rc *registeredController) error {
	if parent := rc.controller.Model().Parent(); parent != nil {
		if err := parent.EnsureRegistered(); err != nil {
			return err
		}
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	key := rc.mountPoint.Key()
	if existing, ok := m.controllers.Get(key); ok {
		if existing == rc {
			return nil
		}
		return status.Errorf(codes.FailedPrecondition, "Mount point %s was evicted, and has been registered again since", rc.mountPoint)
	}
	m.controllers.Set(key, rc)
	managerControllers.Inc()
	return nil
}

// Handle of a file system that is in use. The file system is not
// evicted until the handle is released.
type Handle struct {
	controller vfs.Controller
	released   atomic.Bool
}

// Controller of the file system.
func (h *Handle) Controller() vfs.Controller {
	return h.controller
}

// Release the file system, permitting it to be evicted once
// synchronized. Subsequent calls have no effect.
func (h *Handle) Release() {
	if !h.released.Swap(true) {
		h.controller.Model().Release()
	}
}

// Acquire is identical to Controller, except that the file system is
// not evicted until the returned handle is released.
func (m *Manager) Acquire(mountPoint *vfs.MountPoint, driver vfs.ArchiveDriver) (*Handle, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	rc, err := m.getOrCreateLocked(mountPoint, driver)
	if err != nil {
		return nil, err
	}
	rc.controller.Model().Retain()
	return &Handle{controller: rc.controller}, nil
}

// Controllers returns all registered controllers. Controllers of
// nested file systems are returned before the controllers of the file
// systems that contain them.
func (m *Manager) Controllers() []vfs.Controller {
	m.lock.Lock()
	defer m.lock.Unlock()

	controllers := make([]vfs.Controller, 0, m.controllers.Len())
	m.controllers.Reverse(func(key string, rc *registeredController) bool {
		controllers = append(controllers, rc.controller)
		return true
	})
	return controllers
}

// Len returns the number of registered controllers.
func (m *Manager) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.controllers.Len()
}

// levels returns the registered controllers grouped by the depth of
// their mount point, deepest first.
func (m *Manager) levels() [][]*registeredController {
	m.lock.Lock()
	defer m.lock.Unlock()

	byDepth := map[int][]*registeredController{}
	m.controllers.Reverse(func(key string, rc *registeredController) bool {
		depth := rc.mountPoint.Depth()
		byDepth[depth] = append(byDepth[depth], rc)
		return true
	})
	depths := make([]int, 0, len(byDepth))
	for depth := range byDepth {
		depths = append(depths, depth)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(depths)))
	levels := make([][]*registeredController, 0, len(depths))
	for _, depth := range depths {
		levels = append(levels, byDepth[depth])
	}
	return levels
}

// lockedSyncErrorHandler serializes calls into a SyncErrorHandler that
// is shared by concurrent synchronizations.
type lockedSyncErrorHandler struct {
	lock    sync.Mutex
	handler vfs.SyncErrorHandler
}

func (h *lockedSyncErrorHandler) Warn(err *vfs.SyncError) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.handler.Warn(err)
}

// Sync synchronizes all registered file systems. File systems are
// synchronized level by level, starting with the deepest nested ones,
// so that the content of a nested archive is written into its parent
// before the parent itself is written. Errors do not abort the
// synchronization. They are passed to the handler, after which the
// handler decides on the result.
//
// If ClearCache is provided, file systems that have been synchronized
// successfully and do not contain any other registered file systems
// are removed from the manager afterwards.
func (m *Manager) Sync(ctx context.Context, options vfs.SyncOptions, handler vfs.SyncErrorHandler) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Sync", trace.WithAttributes(
		attribute.Int64("options", int64(options)),
	))
	defer span.End()

	start := m.clock.Now()
	lockedHandler := lockedSyncErrorHandler{handler: handler}
	var synced sync.Map
	for _, level := range m.levels() {
		var group errgroup.Group
		group.SetLimit(m.syncConcurrency)
		for _, rc := range level {
			group.Go(func() error {
				// Every synchronization is performed by a
				// separate owner, as they run concurrently.
				if err := m.syncController(afs_sync.NewOwnerContext(ctx), rc, options); err != nil {
					syncErr := vfs.AsSyncError(rc.mountPoint, err)
					lockedHandler.Warn(syncErr)
					if !syncErr.IsWarning() {
						return nil
					}
				}
				synced.Store(rc.mountPoint.Key(), struct{}{})
				return nil
			})
		}
		group.Wait()
	}
	managerSyncDurationSeconds.Observe(m.clock.Now().Sub(start).Seconds())

	if options.Has(vfs.ClearCache) {
		m.evict(func(key string) bool {
			_, ok := synced.Load(key)
			return ok
		})
	}

	err := handler.Check()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (m *Manager) syncController(ctx context.Context, rc *registeredController, options vfs.SyncOptions) error {
	ctx, span := m.tracer.Start(ctx, "Manager.SyncController", trace.WithAttributes(
		attribute.String("mount_point", rc.mountPoint.String()),
	))
	defer span.End()

	err := rc.controller.Sync(ctx, options)
	if err == nil {
		managerSyncsSuccess.Inc()
		return nil
	}
	span.RecordError(err)
	if syncErr := vfs.AsSyncError(rc.mountPoint, err); syncErr.IsWarning() {
		managerSyncsWarning.Inc()
	} else {
		managerSyncsFailure.Inc()
	}
	return err
}

// evict removes controllers of file systems that have been unmounted,
// unless they are still in use by handles or open streams. As the
// registry is traversed in reverse order, nested file systems are
// considered before the file systems that contain them.
//
// Controllers of evicted file systems that are modified afterwards
// register themselves again.
func (m *Manager) evict(wasSynced func(key string) bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var evicted []string
	hasKeptDescendant := map[string]struct{}{}
	m.controllers.Reverse(func(key string, rc *registeredController) bool {
		model := rc.controller.Model()
		if _, ok := hasKeptDescendant[key]; !ok && !rc.isRoot && wasSynced(key) && !model.Touched() && !model.InUse() {
			evicted = append(evicted, key)
		} else {
			for p := rc.mountPoint.Parent(); p != nil; p = p.Parent() {
				hasKeptDescendant[p.Key()] = struct{}{}
			}
		}
		return true
	})
	for _, key := range evicted {
		m.controllers.Delete(key)
	}
	managerControllers.Sub(float64(len(evicted)))
	managerControllersEvicted.Add(float64(len(evicted)))
}
