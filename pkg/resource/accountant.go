package resource

import (
	"context"
	"io"
	"sync"
	"time"

	afs_sync "github.com/buildbarn/bb-archivefs/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// Kind of a resource that is accounted for.
type Kind int

const (
	// InputKind is a stream from which entry content is read.
	InputKind Kind = iota
	// OutputKind is a stream to which entry content is written.
	OutputKind
)

// Resource is the registration of a single open stream.
type Resource struct {
	accountant *Accountant
	owner      *afs_sync.Owner
	kind       Kind
	closer     io.Closer
}

// Accountant keeps track of the streams that are open on a single
// mount point, so that synchronization can wait for them to be closed,
// or close them forcefully.
type Accountant struct {
	clock clock.Clock

	lock      sync.Mutex
	resources map[*Resource]struct{}
	// Closed and replaced every time a resource is released.
	released chan struct{}
}

// NewAccountant creates an Accountant that has no resources
// registered.
func NewAccountant(clock clock.Clock) *Accountant {
	return &Accountant{
		clock:     clock,
		resources: map[*Resource]struct{}{},
		released:  make(chan struct{}),
	}
}

// StartAccounting registers an open stream. The closer is invoked if
// the stream is closed forcefully.
func (a *Accountant) StartAccounting(owner *afs_sync.Owner, kind Kind, closer io.Closer) *Resource {
	r := &Resource{
		accountant: a,
		owner:      owner,
		kind:       kind,
		closer:     closer,
	}
	a.lock.Lock()
	a.resources[r] = struct{}{}
	a.lock.Unlock()
	return r
}

// StopAccounting deregisters a stream. It is safe to call this method
// multiple times.
func (r *Resource) StopAccounting() {
	a := r.accountant
	a.lock.Lock()
	defer a.lock.Unlock()
	if _, ok := a.resources[r]; ok {
		delete(a.resources, r)
		close(a.released)
		a.released = make(chan struct{})
	}
}

// Kind returns the kind of the resource.
func (r *Resource) Kind() Kind {
	return r.kind
}

func (a *Accountant) countsLocked(owner *afs_sync.Owner, kinds []Kind) (total, local int) {
	for r := range a.resources {
		if !containsKind(kinds, r.kind) {
			continue
		}
		total++
		if r.owner == owner {
			local++
		}
	}
	return
}

func containsKind(kinds []Kind, kind Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Counts returns the total number of open resources of the given
// kinds, and the number of them that are owned by a given owner. If no
// kinds are provided, all resources are counted.
func (a *Accountant) Counts(owner *afs_sync.Owner, kinds ...Kind) (total, local int) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.countsLocked(owner, kinds)
}

// AwaitForeignResources waits until all resources of the given kinds
// that remain open are owned by the calling owner. The suspend
// function is called before waiting, and the function it returns after
// waiting has finished. This allows callers to release locks that
// other owners need to close their resources.
//
// A timeout of zero or less causes the wait to be bounded only by the
// context. Counts are returned as observed when the wait finished.
func (a *Accountant) AwaitForeignResources(ctx context.Context, owner *afs_sync.Owner, suspend func() func(), timeout time.Duration, kinds ...Kind) (total, local int) {
	a.lock.Lock()
	total, local = a.countsLocked(owner, kinds)
	if total == local {
		a.lock.Unlock()
		return
	}
	a.lock.Unlock()

	resume := suspend()
	defer resume()

	var timeoutChannel <-chan time.Time
	if timeout > 0 {
		timer, t := a.clock.NewTimer(timeout)
		defer timer.Stop()
		timeoutChannel = t
	}
	for {
		a.lock.Lock()
		total, local = a.countsLocked(owner, kinds)
		released := a.released
		a.lock.Unlock()
		if total == local {
			return
		}
		select {
		case <-released:
		case <-timeoutChannel:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CloseAllResources forcefully closes all resources of the given kinds.
// Errors returned by the closers are passed to an ErrorLogger. The
// number of resources closed is returned.
func (a *Accountant) CloseAllResources(errorLogger util.ErrorLogger, kinds ...Kind) int {
	a.lock.Lock()
	var victims []*Resource
	for r := range a.resources {
		if containsKind(kinds, r.kind) {
			victims = append(victims, r)
		}
	}
	a.lock.Unlock()

	for _, r := range victims {
		if err := r.closer.Close(); err != nil {
			errorLogger.Log(util.StatusWrap(err, "Failed to forcefully close stream"))
		}
		r.StopAccounting()
	}
	return len(victims)
}
