package vfs

// AccessOptions is a bit set of options that may be provided to file
// system operations.
type AccessOptions uint32

const (
	// CreateParents causes missing parent directories to be created.
	CreateParents AccessOptions = 1 << iota
	// Exclusive causes the creation of an entry to fail if an entry
	// with the same name already exists.
	Exclusive
	// Append causes output to be appended to the existing content of
	// an entry.
	Append
	// Cache causes the content of an entry to be cached in a pooled
	// buffer.
	Cache
	// Grow permits redundant data to be appended to an archive
	// instead of rewriting it, if the driver supports it.
	Grow
	// Store requests that an entry is stored without compression.
	Store
	// Compress requests that an entry is compressed.
	Compress
)

// Has returns whether all of the provided options are set.
func (o AccessOptions) Has(options AccessOptions) bool {
	return o&options == options
}

// SyncOptions is a bit set of options that control synchronization.
type SyncOptions uint32

const (
	// AbortChanges discards all pending changes instead of writing
	// them to the backing store.
	AbortChanges SyncOptions = 1 << iota
	// ClearCache discards cached entry content after flushing it.
	ClearCache
	// ForceCloseInput closes input streams that are still open.
	ForceCloseInput
	// ForceCloseOutput closes output streams that are still open.
	ForceCloseOutput
	// WaitCloseIO waits for streams of other owners to be closed
	// before proceeding.
	WaitCloseIO
)

const (
	// SyncOnDemand is used when a synchronization is triggered by an
	// operation that cannot proceed otherwise. It waits for streams
	// of other owners to be closed, and fails if the calling owner
	// has streams open.
	SyncOnDemand = WaitCloseIO
	// SyncUpdate writes all pending changes to the backing store,
	// force closing streams that are still open, while retaining
	// cached content.
	SyncUpdate = ForceCloseInput | ForceCloseOutput
	// SyncUmount is identical to SyncUpdate, except that cached
	// content is discarded as well.
	SyncUmount = SyncUpdate | ClearCache
	// SyncReset discards all pending changes and cached content.
	SyncReset = SyncUmount | AbortChanges
)

// Has returns whether all of the provided options are set.
func (o SyncOptions) Has(options SyncOptions) bool {
	return o&options == options
}
