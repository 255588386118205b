package archive

import (
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EntryFactory creates the entries stored in an archive file system.
// It is implemented by vfs.ArchiveDriver.
type EntryFactory interface {
	NewEntry(name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) (vfs.ArchiveEntry, error)
}

// TouchListener is notified when an archive file system is mutated for
// the first time.
type TouchListener interface {
	// BeforeTouch is called before the first mutation is applied.
	// Returning an error vetoes the mutation.
	BeforeTouch() error
	// AfterTouch is called after the file system has been marked
	// as touched.
	AfterTouch()
}

// FileSystem is the in-memory directory tree of a single mounted
// archive. It is a pure data structure. It performs no I/O and is not
// safe for concurrent use.
//
// The following invariants hold at all times:
//
//   - The root directory exists.
//   - The parent of every other entry exists and is a directory.
//     Directories that are missing in the archive are synthesized as
//     ghost directories, having unknown timestamps.
//   - The members of a directory are exactly the entries whose
//     parent is that directory.
type FileSystem struct {
	factory     EntryFactory
	clock       clock.Clock
	master      *masterTable
	passthrough []vfs.ArchiveEntry
	readOnly    bool
	touched     bool
	listener    TouchListener
}

func newFileSystem(factory EntryFactory, clock clock.Clock, readOnly bool) *FileSystem {
	return &FileSystem{
		factory:  factory,
		clock:    clock,
		master:   newMasterTable(),
		readOnly: readOnly,
	}
}

// NewEmptyFileSystem creates a file system for a new archive that only
// contains a root directory.
func NewEmptyFileSystem(factory EntryFactory, clock clock.Clock, rootTemplate vfs.Entry) (*FileSystem, error) {
	fs := newFileSystem(factory, clock, false)
	root, err := fs.newRootEntry(rootTemplate)
	if err != nil {
		return nil, err
	}
	ce := newCovariantEntry(vfs.RootEntryName)
	ce.put(root)
	fs.master.add(ce)
	return fs, nil
}

// NewPopulatedFileSystem creates a file system containing all entries
// of an existing archive. Missing parent directories are synthesized
// as ghost directories. Entries whose names cannot be normalized and
// entries of unsupported types are not made visible, but are retained
// so that they can be written to a new archive unmodified.
//
// The root directory is created from rootTemplate, which is typically
// the entry holding the archive in the parent file system.
func NewPopulatedFileSystem(factory EntryFactory, clock clock.Clock, input vfs.InputSession, rootTemplate vfs.Entry, readOnly bool) (*FileSystem, error) {
	fs := newFileSystem(factory, clock, readOnly)
	for _, ae := range input.Entries() {
		if t := ae.Type(); t != vfs.FileEntry && t != vfs.DirectoryEntry {
			fs.passthrough = append(fs.passthrough, ae)
			continue
		}
		name, err := vfs.NewEntryName(ae.Name())
		if err != nil || (name.IsRoot() && ae.Type() != vfs.DirectoryEntry) {
			fs.passthrough = append(fs.passthrough, ae)
			continue
		}
		if name.IsRoot() {
			// Superseded by the root directory created below.
			continue
		}
		ce := fs.master.get(name)
		if ce == nil {
			ce = newCovariantEntry(name)
			fs.master.add(ce)
		}
		ce.put(ae)
	}

	root, err := fs.newRootEntry(rootTemplate)
	if err != nil {
		return nil, err
	}
	rootEntry := newCovariantEntry(vfs.RootEntryName)
	rootEntry.put(root)
	fs.master.add(rootEntry)

	// Members can only be registered after all entries have been
	// added, as archives may list members before their parents.
	for _, ce := range fs.master.slots() {
		if err := fs.fix(ce.name); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func (fs *FileSystem) fix(name vfs.EntryName) error {
	for !name.IsRoot() {
		parentName, base := name.Split()
		pce := fs.master.get(parentName)
		if pce == nil || !pce.IsType(vfs.DirectoryEntry) {
			ghost, err := fs.factory.NewEntry(parentName, vfs.DirectoryEntry, nil)
			if err != nil {
				return err
			}
			for _, t := range vfs.AllAccessTypes {
				ghost.SetTime(t, time.Time{})
			}
			if pce == nil {
				pce = newCovariantEntry(parentName)
				fs.master.add(pce)
			}
			pce.put(ghost)
		}
		if !pce.addMember(base) {
			// Ancestors have already been fixed.
			return nil
		}
		name = parentName
	}
	return nil
}

func (fs *FileSystem) newEntry(name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry, now time.Time) (vfs.ArchiveEntry, error) {
	e, err := fs.factory.NewEntry(name, entryType, template)
	if err != nil {
		return nil, err
	}
	if template == nil {
		e.SetTime(vfs.WriteAccess, now)
	}
	return e, nil
}

func (fs *FileSystem) newRootEntry(template vfs.Entry) (vfs.ArchiveEntry, error) {
	root, err := fs.newEntry(vfs.RootEntryName, vfs.DirectoryEntry, template, fs.clock.Now())
	if err != nil {
		return nil, err
	}
	if t := root.Type(); t != vfs.DirectoryEntry {
		return nil, status.Errorf(codes.Internal, "Root directory was created as an entry of type %s", t)
	}
	return root, nil
}

// IsReadOnly returns whether the file system rejects all mutations.
func (fs *FileSystem) IsReadOnly() bool {
	return fs.readOnly
}

// IsTouched returns whether the file system has been mutated.
func (fs *FileSystem) IsTouched() bool {
	return fs.touched
}

// SetTouchListener registers the listener that is notified when the
// file system is mutated for the first time. Only a single listener
// may be registered. Passing nil unregisters the current listener.
func (fs *FileSystem) SetTouchListener(listener TouchListener) error {
	if listener != nil && fs.listener != nil && fs.listener != listener {
		return status.Error(codes.FailedPrecondition, "A touch listener has already been registered")
	}
	fs.listener = listener
	return nil
}

func (fs *FileSystem) touch() error {
	if fs.readOnly {
		return vfs.NewReadOnlyFileSystemError()
	}
	if !fs.touched {
		if fs.listener != nil {
			if err := fs.listener.BeforeTouch(); err != nil {
				return err
			}
		}
		fs.touched = true
		if fs.listener != nil {
			fs.listener.AfterTouch()
		}
	}
	return nil
}

// Touch marks the file system as mutated, even though none of its
// entries changed. This causes a new archive to be written, even if it
// remains empty.
func (fs *FileSystem) Touch() error {
	return fs.touch()
}

// Lookup returns the slot of an entry, or nil if it does not exist.
// The slot must not be modified.
func (fs *FileSystem) Lookup(name vfs.EntryName) *CovariantEntry {
	return fs.master.get(name)
}

// Stat returns a snapshot of an entry.
func (fs *FileSystem) Stat(name vfs.EntryName) (*vfs.Node, error) {
	ce := fs.master.get(name)
	if ce == nil {
		return nil, vfs.NewNotFoundError(name)
	}
	return ce.node(), nil
}

// CheckAccess returns an error if an entry does not exist, or if write
// access is requested to an entry of a read-only file system.
func (fs *FileSystem) CheckAccess(name vfs.EntryName, types vfs.AccessTypes) error {
	if fs.master.get(name) == nil {
		return vfs.NewNotFoundError(name)
	}
	if types.Contains(vfs.WriteAccess) && fs.readOnly {
		return vfs.NewReadOnlyFileSystemError()
	}
	return nil
}

// SetReadOnly is only permitted on file systems that are read-only in
// their entirety, as archive formats don't store permissions.
func (fs *FileSystem) SetReadOnly(name vfs.EntryName) error {
	if fs.master.get(name) == nil {
		return vfs.NewNotFoundError(name)
	}
	if !fs.readOnly {
		return status.Errorf(codes.Unimplemented, "Entry %#v cannot be made read-only", name.String())
	}
	return nil
}

// SetTime alters timestamps of an entry. The zero time is not a valid
// timestamp.
func (fs *FileSystem) SetTime(name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	ce := fs.master.get(name)
	if ce == nil {
		return vfs.NewNotFoundError(name)
	}
	if fs.readOnly {
		return vfs.NewReadOnlyFileSystemError()
	}

	// Timestamps are either all applied or none of them. Whether an
	// archive format can store a timestamp is only known after
	// attempting to set it, meaning that previous values need to be
	// restored if any of them is rejected.
	e := ce.Head()
	previous := map[vfs.AccessType]time.Time{}
	restore := func() {
		for t, value := range previous {
			e.SetTime(t, value)
		}
	}
	for _, t := range vfs.AllAccessTypes {
		value, ok := times[t]
		if !ok {
			continue
		}
		if value.IsZero() {
			restore()
			return status.Errorf(codes.InvalidArgument, "Cannot set timestamp of entry %#v for access type %d to the zero time", name.String(), t)
		}
		previous[t] = e.Time(t)
		if !e.SetTime(t, value) {
			delete(previous, t)
			restore()
			return status.Errorf(codes.InvalidArgument, "Cannot set timestamp of entry %#v for access type %d", name.String(), t)
		}
	}
	if err := fs.touch(); err != nil {
		restore()
		return err
	}
	return nil
}

type linkSegment struct {
	name  vfs.EntryName
	base  string
	entry vfs.ArchiveEntry
}

// PendingLink is a validated, but not yet applied creation of an entry
// and any missing parent directories. It is returned by Mknod(), after
// which Commit() must be called to apply the change.
type PendingLink struct {
	fs *FileSystem
	// Segments to link, the entry itself coming first and the
	// topmost missing parent directory coming last.
	segments []linkSegment
	parent   *CovariantEntry
}

// Mknod validates the creation of an entry. If the CreateParents
// option is set, missing parent directories are created as well. An
// existing file may be replaced by a file, unless the Exclusive option
// is set.
func (fs *FileSystem) Mknod(name vfs.EntryName, entryType vfs.EntryType, options vfs.AccessOptions, template vfs.Entry) (*PendingLink, error) {
	if entryType != vfs.FileEntry && entryType != vfs.DirectoryEntry {
		return nil, vfs.NewUnsupportedEntryTypeError(name, entryType)
	}
	if fs.readOnly {
		return nil, vfs.NewReadOnlyFileSystemError()
	}
	if name.IsRoot() {
		return nil, vfs.NewAlreadyExistsError(name)
	}
	if old := fs.master.get(name); old != nil {
		if !old.IsType(vfs.FileEntry) || entryType != vfs.FileEntry || options.Has(vfs.Exclusive) {
			return nil, vfs.NewAlreadyExistsError(name)
		}
	}

	now := fs.clock.Now()
	e, err := fs.newEntry(name, entryType, template, now)
	if err != nil {
		return nil, err
	}
	parentName, base := name.Split()
	link := &PendingLink{
		fs:       fs,
		segments: []linkSegment{{name: name, base: base, entry: e}},
	}
	for {
		if pce := fs.master.get(parentName); pce != nil {
			if !pce.IsType(vfs.DirectoryEntry) {
				return nil, vfs.NewNotDirectoryError(parentName)
			}
			link.parent = pce
			return link, nil
		}
		if !options.Has(vfs.CreateParents) {
			return nil, vfs.NewMissingParentError(name)
		}
		directory, err := fs.newEntry(parentName, vfs.DirectoryEntry, nil, now)
		if err != nil {
			return nil, err
		}
		var parentBase string
		missingName := parentName
		parentName, parentBase = parentName.Split()
		link.segments = append(link.segments, linkSegment{name: missingName, base: parentBase, entry: directory})
	}
}

// Entry returns the entry that is created by the link.
func (l *PendingLink) Entry() vfs.ArchiveEntry {
	return l.segments[0].entry
}

// Commit applies the creation of the entry and its parent directories.
// The modification time of every parent directory that gains a member
// is set to the current time, except for ghost directories.
func (l *PendingLink) Commit() error {
	fs := l.fs
	if err := fs.touch(); err != nil {
		return err
	}
	now := fs.clock.Now()
	parent := l.parent
	for i := len(l.segments) - 1; i >= 0; i-- {
		segment := l.segments[i]
		ce := fs.master.get(segment.name)
		if ce == nil {
			ce = newCovariantEntry(segment.name)
			fs.master.add(ce)
		}
		ce.put(segment.entry)
		if parent.addMember(segment.base) {
			stampDirectory(parent, now)
		}
		parent = ce
	}
	return nil
}

func stampDirectory(ce *CovariantEntry, now time.Time) {
	if directory := ce.Get(vfs.DirectoryEntry); !directory.Time(vfs.WriteAccess).IsZero() {
		directory.SetTime(vfs.WriteAccess, now)
	}
}

// Unlink removes an entry. Directories can only be removed if they are
// empty. Unlinking the root directory only tests whether it is empty,
// as removing the archive itself is the responsibility of the caller.
//
// The sizes and timestamps of the removed entry are reset, signaling to
// drivers that the entry must not be persisted, even if it has already
// been written to an output session.
func (fs *FileSystem) Unlink(name vfs.EntryName) error {
	ce := fs.master.get(name)
	if ce == nil {
		return vfs.NewNotFoundError(name)
	}
	if ce.IsType(vfs.DirectoryEntry) && ce.MemberCount() > 0 {
		return vfs.NewDirectoryNotEmptyError(name)
	}
	if name.IsRoot() {
		return nil
	}
	if err := fs.touch(); err != nil {
		return err
	}

	fs.master.remove(name)
	for _, e := range ce.Entries() {
		e.SetSize(vfs.DataSize, vfs.UnknownSize)
		e.SetSize(vfs.StorageSize, vfs.UnknownSize)
		for _, t := range vfs.AllAccessTypes {
			e.SetTime(t, time.Time{})
		}
	}
	parentName, base := name.Split()
	parent := fs.master.get(parentName)
	parent.removeMember(base)
	stampDirectory(parent, fs.clock.Now())
	return nil
}

// Slots returns all slots of the file system, in the order in which
// they were added.
func (fs *FileSystem) Slots() []*CovariantEntry {
	return fs.master.slots()
}

// Len returns the number of slots, including the root directory.
func (fs *FileSystem) Len() int {
	return fs.master.len()
}

// Passthrough returns entries of the original archive that are not
// visible, but need to be retained when writing a new archive.
func (fs *FileSystem) Passthrough() []vfs.ArchiveEntry {
	return fs.passthrough
}
