package archive

import (
	"sort"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
)

// CovariantEntry is a named slot of the archive file system. Some
// archive formats permit a file and a directory to be stored under the
// same name, which is why a slot may hold one entry per type. The type
// of the most recently stored entry takes precedence.
//
// If a slot holds a directory, it also holds the names of the
// directory's members.
type CovariantEntry struct {
	name    vfs.EntryName
	entries map[vfs.EntryType]vfs.ArchiveEntry
	head    vfs.EntryType
	members map[string]struct{}
}

func newCovariantEntry(name vfs.EntryName) *CovariantEntry {
	return &CovariantEntry{
		name:    name,
		entries: map[vfs.EntryType]vfs.ArchiveEntry{},
	}
}

// Name of the slot in the archive file system.
func (ce *CovariantEntry) Name() vfs.EntryName {
	return ce.name
}

// Head returns the entry that takes precedence.
func (ce *CovariantEntry) Head() vfs.ArchiveEntry {
	return ce.entries[ce.head]
}

// Get returns the entry of a given type, or nil if the slot does not
// hold one.
func (ce *CovariantEntry) Get(t vfs.EntryType) vfs.ArchiveEntry {
	return ce.entries[t]
}

// IsType returns whether the slot holds an entry of a given type.
func (ce *CovariantEntry) IsType(t vfs.EntryType) bool {
	_, ok := ce.entries[t]
	return ok
}

// Types returns the set of types for which the slot holds entries.
func (ce *CovariantEntry) Types() vfs.EntryTypes {
	var types vfs.EntryTypes
	for t := range ce.entries {
		types |= vfs.NewEntryTypes(t)
	}
	return types
}

// Entries returns all entries of the slot, the head coming last.
func (ce *CovariantEntry) Entries() []vfs.ArchiveEntry {
	entries := make([]vfs.ArchiveEntry, 0, len(ce.entries))
	for _, t := range []vfs.EntryType{vfs.FileEntry, vfs.DirectoryEntry, vfs.SymlinkEntry, vfs.SpecialEntry} {
		if e, ok := ce.entries[t]; ok && t != ce.head {
			entries = append(entries, e)
		}
	}
	if e, ok := ce.entries[ce.head]; ok {
		entries = append(entries, e)
	}
	return entries
}

// Members returns the sorted names of the members of a directory.
func (ce *CovariantEntry) Members() []string {
	members := make([]string, 0, len(ce.members))
	for name := range ce.members {
		members = append(members, name)
	}
	sort.Strings(members)
	return members
}

// MemberCount returns the number of members of a directory.
func (ce *CovariantEntry) MemberCount() int {
	return len(ce.members)
}

// HasMember returns whether a directory has a member with a given name.
func (ce *CovariantEntry) HasMember(name string) bool {
	_, ok := ce.members[name]
	return ok
}

func (ce *CovariantEntry) put(e vfs.ArchiveEntry) {
	t := e.Type()
	ce.entries[t] = e
	ce.head = t
	if t == vfs.DirectoryEntry && ce.members == nil {
		ce.members = map[string]struct{}{}
	}
}

// addMember returns false if the member was already present.
func (ce *CovariantEntry) addMember(name string) bool {
	if _, ok := ce.members[name]; ok {
		return false
	}
	ce.members[name] = struct{}{}
	return true
}

func (ce *CovariantEntry) removeMember(name string) bool {
	if _, ok := ce.members[name]; !ok {
		return false
	}
	delete(ce.members, name)
	return true
}

func (ce *CovariantEntry) node() *vfs.Node {
	var members []string
	if ce.IsType(vfs.DirectoryEntry) {
		members = ce.Members()
	}
	return vfs.NewNodeFromEntry(ce.name, ce.Types(), ce.Head(), members)
}
