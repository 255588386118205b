package vfs

import (
	"time"
)

// EntryType is the type of an entry in a file system.
type EntryType int

const (
	// FileEntry is a regular file.
	FileEntry EntryType = iota
	// DirectoryEntry is a directory.
	DirectoryEntry
	// SymlinkEntry is a symbolic link. It is not supported by the
	// archive file system.
	SymlinkEntry
	// SpecialEntry is any other kind of entry, such as a device
	// node. It is not supported by the archive file system.
	SpecialEntry
)

func (t EntryType) String() string {
	switch t {
	case FileEntry:
		return "FILE"
	case DirectoryEntry:
		return "DIRECTORY"
	case SymlinkEntry:
		return "SYMLINK"
	case SpecialEntry:
		return "SPECIAL"
	default:
		return "UNKNOWN"
	}
}

// EntryTypes is a set of entry types.
type EntryTypes uint8

// NewEntryTypes creates a set of entry types.
func NewEntryTypes(types ...EntryType) EntryTypes {
	var s EntryTypes
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

// Contains returns whether the set contains an entry type.
func (s EntryTypes) Contains(t EntryType) bool {
	return s&(1<<t) != 0
}

// SizeType selects which size of an entry is requested.
type SizeType int

const (
	// DataSize is the size of the entry's content when read.
	DataSize SizeType = iota
	// StorageSize is the size of the entry as stored in its
	// container, which may differ due to compression.
	StorageSize
)

// UnknownSize is reported for sizes that are not known, such as the
// size of an entry that has been unlinked.
const UnknownSize int64 = -1

// AccessType enumerates the kinds of access to an entry. It is used
// both to select timestamps and to test permissions.
type AccessType int

const (
	// ReadAccess relates to reading an entry.
	ReadAccess AccessType = iota
	// WriteAccess relates to modifying an entry.
	WriteAccess
	// ExecuteAccess relates to executing an entry.
	ExecuteAccess
	// CreateAccess relates to the creation of an entry.
	CreateAccess
)

// AllAccessTypes lists every access type, in a stable order.
var AllAccessTypes = []AccessType{ReadAccess, WriteAccess, ExecuteAccess, CreateAccess}

// AccessTypes is a set of access types.
type AccessTypes uint8

// NewAccessTypes creates a set of access types.
func NewAccessTypes(types ...AccessType) AccessTypes {
	var s AccessTypes
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

// Contains returns whether the set contains an access type.
func (s AccessTypes) Contains(t AccessType) bool {
	return s&(1<<t) != 0
}

// Entry is the read-only view of a single entry, as reported by file
// systems and accepted as a template when creating new entries.
// Timestamps that are not known are returned as the zero time.
type Entry interface {
	Name() string
	Type() EntryType
	Size(t SizeType) int64
	Time(t AccessType) time.Time
}

// ArchiveEntry is a member of an archive, as produced and consumed by
// an ArchiveDriver. Setters return false if the archive format is not
// capable of storing the value.
type ArchiveEntry interface {
	Entry

	SetSize(t SizeType, size int64) bool
	SetTime(t AccessType, value time.Time) bool
}
