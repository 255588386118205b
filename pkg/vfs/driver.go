package vfs

import (
	"context"
)

// ArchiveDriver implements support for a single archive format. It
// creates sessions that grant entry-level access to the physical
// container of an archive, together with the entries stored in them.
type ArchiveDriver interface {
	// NewEntry creates an entry for a normalized name. The driver
	// may alter the name, for example by appending a slash to
	// directory names. If template is not nil, its properties are
	// copied into the new entry.
	NewEntry(name EntryName, entryType EntryType, template Entry) (ArchiveEntry, error)

	// NewInput opens the archive that can be read from source.
	// Failure indicates that the source does not contain a valid
	// archive of this format.
	NewInput(ctx context.Context, model *Model, options AccessOptions, source InputSocket) (InputSession, error)

	// NewOutput creates an archive that is written to sink. If
	// input is not nil, it is the session from which the content
	// of unmodified entries will be copied.
	NewOutput(model *Model, options AccessOptions, sink OutputSocket, input InputSession) (OutputSession, error)

	// RedundantMetadataSupported and RedundantContentSupported
	// return whether the format can store multiple versions of an
	// entry in one container, with the last one taking precedence.
	RedundantMetadataSupported() bool
	RedundantContentSupported() bool
}

// InputSession provides read access to the entries of an archive.
type InputSession interface {
	// Entries returns all entries, in the order in which they are
	// stored in the archive.
	Entries() []ArchiveEntry
	// Entry looks up an entry by the name used by the driver.
	Entry(name string) ArchiveEntry
	Input(name string) InputSocket
	Close() error
}

// OutputSession provides write access to a new archive. The archive is
// only written to its sink upon Close(). Implementations must leave
// the session intact if Close() fails with a control flow signal, so
// that it may be called again.
type OutputSession interface {
	// Entry looks up an entry that has already been written.
	Entry(name string) ArchiveEntry
	Output(entry ArchiveEntry) OutputSocket
	// Discard removes an entry that was written to the session,
	// because its creation was abandoned. Lookups of its name yield
	// the version written before it, if any.
	Discard(entry ArchiveEntry)
	Close(ctx context.Context) error
	// Abort releases all resources held by the session without
	// writing the archive.
	Abort()
}
