package vfs

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewNotFoundError returns the error for entries that do not exist.
func NewNotFoundError(name EntryName) error {
	return status.Errorf(codes.NotFound, "Entry %#v does not exist", name.String())
}

// NewMissingParentError returns the error for entries that cannot be
// created, because their parent directory does not exist.
func NewMissingParentError(name EntryName) error {
	return status.Errorf(codes.NotFound, "Parent directory of entry %#v does not exist", name.String())
}

// NewAlreadyExistsError returns the error for entries that cannot be
// created, because they already exist.
func NewAlreadyExistsError(name EntryName) error {
	return status.Errorf(codes.AlreadyExists, "Entry %#v already exists", name.String())
}

// NewNotDirectoryError returns the error for entries that are expected
// to be directories, but are not.
func NewNotDirectoryError(name EntryName) error {
	return status.Errorf(codes.FailedPrecondition, "Entry %#v is not a directory", name.String())
}

// NewNotFileError returns the error for entries that are expected to
// be files, but are not.
func NewNotFileError(name EntryName) error {
	return status.Errorf(codes.FailedPrecondition, "Entry %#v is not a file", name.String())
}

// NewDirectoryNotEmptyError returns the error for directories that
// cannot be removed, because they still have members.
func NewDirectoryNotEmptyError(name EntryName) error {
	return status.Errorf(codes.FailedPrecondition, "Directory %#v is not empty", name.String())
}

// NewReadOnlyFileSystemError returns the error for mutations of a file
// system that is read-only.
func NewReadOnlyFileSystemError() error {
	return status.Error(codes.PermissionDenied, "File system is read-only")
}

// NewUnsupportedEntryTypeError returns the error for entry types that
// a file system cannot store.
func NewUnsupportedEntryTypeError(name EntryName, entryType EntryType) error {
	return status.Errorf(codes.InvalidArgument, "Entry %#v has unsupported type %s", name.String(), entryType)
}

// NewCharsetError returns the error for entry names that cannot be
// represented by the character set of an archive format.
func NewCharsetError(name, charset string) error {
	return status.Errorf(codes.InvalidArgument, "Entry name %#v cannot be encoded using character set %s", name, charset)
}

// NewResourceOpenError returns the error for synchronizations that
// cannot proceed, because streams are still open.
func NewResourceOpenError(local, total int) error {
	return status.Errorf(codes.FailedPrecondition, "%d stream(s) still open, of which %d opened by the calling owner", total, local)
}

// NewResourceClosedError returns the error for stream operations that
// were invoked after the stream was closed.
func NewResourceClosedError() error {
	return status.Error(codes.Canceled, "Stream has been closed")
}
