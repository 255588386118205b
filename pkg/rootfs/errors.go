package rootfs

import (
	"errors"
	"io/fs"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// convertError translates errors returned by the operating system to
// the errors that are used by all file systems.
func convertError(name vfs.EntryName, err error, operation string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return vfs.NewNotFoundError(name)
	case isDirectoryNotEmpty(err):
		// Needs to be tested first, as fs.ErrExist also
		// matches ENOTEMPTY.
		return vfs.NewDirectoryNotEmptyError(name)
	case errors.Is(err, fs.ErrExist):
		return vfs.NewAlreadyExistsError(name)
	case isNotDirectory(err):
		return vfs.NewNotDirectoryError(name)
	case errors.Is(err, fs.ErrPermission):
		return util.StatusWrapWithCode(err, codes.PermissionDenied, "Failed to "+operation)
	default:
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to "+operation)
	}
}

func newRootRemovalError() error {
	return status.Error(codes.PermissionDenied, "The root directory of a file system cannot be removed")
}

func newCreationTimeError(name vfs.EntryName) error {
	return status.Errorf(codes.InvalidArgument, "Cannot alter the creation time of entry %#v", name.String())
}
