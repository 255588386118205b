//go:build !unix

package rootfs

import (
	"os"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func checkAccess(name vfs.EntryName, path string, types vfs.AccessTypes) error {
	fi, err := os.Stat(path)
	if err != nil {
		return convertError(name, err, "check access")
	}
	if types.Contains(vfs.WriteAccess) && fi.Mode().Perm()&0o200 == 0 {
		return status.Errorf(codes.PermissionDenied, "Entry %#v is not writable", name.String())
	}
	return nil
}

// getTimes returns the modification time of an entry for both times,
// as the access time is not exposed portably.
func getTimes(path string) (time.Time, time.Time, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return fi.ModTime(), fi.ModTime(), nil
}

func setReadOnly(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, fi.Mode().Perm()&^0o222)
}

func isDirectoryNotEmpty(err error) bool {
	return false
}

func isNotDirectory(err error) bool {
	return false
}
