//go:build unix

package rootfs

import (
	"errors"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"golang.org/x/sys/unix"
)

// checkAccess uses access(2), so that access control lists and
// read-only mounts are taken into account.
func checkAccess(name vfs.EntryName, path string, types vfs.AccessTypes) error {
	var mode uint32
	if types.Contains(vfs.ReadAccess) {
		mode |= unix.R_OK
	}
	if types.Contains(vfs.WriteAccess) {
		mode |= unix.W_OK
	}
	if types.Contains(vfs.ExecuteAccess) {
		mode |= unix.X_OK
	}
	if mode == 0 {
		mode = unix.F_OK
	}
	if err := unix.Access(path, mode); err != nil {
		return convertError(name, err, "check access")
	}
	return nil
}

// getTimes returns the access and modification times of an entry,
// without following symbolic links.
func getTimes(path string) (time.Time, time.Time, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return time.Unix(st.Atim.Unix()), time.Unix(st.Mtim.Unix()), nil
}

// setReadOnly clears all write permission bits of an entry.
func setReadOnly(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return err
	}
	return unix.Chmod(path, uint32(st.Mode)&0o7777&^0o222)
}

func isDirectoryNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY)
}

func isNotDirectory(err error) bool {
	return errors.Is(err, unix.ENOTDIR)
}
